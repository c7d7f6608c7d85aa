package completion

import (
	"context"
	"fmt"

	"github.com/clinquery/clinquery/internal/config"
)

// New builds the configured provider wrapped with latency metrics.
func New(ctx context.Context, cfg config.AIConfig) (Completer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		client, err := NewOpenAI(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		return Metered(client), nil
	case config.ProviderGemini:
		client, err := NewGemini(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		return Metered(client), nil
	case config.ProviderFixture:
		if cfg.FixturePath == "" {
			return Metered(NewFixture(DemoRules(), "")), nil
		}
		fixture, err := LoadFixture(cfg.FixturePath)
		if err != nil {
			return nil, err
		}
		return Metered(fixture), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
}
