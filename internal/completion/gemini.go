package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const ProviderGemini = "gemini"

type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// generator issues one GenerateContent call for a request.
type generator interface {
	generate(ctx context.Context, model string, req Request) (*genai.GenerateContentResponse, error)
	Close() error
}

type Gemini struct {
	gen     generator
	model   string
	timeout time.Duration
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(cfg.APIKey)))
	if err != nil {
		return nil, fmt.Errorf("initialize gemini client: %w", err)
	}
	return newGemini(genaiGenerator{client: client}, cfg), nil
}

func newGemini(gen generator, cfg GeminiConfig) *Gemini {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash-exp"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gemini{gen: gen, model: model, timeout: timeout}
}

func (g *Gemini) Provider() string { return ProviderGemini }

func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Close() error {
	return g.gen.Close()
}

func (g *Gemini) Complete(ctx context.Context, req Request) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.gen.generate(callCtx, g.model, req)
	if err != nil {
		if ctxErr := classifyContextError(callCtx, ProviderGemini, err); ctxErr != nil {
			return Response{}, ctxErr
		}
		return Response{}, classifyGeminiError(err)
	}
	text, err := geminiText(resp)
	if err != nil {
		return Response{}, newServiceError(ProviderGemini, KindMalformedResponse, err)
	}
	return Response{Text: text, Provider: ProviderGemini, Model: g.model}, nil
}

type genaiGenerator struct {
	client *genai.Client
}

func (g genaiGenerator) generate(ctx context.Context, name string, req Request) (*genai.GenerateContentResponse, error) {
	model := g.client.GenerativeModel(name)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	return model.GenerateContent(ctx, genai.Text(req.User))
}

func (g genaiGenerator) Close() error {
	return g.client.Close()
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no response candidates")
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return "", fmt.Errorf("response candidate has no content")
	}
	var b strings.Builder
	for _, part := range content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("unexpected response part type: %T", content.Parts[0])
	}
	return b.String(), nil
}

func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return newServiceError(ProviderGemini, KindQuotaExceeded, err)
		case apiErr.Code == http.StatusGatewayTimeout || apiErr.Code == http.StatusRequestTimeout:
			return newServiceError(ProviderGemini, KindTimeout, err)
		}
		return newServiceError(ProviderGemini, KindUnavailable, err)
	}
	if isRateLimitMessage(err.Error()) {
		return newServiceError(ProviderGemini, KindQuotaExceeded, err)
	}
	return newServiceError(ProviderGemini, KindUnavailable, err)
}

func isRateLimitMessage(message string) bool {
	message = strings.ToLower(message)
	for _, marker := range []string{"rate limit", "quota", "resource exhausted", "resourceexhausted"} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
