package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ProviderOpenAI = "openai"

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4-turbo-preview"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (o *OpenAI) Provider() string { return ProviderOpenAI }

func (o *OpenAI) Model() string { return o.model }

func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(buildOpenAIPayload(o.model, req))
	if err != nil {
		return Response{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if ctxErr := classifyContextError(ctx, ProviderOpenAI, err); ctxErr != nil {
			return Response{}, ctxErr
		}
		if isTimeout(err) {
			return Response{}, newServiceError(ProviderOpenAI, KindTimeout, err)
		}
		return Response{}, newServiceError(ProviderOpenAI, KindUnavailable, fmt.Errorf("request chat completion: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := classifyContextError(ctx, ProviderOpenAI, err); ctxErr != nil {
			return Response{}, ctxErr
		}
		return Response{}, newServiceError(ProviderOpenAI, KindUnavailable, fmt.Errorf("read chat response body: %w", err))
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Response{}, newServiceError(ProviderOpenAI, KindQuotaExceeded, fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(rawRespBody)))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return Response{}, newServiceError(ProviderOpenAI, KindTimeout, fmt.Errorf("status=%d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return Response{}, newServiceError(ProviderOpenAI, KindUnavailable, fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(rawRespBody)))
	case resp.StatusCode >= 400:
		return Response{}, newServiceError(ProviderOpenAI, KindUnavailable, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, truncate(rawRespBody)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Response{}, newServiceError(ProviderOpenAI, KindMalformedResponse, fmt.Errorf("decode chat completion response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return Response{}, newServiceError(ProviderOpenAI, KindMalformedResponse, fmt.Errorf("empty chat completion choices"))
	}
	return Response{
		Text:     parsed.Choices[0].Message.Content,
		Provider: ProviderOpenAI,
		Model:    o.model,
	}, nil
}

func buildOpenAIPayload(model string, req Request) map[string]any {
	messages := make([]map[string]string, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.User})

	payload := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	return payload
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
