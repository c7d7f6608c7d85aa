package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/clinquery/clinquery/internal/completion"
	"github.com/clinquery/clinquery/internal/observability"
)

type OpenAIConfig struct {
	BaseURL            string
	APIKey             string
	TranscriptionModel string
	SpeechModel        string
	DefaultVoice       string
	Language           string
	Timeout            time.Duration
}

// OpenAI implements both Transcriber and Speaker against the audio endpoints.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = "tts-1"
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "alloy"
	}
	if !ValidVoice(cfg.DefaultVoice) {
		return nil, fmt.Errorf("unsupported default voice %q", cfg.DefaultVoice)
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAI{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (o *OpenAI) Transcribe(ctx context.Context, audio Audio) (text string, err error) {
	start := time.Now()
	defer func() {
		observability.ObserveCompletion(completion.ProviderOpenAI, PurposeTranscription, err, time.Since(start))
	}()

	if len(audio.Data) == 0 {
		return "", fmt.Errorf("audio is required")
	}
	format, err := normalizeFormat(audio.Format)
	if err != nil {
		return "", err
	}
	filename := audio.Filename
	if filename == "" {
		filename = "question." + format
	}

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(audio.Data); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	for field, value := range map[string]string{
		"model":           o.cfg.TranscriptionModel,
		"language":        o.cfg.Language,
		"response_format": "json",
	} {
		if err := form.WriteField(field, value); err != nil {
			return "", fmt.Errorf("write %s field: %w", field, err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	raw, err := o.post(ctx, "/v1/audio/transcriptions", form.FormDataContentType(), body)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", serviceError(completion.KindMalformedResponse, fmt.Errorf("decode transcription response: %w", err))
	}
	return strings.TrimSpace(parsed.Text), nil
}

func (o *OpenAI) Speak(ctx context.Context, text, voice string) (audio []byte, err error) {
	start := time.Now()
	defer func() {
		observability.ObserveCompletion(completion.ProviderOpenAI, PurposeSpeech, err, time.Since(start))
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	voice = strings.ToLower(strings.TrimSpace(voice))
	if voice == "" {
		voice = o.cfg.DefaultVoice
	}
	if !ValidVoice(voice) {
		return nil, fmt.Errorf("unsupported voice %q", voice)
	}

	payload, err := json.Marshal(map[string]string{
		"model":           o.cfg.SpeechModel,
		"voice":           voice,
		"input":           text,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal speech payload: %w", err)
	}
	audio, err = o.post(ctx, "/v1/audio/speech", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, serviceError(completion.KindMalformedResponse, fmt.Errorf("empty speech response"))
	}
	return audio, nil
}

func (o *OpenAI) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build audio request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		var t interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &t) && t.Timeout()) {
			return nil, serviceError(completion.KindTimeout, err)
		}
		return nil, serviceError(completion.KindUnavailable, fmt.Errorf("request %s: %w", path, err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, serviceError(completion.KindUnavailable, fmt.Errorf("read %s response: %w", path, err))
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, serviceError(completion.KindQuotaExceeded, fmt.Errorf("status=%d", resp.StatusCode))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, serviceError(completion.KindTimeout, fmt.Errorf("status=%d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, serviceError(completion.KindUnavailable, fmt.Errorf("%s failed status=%d body=%s", path, resp.StatusCode, clip(raw)))
	}
	return raw, nil
}

func serviceError(kind completion.ErrorKind, err error) *completion.ServiceError {
	return &completion.ServiceError{Provider: completion.ProviderOpenAI, Kind: kind, Err: err}
}

func clip(body []byte) string {
	const limit = 256
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
