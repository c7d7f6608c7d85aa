package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinquery/clinquery/internal/completion"
	"github.com/clinquery/clinquery/internal/schema"
)

type Modality string

const (
	ModalityText  Modality = "text"
	ModalityVoice Modality = "voice"
)

type Question struct {
	Text      string    `json:"text"`
	ArrivedAt time.Time `json:"arrived_at"`
	Modality  Modality  `json:"modality"`
}

func NewQuestion(text string, modality Modality, now time.Time) Question {
	if modality == "" {
		modality = ModalityText
	}
	return Question{Text: strings.TrimSpace(text), ArrivedAt: now.UTC(), Modality: modality}
}

// CandidateQuery is an untrusted statement proposed by the model.
type CandidateQuery struct {
	SQL       string `json:"sql"`
	Rationale string `json:"rationale"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

// HistoryItem is the slice of a prior turn fed back for follow-up questions.
type HistoryItem struct {
	Question string
	SQL      string
}

const RationaleUnavailable = "Query explanation unavailable."

type SynthesisError struct {
	Kind completion.ErrorKind
	Err  error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("query synthesis failed (%s): %v", e.Kind, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

type Config struct {
	Temperature  float64
	MaxTokens    int
	HistoryTurns int
	SampleRows   int
}

type Synthesizer struct {
	completer completion.Completer
	cfg       Config
}

func NewSynthesizer(completer completion.Completer, cfg Config) (*Synthesizer, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	}
	return &Synthesizer{completer: completer, cfg: cfg}, nil
}

// Synthesize makes one completion call and extracts a candidate statement. A
// response without a statement yields an empty SQL text, not an error.
func (s *Synthesizer) Synthesize(ctx context.Context, question Question, descriptor schema.Descriptor, history []HistoryItem) (CandidateQuery, error) {
	req := completion.Request{
		Purpose:     completion.PurposeSynthesis,
		System:      BuildSystemPrompt(descriptor, recentHistory(history, s.cfg.HistoryTurns), s.cfg.SampleRows),
		User:        BuildUserPrompt(question),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}
	resp, err := s.completer.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return CandidateQuery{}, err
		}
		kind := completion.KindUnavailable
		var serviceErr *completion.ServiceError
		if errors.As(err, &serviceErr) {
			kind = serviceErr.Kind
		}
		return CandidateQuery{}, &SynthesisError{Kind: kind, Err: err}
	}

	statement, _ := ExtractStatement(resp.Text)
	rationale := ExtractRationale(resp.Text)
	if rationale == "" {
		rationale = RationaleUnavailable
	}
	provider := resp.Provider
	if provider == "" {
		provider = s.completer.Provider()
	}
	model := resp.Model
	if model == "" {
		model = s.completer.Model()
	}
	return CandidateQuery{
		SQL:       statement,
		Rationale: rationale,
		Provider:  provider,
		Model:     model,
	}, nil
}

func recentHistory(history []HistoryItem, n int) []HistoryItem {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return history
}
