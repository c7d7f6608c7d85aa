package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/clinquery/clinquery/internal/observability"
)

const (
	PurposeSynthesis   = "synthesis"
	PurposeComposition = "composition"
)

type Request struct {
	Purpose     string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Text     string
	Provider string
	Model    string
}

// Completer is a request/response text-completion capability.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Provider() string
	Model() string
}

type ErrorKind string

const (
	KindUnavailable       ErrorKind = "unavailable"
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindTimeout           ErrorKind = "timeout"
	KindMalformedResponse ErrorKind = "malformed_response"
)

type ServiceError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s completion %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s completion %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same call could succeed.
func (e *ServiceError) Retryable() bool {
	switch e.Kind {
	case KindUnavailable, KindQuotaExceeded, KindTimeout:
		return true
	default:
		return false
	}
}

func newServiceError(provider string, kind ErrorKind, err error) *ServiceError {
	return &ServiceError{Provider: provider, Kind: kind, Err: err}
}

// classifyContextError maps caller-side cancellation and deadlines onto the
// taxonomy. Cancellation is returned unchanged so callers can discard the turn.
func classifyContextError(ctx context.Context, provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newServiceError(provider, KindTimeout, err)
	}
	return nil
}

type metered struct {
	Completer
}

// Metered records call latency for every completion made through c.
func Metered(c Completer) Completer {
	if c == nil {
		return nil
	}
	return metered{Completer: c}
}

// Close releases the wrapped provider's client when it holds one.
func (m metered) Close() error {
	if closer, ok := m.Completer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (m metered) Complete(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := m.Completer.Complete(ctx, req)
	observability.ObserveCompletion(m.Provider(), req.Purpose, err, time.Since(start))
	return resp, err
}
