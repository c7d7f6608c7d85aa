package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/clinquery/clinquery/internal/audit"
	"github.com/clinquery/clinquery/internal/compose"
	"github.com/clinquery/clinquery/internal/ledger"
	"github.com/clinquery/clinquery/internal/nl2sql"
	"github.com/clinquery/clinquery/internal/observability"
	"github.com/clinquery/clinquery/internal/query"
	"github.com/clinquery/clinquery/internal/sanitize"
	"github.com/clinquery/clinquery/internal/schema"
)

var ErrEmptyQuestion = errors.New("question text is required")

const (
	errorKindExecution = "execution"
	errorKindTimeout   = "timeout"
)

// Pipeline runs one turn: synthesize, sanitize, execute, compose, record.
type Pipeline struct {
	Synthesizer  *nl2sql.Synthesizer
	Engine       query.Engine
	Composer     *compose.Composer
	Schema       schema.Descriptor
	Audit        audit.Sink
	Logger       *slog.Logger
	HistoryTurns int
	AuditTimeout time.Duration
	Clock        func() time.Time
}

// now and the accessors below resolve defaults on read. Ask never writes to
// the Pipeline, so one value serves every session concurrently.
func (p *Pipeline) now() time.Time {
	if p.Clock == nil {
		return time.Now()
	}
	return p.Clock()
}

func (p *Pipeline) auditSink() audit.Sink {
	if p.Audit == nil {
		return audit.Nop{}
	}
	return p.Audit
}

func (p *Pipeline) auditTimeout() time.Duration {
	if p.AuditTimeout <= 0 {
		return 5 * time.Second
	}
	return p.AuditTimeout
}

func (p *Pipeline) historyTurns() int {
	if p.HistoryTurns < 0 {
		return 0
	}
	return p.HistoryTurns
}

// Ask runs a turn and appends exactly one ledger entry for it. Turn failures
// are recorded on the entry and do not return an error. A cancelled turn
// appends nothing and returns the context error.
func (p *Pipeline) Ask(ctx context.Context, s *Session, question nl2sql.Question) (ledger.Entry, error) {
	if question.Text == "" {
		return ledger.Entry{}, ErrEmptyQuestion
	}
	if err := s.acquire(ctx); err != nil {
		return ledger.Entry{}, err
	}
	defer s.release()

	start := p.now()
	entry, err := p.run(ctx, s, question)
	if err != nil {
		observability.ForContext(ctx, p.Logger).InfoContext(ctx, "turn abandoned", slog.String("session_id", s.ID), slog.Any("error", err))
		return ledger.Entry{}, err
	}
	if cancelled(ctx) {
		return ledger.Entry{}, context.Canceled
	}

	entry.CompletedAt = p.now().UTC()
	entry = s.Ledger.Append(entry)
	elapsed := p.now().Sub(start)
	observability.ObserveTurn(string(entry.Outcome), string(question.Modality), elapsed)
	p.record(ctx, entry)
	p.logTurn(ctx, entry, elapsed)
	return entry, nil
}

func (p *Pipeline) run(ctx context.Context, s *Session, question nl2sql.Question) (ledger.Entry, error) {
	entry := ledger.Entry{Question: question}

	candidate, err := p.Synthesizer.Synthesize(ctx, question, p.Schema, s.Ledger.History(p.historyTurns()))
	if err != nil {
		if cancelled(ctx) || errors.Is(err, context.Canceled) {
			return ledger.Entry{}, context.Canceled
		}
		entry.Outcome = ledger.OutcomeSynthesisFailed
		entry.Error = err.Error()
		entry.ErrorKind = synthesisKind(err)
		return entry, nil
	}
	entry.Candidate = &candidate

	verdict := sanitize.Sanitize(candidate, p.Schema)
	entry.Verdict = &verdict
	if !verdict.Accepted() {
		observability.IncrementRejection(string(verdict.Reason))
		entry.Outcome = ledger.OutcomeRejected
		entry.Error = verdict.Err().Error()
		entry.ErrorKind = string(verdict.Reason)
		return entry, nil
	}

	result, err := p.Engine.Execute(ctx, query.Request{SQL: verdict.SQL})
	if err != nil {
		if cancelled(ctx) || errors.Is(err, context.Canceled) {
			return ledger.Entry{}, context.Canceled
		}
		var execErr *query.ExecutionError
		if !errors.As(err, &execErr) {
			execErr = &query.ExecutionError{Message: err.Error(), SQL: verdict.SQL, Err: err}
		}
		entry.Outcome = ledger.OutcomeExecutionFailed
		entry.ExecutionError = execErr
		entry.Error = execErr.Error()
		entry.ErrorKind = errorKindExecution
		if execErr.Timeout {
			entry.ErrorKind = errorKindTimeout
		}
		return entry, nil
	}
	observability.ObserveExecution(result.RowCount, result.Truncated, result.Duration)
	entry.Result = &result

	answer := p.Composer.Compose(ctx, question, result)
	if cancelled(ctx) {
		return ledger.Entry{}, context.Canceled
	}
	entry.Answer = answer.Text
	entry.AnswerSource = answer.Source
	if answer.Err != nil {
		entry.CompositionError = answer.Err.Error()
	}
	entry.Outcome = ledger.OutcomeAnswered
	return entry, nil
}

// record writes the entry to the audit sink. The write outlives a cancelled
// request because the entry is already part of the ledger.
func (p *Pipeline) record(ctx context.Context, entry ledger.Entry) {
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.auditTimeout())
	defer cancel()
	if err := p.auditSink().RecordTurn(auditCtx, entry); err != nil {
		observability.ForContext(ctx, p.Logger).WarnContext(ctx, "turn audit failed",
			slog.String("session_id", entry.SessionID),
			slog.Int64("seq", entry.Seq),
			slog.Any("error", err),
		)
	}
}

func (p *Pipeline) logTurn(ctx context.Context, entry ledger.Entry, elapsed time.Duration) {
	if p.Logger == nil {
		return
	}
	attrs := []any{
		slog.String("session_id", entry.SessionID),
		slog.Int64("seq", entry.Seq),
		slog.String("outcome", string(entry.Outcome)),
		slog.String("modality", string(entry.Question.Modality)),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if entry.ErrorKind != "" {
		attrs = append(attrs, slog.String("reason", entry.ErrorKind))
	}
	if entry.Result != nil {
		attrs = append(attrs,
			slog.Int("row_count", entry.Result.RowCount),
			slog.Bool("truncated", entry.Result.Truncated),
			slog.Int64("execution_ms", entry.Result.Duration.Milliseconds()),
		)
	}
	if entry.CompositionError != "" {
		attrs = append(attrs, slog.String("composition_error", entry.CompositionError))
	}
	observability.ForContext(ctx, p.Logger).InfoContext(ctx, "turn_completed", attrs...)
}

func synthesisKind(err error) string {
	var synthErr *nl2sql.SynthesisError
	if errors.As(err, &synthErr) {
		return string(synthErr.Kind)
	}
	return "unavailable"
}

func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
