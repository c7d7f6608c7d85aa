package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clinquery/clinquery/internal/audit"
	"github.com/clinquery/clinquery/internal/ledger"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	return VerifySchema(ctx, r.db)
}

// RecordTurn is idempotent per (session_id, seq).
func (r *Repository) RecordTurn(ctx context.Context, entry ledger.Entry) error {
	query := `
INSERT INTO clinquery_turn_audit (
	session_id, seq, question, modality, asked_at,
	candidate_sql, rationale, provider, model,
	verdict_status, verdict_reason, verdict_fragment, normalized_sql,
	row_count, truncated, execution_ms,
	error_kind, error_message, answer, answer_source, outcome, completed_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
ON CONFLICT (session_id, seq) DO NOTHING`

	var candidateSQL, rationale, provider, model any
	if entry.Candidate != nil {
		candidateSQL = entry.Candidate.SQL
		rationale = entry.Candidate.Rationale
		provider = entry.Candidate.Provider
		model = entry.Candidate.Model
	}
	var verdictStatus, verdictReason, verdictFragment, normalizedSQL any
	if entry.Verdict != nil {
		verdictStatus = string(entry.Verdict.Status)
		verdictReason = nullableString(string(entry.Verdict.Reason))
		verdictFragment = nullableString(entry.Verdict.Fragment)
		normalizedSQL = nullableString(entry.Verdict.SQL)
	}
	var rowCount, executionMs any
	truncated := false
	if entry.Result != nil {
		rowCount = int64(entry.Result.RowCount)
		executionMs = entry.Result.Duration.Milliseconds()
		truncated = entry.Result.Truncated
	}

	_, err := r.db.ExecContext(ctx, query,
		entry.SessionID,
		entry.Seq,
		entry.Question.Text,
		string(entry.Question.Modality),
		entry.Question.ArrivedAt,
		candidateSQL,
		rationale,
		provider,
		model,
		verdictStatus,
		verdictReason,
		verdictFragment,
		normalizedSQL,
		rowCount,
		truncated,
		executionMs,
		nullableString(entry.ErrorKind),
		nullableString(entry.Error),
		nullableString(entry.Answer),
		nullableString(string(entry.AnswerSource)),
		string(entry.Outcome),
		entry.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record turn %s/%d: %w", entry.SessionID, entry.Seq, err)
	}
	return nil
}

func (r *Repository) RecordArchive(ctx context.Context, archive audit.SessionArchive) error {
	query := `
INSERT INTO clinquery_session_archive (session_id, object_key, entry_count, first_turn_at, last_turn_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id)
DO UPDATE SET object_key = EXCLUDED.object_key,
	entry_count = EXCLUDED.entry_count,
	first_turn_at = EXCLUDED.first_turn_at,
	last_turn_at = EXCLUDED.last_turn_at,
	archived_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query,
		archive.SessionID,
		archive.ObjectKey,
		archive.EntryCount,
		nullableTime(archive.FirstTurnAt),
		nullableTime(archive.LastTurnAt),
	); err != nil {
		return fmt.Errorf("record session archive %s: %w", archive.SessionID, err)
	}
	return nil
}

type OutcomeCount struct {
	Outcome string
	Count   int64
}

// OutcomeCounts summarizes recorded turns completed since the given time.
func (r *Repository) OutcomeCounts(ctx context.Context, since time.Time) ([]OutcomeCount, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT outcome, COUNT(*)
FROM clinquery_turn_audit
WHERE completed_at >= $1
GROUP BY outcome
ORDER BY outcome ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("count turn outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make([]OutcomeCount, 0)
	for rows.Next() {
		var item OutcomeCount
		if err := rows.Scan(&item.Outcome, &item.Count); err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}
		counts = append(counts, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome rows: %w", err)
	}
	return counts, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}
