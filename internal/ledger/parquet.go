package ledger

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
)

type ArchiveResult struct {
	Data        []byte
	EntryCount  int64
	FirstTurnAt *time.Time
	LastTurnAt  *time.Time
}

type parquetEntry struct {
	SessionID         string `parquet:"session_id"`
	Seq               int64  `parquet:"seq"`
	Question          string `parquet:"question"`
	Modality          string `parquet:"modality"`
	AskedAtUnixMs     int64  `parquet:"asked_at_unix_ms"`
	CandidateSQL      string `parquet:"candidate_sql"`
	Rationale         string `parquet:"rationale"`
	Provider          string `parquet:"provider"`
	Model             string `parquet:"model"`
	VerdictStatus     string `parquet:"verdict_status"`
	VerdictReason     string `parquet:"verdict_reason"`
	VerdictFragment   string `parquet:"verdict_fragment"`
	NormalizedSQL     string `parquet:"normalized_sql"`
	RowCount          int64  `parquet:"row_count"`
	Truncated         bool   `parquet:"truncated"`
	ExecutionMs       int64  `parquet:"execution_ms"`
	Error             string `parquet:"error"`
	ErrorKind         string `parquet:"error_kind"`
	Answer            string `parquet:"answer"`
	AnswerSource      string `parquet:"answer_source"`
	Outcome           string `parquet:"outcome"`
	CompletedAtUnixMs int64  `parquet:"completed_at_unix_ms"`
}

// EncodeParquet serializes a session's entries for archival. Result rows are
// not archived, only their counts.
func EncodeParquet(entries []Entry) (ArchiveResult, error) {
	if len(entries) == 0 {
		return ArchiveResult{}, fmt.Errorf("entries are required")
	}

	rows := make([]parquetEntry, 0, len(entries))
	var first, last *time.Time
	for _, entry := range entries {
		row := parquetEntry{
			SessionID:         entry.SessionID,
			Seq:               entry.Seq,
			Question:          entry.Question.Text,
			Modality:          string(entry.Question.Modality),
			AskedAtUnixMs:     entry.Question.ArrivedAt.UnixMilli(),
			Error:             entry.Error,
			ErrorKind:         entry.ErrorKind,
			Answer:            entry.Answer,
			AnswerSource:      string(entry.AnswerSource),
			Outcome:           string(entry.Outcome),
			CompletedAtUnixMs: entry.CompletedAt.UnixMilli(),
		}
		if entry.Candidate != nil {
			row.CandidateSQL = entry.Candidate.SQL
			row.Rationale = entry.Candidate.Rationale
			row.Provider = entry.Candidate.Provider
			row.Model = entry.Candidate.Model
		}
		if entry.Verdict != nil {
			row.VerdictStatus = string(entry.Verdict.Status)
			row.VerdictReason = string(entry.Verdict.Reason)
			row.VerdictFragment = entry.Verdict.Fragment
			row.NormalizedSQL = entry.Verdict.SQL
		}
		if entry.Result != nil {
			row.RowCount = int64(entry.Result.RowCount)
			row.Truncated = entry.Result.Truncated
			row.ExecutionMs = entry.Result.Duration.Milliseconds()
		}
		rows = append(rows, row)

		completedAt := entry.CompletedAt.UTC()
		if first == nil || completedAt.Before(*first) {
			copy := completedAt
			first = &copy
		}
		if last == nil || completedAt.After(*last) {
			copy := completedAt
			last = &copy
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetEntry](buf)
	if _, err := writer.Write(rows); err != nil {
		return ArchiveResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ArchiveResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return ArchiveResult{
		Data:        buf.Bytes(),
		EntryCount:  int64(len(rows)),
		FirstTurnAt: first,
		LastTurnAt:  last,
	}, nil
}
