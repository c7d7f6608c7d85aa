package ledger

import (
	"sync"
	"time"

	"github.com/clinquery/clinquery/internal/compose"
	"github.com/clinquery/clinquery/internal/nl2sql"
	"github.com/clinquery/clinquery/internal/query"
	"github.com/clinquery/clinquery/internal/sanitize"
)

type Outcome string

const (
	OutcomeAnswered        Outcome = "answered"
	OutcomeSynthesisFailed Outcome = "synthesis_failed"
	OutcomeRejected        Outcome = "rejected"
	OutcomeExecutionFailed Outcome = "execution_failed"
)

// Entry is one completed turn. Candidate and Verdict are nil when synthesis
// failed; Result is nil unless the statement ran successfully.
type Entry struct {
	Seq              int64                  `json:"seq"`
	SessionID        string                 `json:"session_id"`
	Question         nl2sql.Question        `json:"question"`
	Candidate        *nl2sql.CandidateQuery `json:"candidate,omitempty"`
	Verdict          *sanitize.Verdict      `json:"verdict,omitempty"`
	Result           *query.Result          `json:"result,omitempty"`
	ExecutionError   *query.ExecutionError  `json:"-"`
	Error            string                 `json:"error,omitempty"`
	ErrorKind        string                 `json:"error_kind,omitempty"`
	Answer           string                 `json:"answer,omitempty"`
	AnswerSource     compose.Source         `json:"answer_source,omitempty"`
	CompositionError string                 `json:"composition_error,omitempty"`
	Outcome          Outcome                `json:"outcome"`
	CompletedAt      time.Time              `json:"completed_at"`
}

// Executed reports whether the statement reached the executor.
func (e Entry) Executed() bool {
	return e.Result != nil || e.ExecutionError != nil
}

func (e Entry) SQL() string {
	if e.Verdict != nil && e.Verdict.Accepted() {
		return e.Verdict.SQL
	}
	if e.Candidate != nil {
		return e.Candidate.SQL
	}
	return ""
}

// Ledger is the append-only turn log of one session.
type Ledger struct {
	mu        sync.RWMutex
	sessionID string
	entries   []Entry
	now       func() time.Time
}

func New(sessionID string) *Ledger {
	return &Ledger{sessionID: sessionID, now: time.Now}
}

// Append stores a completed entry and returns it with its sequence number.
func (l *Ledger) Append(entry Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Seq = int64(len(l.entries)) + 1
	entry.SessionID = l.sessionID
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = l.now().UTC()
	}
	l.entries = append(l.entries, cloneEntry(entry))
	return cloneEntry(entry)
}

// Recent returns the last n entries in arrival order.
func (l *Ledger) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 {
		return []Entry{}
	}
	start := 0
	if len(l.entries) > n {
		start = len(l.entries) - n
	}
	out := make([]Entry, 0, len(l.entries)-start)
	for _, entry := range l.entries[start:] {
		out = append(out, cloneEntry(entry))
	}
	return out
}

func (l *Ledger) All() []Entry {
	return l.Recent(l.Len())
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// History returns follow-up context for the synthesizer from the last n turns.
func (l *Ledger) History(n int) []nl2sql.HistoryItem {
	entries := l.Recent(n)
	items := make([]nl2sql.HistoryItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, nl2sql.HistoryItem{Question: entry.Question.Text, SQL: entry.SQL()})
	}
	return items
}

func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

func cloneEntry(entry Entry) Entry {
	if entry.Candidate != nil {
		candidate := *entry.Candidate
		entry.Candidate = &candidate
	}
	if entry.Verdict != nil {
		verdict := *entry.Verdict
		entry.Verdict = &verdict
	}
	if entry.Result != nil {
		result := *entry.Result
		result.Columns = append([]string(nil), result.Columns...)
		rows := make([][]any, len(result.Rows))
		for i, row := range result.Rows {
			rows[i] = append([]any(nil), row...)
		}
		result.Rows = rows
		entry.Result = &result
	}
	if entry.ExecutionError != nil {
		execErr := *entry.ExecutionError
		entry.ExecutionError = &execErr
	}
	return entry
}
