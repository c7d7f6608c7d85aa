package session

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clinquery/clinquery/internal/completion"
	"github.com/clinquery/clinquery/internal/compose"
	"github.com/clinquery/clinquery/internal/ledger"
	"github.com/clinquery/clinquery/internal/nl2sql"
	"github.com/clinquery/clinquery/internal/query"
	"github.com/clinquery/clinquery/internal/query/duckdb"
	"github.com/clinquery/clinquery/internal/sanitize"
	"github.com/clinquery/clinquery/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu      sync.Mutex
	calls   []string
	result  query.Result
	err     error
	execute func(ctx context.Context, request query.Request) (query.Result, error)
}

func (e *fakeEngine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, request.SQL)
	e.mu.Unlock()
	if e.execute != nil {
		return e.execute(ctx, request)
	}
	return e.result, e.err
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (s *recordingSink) RecordTurn(_ context.Context, entry ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func clinicalDescriptor() schema.Descriptor {
	return schema.Descriptor{Tables: []schema.TableDescriptor{
		{Name: "assessments", Columns: []schema.ColumnDescriptor{{Name: "patient_id", Type: "VARCHAR"}, {Name: "date", Type: "DATE"}, {Name: "qol_score", Type: "BIGINT"}}},
		{Name: "medications", Columns: []schema.ColumnDescriptor{{Name: "patient_id", Type: "VARCHAR"}, {Name: "date", Type: "DATE"}}},
		{Name: "seizures", Columns: []schema.ColumnDescriptor{{Name: "patient_id", Type: "VARCHAR"}, {Name: "date", Type: "DATE"}, {Name: "called_911", Type: "BOOLEAN"}}},
	}}
}

func newPipeline(t *testing.T, rules []completion.FixtureRule, engine query.Engine) (*Pipeline, *completion.Fixture, *recordingSink) {
	t.Helper()
	fixture := completion.NewFixture(rules, "")
	synth, err := nl2sql.NewSynthesizer(fixture, nl2sql.Config{Temperature: 0.1, MaxTokens: 500, HistoryTurns: 3})
	require.NoError(t, err)
	sink := &recordingSink{}
	return &Pipeline{
		Synthesizer:  synth,
		Engine:       engine,
		Composer:     compose.NewComposer(fixture, compose.Config{Enabled: true, Temperature: 0.5, MaxTokens: 300}),
		Schema:       clinicalDescriptor(),
		Audit:        sink,
		HistoryTurns: 3,
	}, fixture, sink
}

func synthesisRule(match, sql string) completion.FixtureRule {
	return completion.FixtureRule{
		Purpose:  completion.PurposeSynthesis,
		Match:    match,
		Response: "```sql\n" + sql + "\n```\nExplanation: canned.",
	}
}

func ask(text string) nl2sql.Question {
	return nl2sql.NewQuestion(text, nl2sql.ModalityText, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
}

func TestAskRejectsDeleteWithoutExecuting(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	pipeline, _, sink := newPipeline(t, completion.DemoRules(), engine)
	s := newSession("s-1", time.Now())

	entry, err := pipeline.Ask(context.Background(), s, ask("Delete all seizure records for P002"))
	require.NoError(t, err)

	assert.Equal(t, ledger.OutcomeRejected, entry.Outcome)
	require.NotNil(t, entry.Verdict)
	assert.Equal(t, sanitize.ReasonNonSelect, entry.Verdict.Reason)
	assert.Equal(t, "the generated query was rejected: non-select", entry.Error)
	assert.Nil(t, entry.Result)
	assert.False(t, entry.Executed())
	assert.Empty(t, engine.Calls())
	assert.Equal(t, 1, s.Ledger.Len())
	require.Len(t, sink.entries, 1)
	assert.Equal(t, int64(1), sink.entries[0].Seq)
}

func TestAskRejectsChainedStatementsBeforeTableCheck(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	pipeline, _, _ := newPipeline(t, []completion.FixtureRule{
		synthesisRule("chain", "SELECT * FROM assessments; DROP TABLE assessments;"),
	}, engine)
	s := newSession("s-1", time.Now())

	entry, err := pipeline.Ask(context.Background(), s, ask("chain"))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeRejected, entry.Outcome)
	assert.Equal(t, sanitize.ReasonMultipleStatements, entry.Verdict.Reason)
	assert.Empty(t, engine.Calls())
}

func TestAskRecordsSynthesisFailure(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	pipeline, _, sink := newPipeline(t, []completion.FixtureRule{{
		Purpose: completion.PurposeSynthesis,
		Error:   string(completion.KindQuotaExceeded),
	}}, engine)
	s := newSession("s-1", time.Now())

	entry, err := pipeline.Ask(context.Background(), s, ask("Average QoL?"))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSynthesisFailed, entry.Outcome)
	assert.Equal(t, "quota_exceeded", entry.ErrorKind)
	assert.Nil(t, entry.Candidate)
	assert.Nil(t, entry.Verdict)
	assert.Empty(t, engine.Calls())
	assert.Len(t, sink.entries, 1)
}

func TestAskEmptyExtractionIsRejected(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	pipeline, _, _ := newPipeline(t, []completion.FixtureRule{{
		Purpose:  completion.PurposeSynthesis,
		Response: "I am not able to answer that from the available data.",
	}}, engine)
	s := newSession("s-1", time.Now())

	entry, err := pipeline.Ask(context.Background(), s, ask("What is the weather?"))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeRejected, entry.Outcome)
	assert.Equal(t, sanitize.ReasonMultipleStatements, entry.Verdict.Reason)
	assert.Empty(t, engine.Calls())
}

func TestAskRecordsExecutionError(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{err: &query.ExecutionError{Message: `Referenced column "mood" not found`, SQL: "SELECT mood FROM assessments"}}
	pipeline, _, _ := newPipeline(t, []completion.FixtureRule{synthesisRule("mood", "SELECT mood FROM assessments")}, engine)
	s := newSession("s-1", time.Now())

	entry, err := pipeline.Ask(context.Background(), s, ask("Show mood"))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeExecutionFailed, entry.Outcome)
	assert.Equal(t, "execution", entry.ErrorKind)
	require.NotNil(t, entry.ExecutionError)
	assert.Equal(t, "SELECT mood FROM assessments", entry.ExecutionError.SQL)
	assert.Contains(t, entry.Error, "mood")
	assert.Equal(t, []string{"SELECT mood FROM assessments"}, engine.Calls())
}

func TestAskRecordsExecutionTimeout(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{err: &query.ExecutionError{Message: "query exceeded the execution timeout of 10s", Timeout: true}}
	pipeline, _, _ := newPipeline(t, []completion.FixtureRule{synthesisRule("slow", "SELECT * FROM seizures")}, engine)
	s := newSession("s-1", time.Now())

	entry, err := pipeline.Ask(context.Background(), s, ask("slow"))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeExecutionFailed, entry.Outcome)
	assert.Equal(t, "timeout", entry.ErrorKind)
	assert.Equal(t, 1, s.Ledger.Len())
}

func TestAskZeroRowsUsesNoMatchPhrase(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{result: query.Result{Columns: []string{"date"}}}
	pipeline, fixture, _ := newPipeline(t, []completion.FixtureRule{synthesisRule("p404", "SELECT date FROM seizures WHERE patient_id = 'P404'")}, engine)
	s := newSession("s-1", time.Now())

	entry, err := pipeline.Ask(context.Background(), s, ask("Seizures for P404"))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeAnswered, entry.Outcome)
	assert.Equal(t, compose.NoMatchPhrase, entry.Answer)
	assert.Equal(t, compose.SourceEmpty, entry.AnswerSource)
	assert.Equal(t, 0, fixture.CallCount(completion.PurposeComposition))
}

func TestAskCancelledTurnAppendsNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	engine := &fakeEngine{execute: func(context.Context, query.Request) (query.Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			cancel()
			return query.Result{}, context.Canceled
		}
		return query.Result{Columns: []string{"n"}}, nil
	}}
	pipeline, _, sink := newPipeline(t, []completion.FixtureRule{synthesisRule("abandon", "SELECT * FROM seizures")}, engine)
	s := newSession("s-1", time.Now())

	_, err := pipeline.Ask(ctx, s, ask("abandon"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Ledger.Len())
	assert.Empty(t, sink.entries)

	entry, err := pipeline.Ask(context.Background(), s, ask("abandon again"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Seq)
}

func TestAskRequiresQuestionText(t *testing.T) {
	t.Parallel()

	pipeline, _, _ := newPipeline(t, nil, &fakeEngine{})
	_, err := pipeline.Ask(context.Background(), newSession("s-1", time.Now()), ask("   "))
	require.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAskFeedsHistoryIntoFollowUps(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{result: query.Result{Columns: []string{"avg"}, Rows: [][]any{{70.0}}, RowCount: 1}}
	pipeline, fixture, _ := newPipeline(t, []completion.FixtureRule{
		synthesisRule("p001", "SELECT AVG(qol_score) FROM assessments WHERE patient_id = 'P001'"),
		synthesisRule("p003", "SELECT AVG(qol_score) FROM assessments WHERE patient_id = 'P003'"),
		{Purpose: completion.PurposeComposition, Response: "The average is 70."},
	}, engine)
	s := newSession("s-1", time.Now())

	_, err := pipeline.Ask(context.Background(), s, ask("Average QoL for P001?"))
	require.NoError(t, err)
	second, err := pipeline.Ask(context.Background(), s, ask("And for P003?"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Seq)

	var synthCalls []completion.Request
	for _, call := range fixture.Calls() {
		if call.Purpose == completion.PurposeSynthesis {
			synthCalls = append(synthCalls, call)
		}
	}
	require.Len(t, synthCalls, 2)
	assert.NotContains(t, synthCalls[0].System, "Average QoL for P001?")
	assert.Contains(t, synthCalls[1].System, "Average QoL for P001?")
	assert.Contains(t, synthCalls[1].System, "patient_id = 'P001'")
}

func TestAskRunsOneTurnAtATimePerSession(t *testing.T) {
	t.Parallel()

	var running, maxRunning int32
	engine := &fakeEngine{execute: func(context.Context, query.Request) (query.Result, error) {
		current := atomic.AddInt32(&running, 1)
		for {
			seen := atomic.LoadInt32(&maxRunning)
			if current <= seen || atomic.CompareAndSwapInt32(&maxRunning, seen, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return query.Result{Columns: []string{"n"}}, nil
	}}
	pipeline, _, _ := newPipeline(t, []completion.FixtureRule{synthesisRule("count", "SELECT COUNT(*) FROM seizures")}, engine)
	s := newSession("s-1", time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pipeline.Ask(context.Background(), s, ask("count seizures"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
	entries := s.Ledger.All()
	require.Len(t, entries, 6)
	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Seq)
	}
}

func TestAskSharesOnePipelineAcrossConcurrentSessions(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{result: query.Result{Columns: []string{"n"}, Rows: [][]any{{int64(3)}}, RowCount: 1}}
	pipeline, _, _ := newPipeline(t, []completion.FixtureRule{synthesisRule("count", "SELECT COUNT(*) FROM seizures")}, engine)
	pipeline.Audit = nil
	pipeline.Clock = nil
	pipeline.AuditTimeout = 0

	sessions := make([]*Session, 8)
	var wg sync.WaitGroup
	for i := range sessions {
		sessions[i] = newSession(fmt.Sprintf("s-%d", i), time.Now())
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				_, err := pipeline.Ask(context.Background(), s, ask("count seizures"))
				assert.NoError(t, err)
			}
		}(sessions[i])
	}
	wg.Wait()

	for _, s := range sessions {
		entries := s.Ledger.All()
		require.Len(t, entries, 3)
		for _, entry := range entries {
			assert.Equal(t, ledger.OutcomeAnswered, entry.Outcome)
			assert.Equal(t, s.ID, entry.SessionID)
		}
	}
	assert.Nil(t, pipeline.Audit)
	assert.Nil(t, pipeline.Clock)
}

func TestAskAnswersAverageAgainstDuckDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinical.duckdb")
	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	for _, statement := range []string{
		`CREATE TABLE assessments (patient_id VARCHAR, date DATE, qol_score BIGINT)`,
		`INSERT INTO assessments VALUES ('P001', DATE '2024-01-01', 60), ('P001', DATE '2024-01-02', 80), ('P002', DATE '2024-01-01', 10)`,
	} {
		_, err := db.Exec(statement)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	engine, err := duckdb.Open(path, duckdb.Options{MaxRows: 100, Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	pipeline, fixture, _ := newPipeline(t, completion.DemoRules(), engine)
	pipeline.Schema = schema.Describe(context.Background(), engine, 3, nil)
	require.Equal(t, []string{"assessments"}, tableNames(pipeline.Schema))
	s := newSession("s-1", time.Now())

	entry, err := pipeline.Ask(context.Background(), s, ask("What is the average QoL score for patient P001?"))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeAnswered, entry.Outcome)
	require.NotNil(t, entry.Result)
	assert.Equal(t, 1, entry.Result.RowCount)
	assert.Equal(t, []string{"avg_qol_score"}, entry.Result.Columns)
	assert.Equal(t, "The avg_qol_score is 70.", entry.Answer)
	assert.Equal(t, compose.SourceTemplate, entry.AnswerSource)
	assert.NotEmpty(t, entry.CompositionError)
	assert.Equal(t, 1, fixture.CallCount(completion.PurposeComposition))
}

func tableNames(descriptor schema.Descriptor) []string {
	names := make([]string, 0, len(descriptor.Tables))
	for _, table := range descriptor.Tables {
		names = append(names, table.Name)
	}
	return names
}
