package nl2sql

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/clinquery/clinquery/internal/completion"
	"github.com/clinquery/clinquery/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor() schema.Descriptor {
	return schema.Descriptor{Tables: []schema.TableDescriptor{{
		Name:     "assessments",
		RowCount: 10,
		Columns: []schema.ColumnDescriptor{
			{Name: "patient_id", Type: "VARCHAR", Nullable: true},
			{Name: "date", Type: "DATE", Nullable: true},
			{Name: "qol_score", Type: "BIGINT", Nullable: true},
		},
	}}}
}

func TestSynthesizeExtractsStatementAndRationale(t *testing.T) {
	t.Parallel()

	fixture := completion.NewFixture([]completion.FixtureRule{{
		Purpose:  completion.PurposeSynthesis,
		Match:    "average qol score for patient p001",
		Response: "```sql\nSELECT AVG(qol_score) FROM assessments WHERE patient_id = 'P001'\n```\nExplanation: Averages QoL for P001.",
	}}, "")
	synth, err := NewSynthesizer(fixture, Config{Temperature: 0.1, MaxTokens: 500, HistoryTurns: 3, SampleRows: 3})
	require.NoError(t, err)

	q := NewQuestion("What is the average QoL score for patient P001?", ModalityText, time.Now())
	got, err := synth.Synthesize(context.Background(), q, testDescriptor(), nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT AVG(qol_score) FROM assessments WHERE patient_id = 'P001'", got.SQL)
	assert.Equal(t, "Averages QoL for P001.", got.Rationale)
	assert.Equal(t, completion.ProviderFixture, got.Provider)
	assert.Equal(t, completion.ProviderFixture, got.Model)

	calls := fixture.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 0.1, calls[0].Temperature)
	assert.Equal(t, 500, calls[0].MaxTokens)
	assert.Contains(t, calls[0].System, "Table: assessments")
	assert.Contains(t, calls[0].System, "Only generate SELECT queries")
	assert.Contains(t, calls[0].User, "P001")
}

func TestSynthesizeIncludesBoundedHistory(t *testing.T) {
	t.Parallel()

	fixture := completion.NewFixture(nil, "SELECT 1")
	synth, err := NewSynthesizer(fixture, Config{HistoryTurns: 2})
	require.NoError(t, err)

	history := []HistoryItem{
		{Question: "first question", SQL: "SELECT 1"},
		{Question: "second question", SQL: "SELECT AVG(qol_score) FROM assessments WHERE patient_id = 'P001'"},
		{Question: "third question", SQL: ""},
	}
	_, err = synth.Synthesize(context.Background(), NewQuestion("and for patient P003?", "", time.Now()), testDescriptor(), history)
	require.NoError(t, err)

	system := fixture.Calls()[0].System
	assert.NotContains(t, system, "first question")
	assert.Contains(t, system, "second question")
	assert.Contains(t, system, "patient_id = 'P001'")
	assert.Contains(t, system, "third question")
	assert.Contains(t, system, "(no query)")
}

func TestSynthesizeWithoutStatementReturnsEmptyCandidate(t *testing.T) {
	t.Parallel()

	synth, err := NewSynthesizer(completion.NewFixture(nil, "I cannot answer that."), Config{})
	require.NoError(t, err)

	got, err := synth.Synthesize(context.Background(), NewQuestion("hello", ModalityText, time.Now()), testDescriptor(), nil)
	require.NoError(t, err)
	assert.Empty(t, got.SQL)
	assert.Equal(t, RationaleUnavailable, got.Rationale)
}

func TestSynthesizeWrapsServiceErrors(t *testing.T) {
	t.Parallel()

	fixture := completion.NewFixture([]completion.FixtureRule{{Match: "", Error: string(completion.KindQuotaExceeded)}}, "")
	synth, err := NewSynthesizer(fixture, Config{})
	require.NoError(t, err)

	_, err = synth.Synthesize(context.Background(), NewQuestion("anything", ModalityText, time.Now()), testDescriptor(), nil)
	var synthErr *SynthesisError
	require.True(t, errors.As(err, &synthErr), "error = %v", err)
	assert.Equal(t, completion.KindQuotaExceeded, synthErr.Kind)
	var serviceErr *completion.ServiceError
	assert.True(t, errors.As(err, &serviceErr))
}

func TestSynthesizePropagatesCancellation(t *testing.T) {
	t.Parallel()

	synth, err := NewSynthesizer(completion.NewFixture(nil, "SELECT 1"), Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = synth.Synthesize(ctx, NewQuestion("q", ModalityText, time.Now()), testDescriptor(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildSystemPromptForEmptySchema(t *testing.T) {
	t.Parallel()

	prompt := BuildSystemPrompt(schema.Descriptor{}, nil, 3)
	assert.True(t, strings.Contains(prompt, "no tables are available"))
	assert.NotContains(t, prompt, "Recent questions")
}

func TestBuildSystemPromptTruncatesHistoryOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// The multi-byte comparison value straddles the byte limit.
	prefix := "SELECT * FROM assessments WHERE note = '" + strings.Repeat("a", maxHistorySQLChars-41)
	long := prefix + strings.Repeat("é", 20) + "'"
	prompt := BuildSystemPrompt(testDescriptor(), []HistoryItem{{Question: "notes?", SQL: long}}, 0)

	require.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, prefix)
	assert.Contains(t, prompt, "...")
	assert.NotContains(t, prompt, strings.Repeat("é", 20))
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "ab...", truncateRunes("abcdef", 2))
	assert.Equal(t, "a...", truncateRunes("aéb", 2))
	assert.Equal(t, "...", truncateRunes("日本", 2))
}
