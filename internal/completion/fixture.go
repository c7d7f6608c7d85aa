package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

const ProviderFixture = "fixture"

// FixtureRule maps a question substring to a canned completion. An empty
// Purpose matches every purpose; a non-empty Error fails the call with that kind.
type FixtureRule struct {
	Purpose  string `json:"purpose,omitempty"`
	Match    string `json:"match"`
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type fixtureFile struct {
	Default string        `json:"default"`
	Rules   []FixtureRule `json:"rules"`
}

// Fixture is a deterministic Completer backed by recorded responses.
type Fixture struct {
	mu       sync.Mutex
	rules    []FixtureRule
	fallback string
	calls    []Request
}

func NewFixture(rules []FixtureRule, fallback string) *Fixture {
	return &Fixture{rules: append([]FixtureRule(nil), rules...), fallback: fallback}
}

func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture file: %w", err)
	}
	var parsed fixtureFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode fixture file %s: %w", path, err)
	}
	return NewFixture(parsed.Rules, parsed.Default), nil
}

func (f *Fixture) Provider() string { return ProviderFixture }

func (f *Fixture) Model() string { return ProviderFixture }

func (f *Fixture) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		if ctxErr := classifyContextError(ctx, ProviderFixture, err); ctxErr != nil {
			return Response{}, ctxErr
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req)
	rules := f.rules
	fallback := f.fallback
	f.mu.Unlock()

	user := strings.ToLower(req.User)
	for _, rule := range rules {
		if rule.Purpose != "" && rule.Purpose != req.Purpose {
			continue
		}
		if rule.Match != "" && !strings.Contains(user, strings.ToLower(rule.Match)) {
			continue
		}
		if rule.Error != "" {
			return Response{}, newServiceError(ProviderFixture, ErrorKind(rule.Error), fmt.Errorf("fixture rule %q", rule.Match))
		}
		return Response{Text: rule.Response, Provider: ProviderFixture, Model: ProviderFixture}, nil
	}
	if fallback != "" {
		return Response{Text: fallback, Provider: ProviderFixture, Model: ProviderFixture}, nil
	}
	return Response{}, newServiceError(ProviderFixture, KindMalformedResponse, fmt.Errorf("no fixture response for %s request", req.Purpose))
}

func (f *Fixture) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.calls...)
}

func (f *Fixture) CallCount(purpose string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if purpose == "" || call.Purpose == purpose {
			count++
		}
	}
	return count
}

// DemoRules answers the example questions against the demo clinical dataset.
func DemoRules() []FixtureRule {
	return []FixtureRule{
		{
			Purpose:  PurposeSynthesis,
			Match:    "average qol score for patient p001",
			Response: "```sql\nSELECT AVG(qol_score) AS avg_qol_score FROM assessments WHERE patient_id = 'P001'\n```\nExplanation: Averages the quality of life score across every assessment recorded for patient P001.",
		},
		{
			Purpose:  PurposeSynthesis,
			Match:    "most severe seizures",
			Response: "```sql\nSELECT patient_id, SUM(daily_severe) AS severe_total FROM seizures GROUP BY patient_id ORDER BY severe_total DESC LIMIT 1\n```\nExplanation: Sums severe seizures per patient and returns the highest total.",
		},
		{
			Purpose:  PurposeSynthesis,
			Match:    "called 911",
			Response: "```sql\nSELECT patient_id, date, daily_total FROM seizures WHERE called_911 ORDER BY date\n```\nExplanation: Lists the days on which emergency services were called.",
		},
		{
			Purpose:  PurposeSynthesis,
			Match:    "missed medication",
			Response: "```sql\nSELECT patient_id, COUNT(*) AS missed_days FROM seizures WHERE medication_missed GROUP BY patient_id ORDER BY missed_days DESC\n```\nExplanation: Counts the days each patient missed medication.",
		},
		{
			Purpose:  PurposeSynthesis,
			Match:    "delete",
			Response: "```sql\nDELETE FROM seizures WHERE patient_id = 'P002'\n```\nExplanation: Removes the seizure records for patient P002.",
		},
	}
}
