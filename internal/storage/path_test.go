package storage

import (
	"testing"
	"time"
)

func TestBuildLedgerArchivePath(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 23, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildLedgerArchivePath("6f1c2a9e-5b7d-4f0e-9a1b-3c4d5e6f7a8b", ts)
	if err != nil {
		t.Fatalf("BuildLedgerArchivePath() error = %v", err)
	}
	want := "ledgers/date=2026-02-20/session-6f1c2a9e-5b7d-4f0e-9a1b-3c4d5e6f7a8b.parquet"
	if key != want {
		t.Fatalf("BuildLedgerArchivePath() = %q, want %q", key, want)
	}
}

func TestBuildPathRejectsInvalidComponent(t *testing.T) {
	_, err := BuildLedgerArchivePath("../oops", time.Now())
	if err == nil {
		t.Fatal("expected invalid component error")
	}
}

func TestTableNameForObject(t *testing.T) {
	tests := map[string]string{
		"sources/assessments.csv": "assessments",
		"Medications.CSV":         "medications",
		"a/b/seizures.parquet":    "seizures",
	}
	for key, want := range tests {
		got, err := TableNameForObject(key)
		if err != nil {
			t.Fatalf("TableNameForObject(%q) error = %v", key, err)
		}
		if got != want {
			t.Fatalf("TableNameForObject(%q) = %q, want %q", key, got, want)
		}
	}
	for _, key := range []string{"x/.hidden.csv", "x/my-table.csv", "x/a.b.csv", ""} {
		if _, err := TableNameForObject(key); err == nil {
			t.Fatalf("TableNameForObject(%q) expected error", key)
		}
	}
}
