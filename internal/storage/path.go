package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildLedgerArchivePath places a closed session's ledger under a date partition.
func BuildLedgerArchivePath(sessionID string, closedAt time.Time) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	ts := closedAt.UTC()
	return path.Join(
		"ledgers",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("session-%s.parquet", sessionID),
	), nil
}

// TableNameForObject derives a table name from a source object's file stem.
func TableNameForObject(key string) (string, error) {
	base := path.Base(strings.TrimSpace(key))
	stem := strings.TrimSuffix(base, path.Ext(base))
	stem = strings.ToLower(stem)
	if err := validatePathComponent(stem, "table name"); err != nil {
		return "", err
	}
	if strings.ContainsAny(stem, ".-") {
		return "", fmt.Errorf("invalid table name: %q", stem)
	}
	return stem, nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
