package demo

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Directory != "data" || cfg.Format != FormatCSV {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Patients != 5 || cfg.Days != 90 || cfg.Seed != 42 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"CLINQUERY_DEMO_DIR":        " /tmp/Clinical ",
		"CLINQUERY_DEMO_FORMAT":     "PARQUET",
		"CLINQUERY_DEMO_PATIENTS":   "12",
		"CLINQUERY_DEMO_DAYS":       "30",
		"CLINQUERY_DEMO_START_DATE": "2023-06-01",
		"CLINQUERY_DEMO_SEED":       "12345",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Directory != "/tmp/Clinical" {
		t.Fatalf("Directory = %q", cfg.Directory)
	}
	if cfg.Format != FormatParquet {
		t.Fatalf("Format = %q", cfg.Format)
	}
	if cfg.Patients != 12 || cfg.Days != 30 || cfg.Seed != 12345 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.StartDate.Equal(time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("StartDate = %s", cfg.StartDate)
	}
}

func TestLoadConfigFromEnvRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"CLINQUERY_DEMO_FORMAT", "xlsx", "csv|parquet"},
		{"CLINQUERY_DEMO_PATIENTS", "0", "between 1 and 999"},
		{"CLINQUERY_DEMO_DAYS", "-1", "must be > 0"},
		{"CLINQUERY_DEMO_DAYS", "many", "invalid CLINQUERY_DEMO_DAYS"},
		{"CLINQUERY_DEMO_START_DATE", "01/02/2024", "invalid CLINQUERY_DEMO_START_DATE"},
		{"CLINQUERY_DEMO_DIR", " ", "CLINQUERY_DEMO_DIR is required"},
	}
	for _, tc := range tests {
		_, err := LoadConfigFromEnv(mapLookup(map[string]string{tc.key: tc.value}))
		if err == nil {
			t.Fatalf("%s=%q: expected error", tc.key, tc.value)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s=%q: error = %v, want %q", tc.key, tc.value, err, tc.want)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}
