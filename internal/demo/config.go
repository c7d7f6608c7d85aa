package demo

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

type Config struct {
	Directory string
	Format    string
	Patients  int
	Days      int
	StartDate time.Time
	Seed      int64
}

func DefaultConfig() Config {
	return Config{
		Directory: "data",
		Format:    FormatCSV,
		Patients:  5,
		Days:      90,
		StartDate: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Seed:      42,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyPath(lookup, "CLINQUERY_DEMO_DIR", &cfg.Directory); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "CLINQUERY_DEMO_FORMAT", &cfg.Format); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "CLINQUERY_DEMO_PATIENTS", &cfg.Patients); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "CLINQUERY_DEMO_DAYS", &cfg.Days); err != nil {
		return Config{}, err
	}
	if err := applyDate(lookup, "CLINQUERY_DEMO_START_DATE", &cfg.StartDate); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "CLINQUERY_DEMO_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Directory) == "" {
		return fmt.Errorf("CLINQUERY_DEMO_DIR is required")
	}
	if c.Format != FormatCSV && c.Format != FormatParquet {
		return fmt.Errorf("CLINQUERY_DEMO_FORMAT must be one of csv|parquet")
	}
	if c.Patients <= 0 || c.Patients > 999 {
		return fmt.Errorf("CLINQUERY_DEMO_PATIENTS must be between 1 and 999")
	}
	if c.Days <= 0 {
		return fmt.Errorf("CLINQUERY_DEMO_DAYS must be > 0")
	}
	return nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.ToLower(strings.TrimSpace(raw))
	return nil
}

func applyPath(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyDate(lookup LookupFunc, key string, dst *time.Time) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
