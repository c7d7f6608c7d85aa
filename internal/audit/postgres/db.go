package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/clinquery/clinquery/internal/config"
)

// ErrSchemaMissing means the audit database is reachable but clinquery-migrate
// has not created the audit tables yet.
var ErrSchemaMissing = errors.New("audit schema is not migrated")

var auditTables = []string{"clinquery_turn_audit", "clinquery_session_archive"}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	// RequireSchema makes Open fail with ErrSchemaMissing when the audit
	// tables are absent, instead of failing on the first recorded turn.
	RequireSchema bool
}

// DBConfigFrom maps the service audit settings onto a pool config that
// requires a migrated schema.
func DBConfigFrom(cfg config.AuditConfig) DBConfig {
	return DBConfig{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		RequireSchema:   true,
	}
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("audit dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	configurePool(db, cfg)

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(checkCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	if cfg.RequireSchema {
		if err := VerifySchema(checkCtx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}

func configurePool(db *sql.DB, cfg DBConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// VerifySchema checks that every audit table is visible on the search path.
// Missing tables are reported together, wrapped in ErrSchemaMissing.
func VerifySchema(ctx context.Context, db *sql.DB) error {
	var missing []string
	for _, table := range auditTables {
		var found sql.NullString
		if err := db.QueryRowContext(ctx, `SELECT to_regclass($1)::text`, table).Scan(&found); err != nil {
			return fmt.Errorf("check audit table %s: %w", table, err)
		}
		if !found.Valid {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s (run clinquery-migrate)", ErrSchemaMissing, strings.Join(missing, ", "))
	}
	return nil
}
