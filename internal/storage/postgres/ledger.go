// Package postgres records per-record harvest outcomes in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/report-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "report_downloads"

// LedgerConfig controls the Postgres connection pool used for outcome rows.
type LedgerConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Entry is one ledger row.
type Entry struct {
	RunID  string
	Result harvest.Result
	// SHA256 is the digest of the saved report; empty when none was saved.
	SHA256 string
	At     time.Time
}

// Ledger upserts one row per (run, record).
type Ledger struct {
	pool  execCloser
	table string
}

// NewLedger connects a pool for cfg.
func NewLedger(ctx context.Context, cfg LedgerConfig) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Ledger{pool: pool, table: table}, nil
}

// NewLedgerWithPool constructs a ledger from an existing pool.
func NewLedgerWithPool(pool execCloser, table string) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Ledger{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// EnsureSchema creates the outcome table when it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	downloaded  BOOLEAN NOT NULL,
	error       TEXT,
	sha256      TEXT,
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, record_id)
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	return nil
}

// Record upserts the outcome of one record.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	if e.RunID == "" || e.Result.RecordID == "" {
		return fmt.Errorf("run id and record id are required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, record_id, outcome, downloaded, error, sha256, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (run_id, record_id) DO UPDATE SET
	outcome = EXCLUDED.outcome,
	downloaded = EXCLUDED.downloaded,
	error = EXCLUDED.error,
	sha256 = EXCLUDED.sha256,
	recorded_at = EXCLUDED.recorded_at`, l.table)

	var errText *string
	if e.Result.Err != nil {
		msg := e.Result.Err.Error()
		errText = &msg
	}
	args := []any{
		e.RunID,
		e.Result.RecordID,
		string(e.Result.Outcome),
		e.Result.Outcome.Succeeded(),
		errText,
		nullable(e.SHA256),
		e.At.UTC(),
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert outcome: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
