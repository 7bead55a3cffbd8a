// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ArchiveConfig controls the Postgres connection pool used for archived
// task rows.
type ArchiveConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pingExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// TaskArchive writes one audit row per task that reaches a terminal state.
// The registry stays authoritative while the process lives; the archive is
// what survives restarts.
type TaskArchive struct {
	pool  pingExecCloser
	table string
}

// NewTaskArchive creates a Postgres-backed TaskArchive using the provided config.
func NewTaskArchive(ctx context.Context, cfg ArchiveConfig) (*TaskArchive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "task_archive"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TaskArchive{
		pool:  pool,
		table: table,
	}, nil
}

// NewTaskArchiveWithPool constructs an archive from an existing pool (primarily for testing).
func NewTaskArchiveWithPool(pool pingExecCloser, table string) (*TaskArchive, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "task_archive"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &TaskArchive{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (a *TaskArchive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

// Ping verifies the database connection for readiness checks.
func (a *TaskArchive) Ping(ctx context.Context) error {
	if a == nil || a.pool == nil {
		return fmt.Errorf("task archive is not configured")
	}
	return a.pool.Ping(ctx)
}

// Archive inserts the terminal snapshot of a task. The registry performs
// exactly one terminal transition per task, so each task yields one row.
func (a *TaskArchive) Archive(ctx context.Context, record tasks.TaskRecord) error {
	if a == nil || a.pool == nil {
		return fmt.Errorf("task archive is not configured")
	}
	if record.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	kwargsJSON, err := json.Marshal(normalizeKwargs(record.Kwargs))
	if err != nil {
		return fmt.Errorf("marshal kwargs: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	task_id,
	spider_name,
	status,
	start_time,
	end_time,
	items_count,
	failure_reason,
	kwargs
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, a.table)

	args := []any{
		record.TaskID,
		record.SpiderName,
		string(record.Status),
		record.StartTime,
		record.EndTime,
		record.ItemsCount,
		record.FailureReason,
		kwargsJSON,
	}
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert archived task: %w", err)
	}
	return nil
}

func normalizeKwargs(k tasks.Kwargs) map[string]any {
	if len(k) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(k))
	for key, value := range k {
		out[key] = value
	}
	return out
}
