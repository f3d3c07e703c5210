package mengla

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ExecutionLog records the lifecycle of dispatched executions for operators.
// Writes are best-effort: the coordinator logs failures and carries on.
type ExecutionLog interface {
	Dispatched(ctx context.Context, rec ExecutionRecord) error
	Delivered(ctx context.Context, executionID string, at time.Time) error
	Finished(ctx context.Context, executionID string, status ExecutionStatus, at time.Time) error
	Recent(ctx context.Context, limit int) ([]ExecutionRecord, error)
}

const executionsSchema = `
CREATE TABLE IF NOT EXISTS mengla_executions (
	execution_id  TEXT PRIMARY KEY,
	cache_key     TEXT NOT NULL,
	action        TEXT NOT NULL,
	parameters    JSONB,
	status        TEXT NOT NULL,
	dispatched_at TIMESTAMPTZ NOT NULL,
	delivered_at  TIMESTAMPTZ,
	resolved_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS mengla_executions_dispatched_at_idx ON mengla_executions (dispatched_at DESC);`

type PostgresExecutionLog struct {
	db *sql.DB
}

func NewPostgresExecutionLog(db *sql.DB) *PostgresExecutionLog {
	return &PostgresExecutionLog{db: db}
}

func (l *PostgresExecutionLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, executionsSchema); err != nil {
		return fmt.Errorf("create mengla_executions: %w", err)
	}
	return nil
}

func (l *PostgresExecutionLog) Dispatched(ctx context.Context, rec ExecutionRecord) error {
	var params interface{}
	if len(rec.Parameters) > 0 {
		params = []byte(rec.Parameters)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO mengla_executions (execution_id, cache_key, action, parameters, status, dispatched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (execution_id) DO NOTHING`,
		rec.ExecutionID, rec.CacheKey, rec.Action, params, string(StatusDispatched), rec.DispatchedAt)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", rec.ExecutionID, err)
	}
	return nil
}

// Delivered stamps the first delivery time. A row that already timed out keeps
// its status so late deliveries stay visible as such.
func (l *PostgresExecutionLog) Delivered(ctx context.Context, executionID string, at time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE mengla_executions
		SET delivered_at = COALESCE(delivered_at, $2),
		    status = CASE WHEN status = 'dispatched' THEN 'delivered' ELSE status END
		WHERE execution_id = $1`,
		executionID, at)
	if err != nil {
		return fmt.Errorf("mark execution %s delivered: %w", executionID, err)
	}
	return nil
}

func (l *PostgresExecutionLog) Finished(ctx context.Context, executionID string, status ExecutionStatus, at time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE mengla_executions
		SET status = $2, resolved_at = $3
		WHERE execution_id = $1`,
		executionID, string(status), at)
	if err != nil {
		return fmt.Errorf("mark execution %s %s: %w", executionID, status, err)
	}
	return nil
}

func (l *PostgresExecutionLog) Recent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT execution_id, cache_key, action, parameters, status, dispatched_at, delivered_at, resolved_at
		FROM mengla_executions
		ORDER BY dispatched_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var (
			rec       ExecutionRecord
			status    string
			params    []byte
			delivered sql.NullTime
			resolved  sql.NullTime
		)
		if err := rows.Scan(&rec.ExecutionID, &rec.CacheKey, &rec.Action, &params, &status,
			&rec.DispatchedAt, &delivered, &resolved); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Status = ExecutionStatus(status)
		if len(params) > 0 {
			rec.Parameters = params
		}
		if delivered.Valid {
			t := delivered.Time
			rec.DeliveredAt = &t
		}
		if resolved.Valid {
			t := resolved.Time
			rec.ResolvedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type nopExecutionLog struct{}

func (nopExecutionLog) Dispatched(context.Context, ExecutionRecord) error { return nil }
func (nopExecutionLog) Delivered(context.Context, string, time.Time) error { return nil }
func (nopExecutionLog) Finished(context.Context, string, ExecutionStatus, time.Time) error {
	return nil
}
func (nopExecutionLog) Recent(context.Context, int) ([]ExecutionRecord, error) { return nil, nil }
