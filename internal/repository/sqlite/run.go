package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/autofix-playground/internal/model"
	"github.com/sakif/autofix-playground/internal/repository"
)

var _ repository.RunRepository = (*DB)(nil)

// CreateRun appends a record to a workspace's history. Latency is stored
// in whole milliseconds.
func (db *DB) CreateRun(ctx context.Context, run *model.RunRecord) error {
	run.ID = xid.New().String()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (id, workspace_id, kind, state, attempts, had_error, latency_ms, output, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.WorkspaceID,
		string(run.Kind),
		string(run.State),
		run.Attempts,
		run.HadError,
		run.Latency.Milliseconds(),
		run.Output,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting run for workspace %s: %w", run.WorkspaceID, err)
	}
	return nil
}

// ListRuns returns a workspace's runs, newest first.
func (db *DB) ListRuns(ctx context.Context, workspaceID string, opts repository.ListOptions) ([]model.RunRecord, error) {
	limit, offset := page(opts)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, workspace_id, kind, state, attempts, had_error, latency_ms, output, created_at
		 FROM runs
		 WHERE workspace_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		workspaceID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing runs of workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	runs := make([]model.RunRecord, 0, limit)
	for rows.Next() {
		var (
			r         model.RunRecord
			kind      string
			state     string
			latencyMS int64
		)
		if err := rows.Scan(
			&r.ID, &r.WorkspaceID, &kind, &state, &r.Attempts, &r.HadError,
			&latencyMS, &r.Output, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning run row: %w", err)
		}
		r.Kind = model.RunKind(kind)
		r.State = model.RunState(state)
		r.Latency = time.Duration(latencyMS) * time.Millisecond
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating runs: %w", err)
	}
	return runs, nil
}
