package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/model"
	"github.com/sakif/autofix-playground/internal/repository"
)

// Compile-time check: *DB must satisfy the interface or the build fails.
var _ repository.WorkspaceRepository = (*DB)(nil)

const workspaceColumns = `id, name, language, code, secret_hash, created_at, updated_at`

// Create inserts a workspace, assigning its ID and timestamps in place.
//
// xid ids are 20 characters, sortable by creation time and need no
// coordination, which keeps inserts a single statement.
func (db *DB) Create(ctx context.Context, ws *model.Workspace) error {
	ws.ID = xid.New().String()

	now := time.Now()
	ws.CreatedAt = now
	ws.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO workspaces (`+workspaceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ws.ID,
		ws.Name,
		ws.Language,
		ws.Code,
		ws.SecretHash,
		ws.CreatedAt,
		ws.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating workspace: %w", err)
	}

	return nil
}

// GetByID returns the workspace or an apperror.ErrNotFound.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Workspace, error) {
	var ws model.Workspace

	err := db.conn.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`,
		id,
	).Scan(
		&ws.ID,
		&ws.Name,
		&ws.Language,
		&ws.Code,
		&ws.SecretHash,
		&ws.CreatedAt,
		&ws.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("workspace", id)
		}
		return nil, fmt.Errorf("sqlite: getting workspace %s: %w", id, err)
	}

	return &ws, nil
}

// List returns workspaces newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Workspace, error) {
	limit, offset := page(opts)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+workspaceColumns+`
		 FROM workspaces
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing workspaces: %w", err)
	}
	defer rows.Close()

	workspaces := make([]model.Workspace, 0, limit)
	for rows.Next() {
		var ws model.Workspace
		if err := rows.Scan(
			&ws.ID, &ws.Name, &ws.Language, &ws.Code, &ws.SecretHash,
			&ws.CreatedAt, &ws.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning workspace row: %w", err)
		}
		workspaces = append(workspaces, ws)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating workspaces: %w", err)
	}

	return workspaces, nil
}

// Update overwrites name, language and code.
func (db *DB) Update(ctx context.Context, ws *model.Workspace) error {
	ws.UpdatedAt = time.Now()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE workspaces
		 SET name = ?, language = ?, code = ?, updated_at = ?
		 WHERE id = ?`,
		ws.Name,
		ws.Language,
		ws.Code,
		ws.UpdatedAt,
		ws.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating workspace %s: %w", ws.ID, err)
	}

	return expectOneRow(result, "workspace", ws.ID)
}

// UpdateCode replaces the source only. Fixes applied by a run go through
// here so they never clobber a concurrent rename.
func (db *DB) UpdateCode(ctx context.Context, id, code string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE workspaces SET code = ?, updated_at = ? WHERE id = ?`,
		code,
		time.Now(),
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating code of workspace %s: %w", id, err)
	}

	return expectOneRow(result, "workspace", id)
}

// Delete removes a workspace and, through the foreign key, its runs.
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM workspaces WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting workspace %s: %w", id, err)
	}

	return expectOneRow(result, "workspace", id)
}

// expectOneRow turns "no rows affected" into apperror.ErrNotFound.
func expectOneRow(result sql.Result, resource, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

func page(opts repository.ListOptions) (limit, offset int) {
	limit = opts.Limit
	if limit <= 0 {
		limit = 20 // Default page size
	}
	if limit > 100 {
		limit = 100 // max page size
	}

	offset = opts.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
