// Package repository declares the storage interfaces the service layer
// depends on. Implementations live in subpackages (see sqlite).
package repository

import (
	"context"

	"github.com/sakif/autofix-playground/internal/model"
)

// ListOptions pages through a listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// WorkspaceRepository stores workspaces: a program, its language and the
// hash of the secret that guards it.
type WorkspaceRepository interface {
	Create(ctx context.Context, ws *model.Workspace) error
	GetByID(ctx context.Context, id string) (*model.Workspace, error)
	List(ctx context.Context, opts ListOptions) ([]model.Workspace, error)
	Update(ctx context.Context, ws *model.Workspace) error
	// UpdateCode replaces only the source, leaving name and language alone.
	UpdateCode(ctx context.Context, id, code string) error
	Delete(ctx context.Context, id string) error
}

// RunRepository stores the run history of workspaces.
type RunRepository interface {
	CreateRun(ctx context.Context, run *model.RunRecord) error
	ListRuns(ctx context.Context, workspaceID string, opts ListOptions) ([]model.RunRecord, error)
}
