// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Two kinds of service live here. WorkspaceService is plain CRUD plus token
// issuance. Orchestrator is the run/fix/retry/continue state machine, and
// Playground keeps one Orchestrator per workspace for the HTTP layer.
// Both are usable without HTTP: the CLI drives an Orchestrator directly.
//
// THE DEPENDENCY CHAIN:
//
//	main.go creates:  DB → Repository → Service → Handler
//	At runtime:       Handler calls Service calls Repository calls DB
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/auth"
	"github.com/sakif/autofix-playground/internal/executor"
	"github.com/sakif/autofix-playground/internal/model"
	"github.com/sakif/autofix-playground/internal/repository"
)

// Validation constants.
const (
	MaxWorkspaceNameLength = 100
	MaxCodeLength          = 100000 // ~100KB of code
	DefaultListLimit       = 20
	MaxListLimit           = 100
)

// WorkspaceService handles workspace CRUD and access tokens.
type WorkspaceService struct {
	repo    repository.WorkspaceRepository
	runs    repository.RunRepository
	tokens  *auth.TokenService
	secrets *auth.SecretService
	logger  *slog.Logger
}

// NewWorkspaceService creates a new WorkspaceService.
func NewWorkspaceService(
	repo repository.WorkspaceRepository,
	runs repository.RunRepository,
	tokens *auth.TokenService,
	secrets *auth.SecretService,
	logger *slog.Logger,
) *WorkspaceService {
	return &WorkspaceService{
		repo:    repo,
		runs:    runs,
		tokens:  tokens,
		secrets: secrets,
		logger:  logger,
	}
}

// CreateWorkspaceInput is what a client sends to create a workspace.
// Secret is optional; without it the first token is the only one ever issued.
type CreateWorkspaceInput struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Code     string `json:"code"`
	Secret   string `json:"secret,omitempty"`
}

// UpdateWorkspaceInput carries optional changes; nil fields are kept.
type UpdateWorkspaceInput struct {
	Name     *string `json:"name,omitempty"`
	Language *string `json:"language,omitempty"`
	Code     *string `json:"code,omitempty"`
}

// WorkspaceWithToken is returned on creation so the client can call the
// authenticated routes right away.
type WorkspaceWithToken struct {
	Workspace *model.Workspace `json:"workspace"`
	Token     string           `json:"token"`
}

// Create validates the input, stores the workspace and issues its first token.
func (s *WorkspaceService) Create(ctx context.Context, in CreateWorkspaceInput) (*WorkspaceWithToken, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	language, err := validateLanguage(in.Language)
	if err != nil {
		return nil, err
	}
	if err := validateCode(in.Code); err != nil {
		return nil, err
	}

	ws := &model.Workspace{
		Name:     name,
		Language: language,
		Code:     in.Code,
	}
	if in.Secret != "" {
		hash, err := s.secrets.Hash(in.Secret)
		if err != nil {
			return nil, err
		}
		ws.SecretHash = hash
	}

	if err := s.repo.Create(ctx, ws); err != nil {
		s.logger.Error("failed to create workspace",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	token, err := s.tokens.Generate(ws.ID)
	if err != nil {
		return nil, fmt.Errorf("service/workspace: generating token for %s: %w", ws.ID, err)
	}

	s.logger.Info("workspace created",
		slog.String("id", ws.ID),
		slog.String("language", ws.Language),
	)
	return &WorkspaceWithToken{Workspace: ws, Token: token}, nil
}

// IssueToken mints a new token for a workspace whose secret matches.
func (s *WorkspaceService) IssueToken(ctx context.Context, id, secret string) (string, error) {
	ws, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if err := s.secrets.Verify(ws.SecretHash, secret); err != nil {
		s.logger.Warn("token request rejected", slog.String("id", id))
		return "", err
	}

	token, err := s.tokens.Generate(ws.ID)
	if err != nil {
		return "", fmt.Errorf("service/workspace: generating token for %s: %w", ws.ID, err)
	}
	return token, nil
}

// GetByID returns a workspace or apperror.ErrNotFound.
func (s *WorkspaceService) GetByID(ctx context.Context, id string) (*model.Workspace, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "workspace ID is required")
	}
	return s.repo.GetByID(ctx, id)
}

// Update applies the non-nil fields of in.
func (s *WorkspaceService) Update(ctx context.Context, id string, in UpdateWorkspaceInput) (*model.Workspace, error) {
	ws, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if ws.Name, err = validateName(*in.Name); err != nil {
			return nil, err
		}
	}
	if in.Language != nil {
		if ws.Language, err = validateLanguage(*in.Language); err != nil {
			return nil, err
		}
	}
	if in.Code != nil {
		if err := validateCode(*in.Code); err != nil {
			return nil, err
		}
		ws.Code = *in.Code
	}

	if err := s.repo.Update(ctx, ws); err != nil {
		s.logger.Error("failed to update workspace",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating workspace: %w", err)
	}

	s.logger.Info("workspace updated", slog.String("id", ws.ID))
	return ws, nil
}

// Delete removes a workspace and its run history.
func (s *WorkspaceService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "workspace ID is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("workspace deleted", slog.String("id", id))
	return nil
}

// ListRuns returns the run history of a workspace, newest first.
func (s *WorkspaceService) ListRuns(ctx context.Context, id string, limit, offset int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, err := s.runs.ListRuns(ctx, id, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("failed to list runs", slog.String("id", id), slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.ValidationFailed("name", "workspace name is required")
	}
	if len(name) > MaxWorkspaceNameLength {
		return "", apperror.ValidationFailed("name",
			fmt.Sprintf("workspace name must be %d characters or less", MaxWorkspaceNameLength))
	}
	return name, nil
}

func validateLanguage(language string) (string, error) {
	lang, ok := executor.LookupLanguage(language)
	if !ok {
		return "", apperror.ValidationFailed("language",
			fmt.Sprintf("unsupported language %q (supported: %s)", language, strings.Join(executor.LanguageNames(), ", ")))
	}
	return lang.Name, nil
}

func validateCode(code string) error {
	if len(code) > MaxCodeLength {
		return apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}
	return nil
}
