package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/autofix-playground/internal/model"
	"github.com/sakif/autofix-playground/internal/repository"
)

// Assistant is a FixGenerator that can also answer questions (*fixer.Fixer).
type Assistant interface {
	FixGenerator
	Ask(ctx context.Context, question string) (string, error)
}

// Playground owns one Orchestrator per workspace. The workspace row is the
// orchestrator's Document, so fixes are persisted as they are applied, and
// every finished operation is appended to the workspace's run history.
type Playground struct {
	workspaces repository.WorkspaceRepository
	runs       repository.RunRepository
	runner     Runner
	analyzer   Analyzer
	assistant  Assistant
	config     OrchestratorConfig
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]*playgroundEntry
}

type playgroundEntry struct {
	orch   *Orchestrator
	events *broadcaster
}

// NewPlayground creates an empty registry.
func NewPlayground(
	workspaces repository.WorkspaceRepository,
	runs repository.RunRepository,
	runner Runner,
	analyzer Analyzer,
	assistant Assistant,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Playground {
	return &Playground{
		workspaces: workspaces,
		runs:       runs,
		runner:     runner,
		analyzer:   analyzer,
		assistant:  assistant,
		config:     cfg,
		logger:     logger,
		entries:    make(map[string]*playgroundEntry),
	}
}

// Run runs the workspace's code through the fix loop.
func (p *Playground) Run(ctx context.Context, workspaceID string) (Snapshot, error) {
	e, err := p.entry(ctx, workspaceID)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := e.orch.Run(ctx)
	p.record(workspaceID, model.KindRun, snap, err)
	return snap, err
}

// SubmitInput sends a line of input to the workspace's suspended run.
func (p *Playground) SubmitInput(ctx context.Context, workspaceID, text string) (Snapshot, error) {
	e, err := p.entry(ctx, workspaceID)
	if err != nil {
		return Snapshot{}, err
	}
	if strings.TrimSpace(text) == "" {
		return e.orch.Snapshot(), nil
	}
	snap, err := e.orch.SubmitInput(ctx, text)
	p.record(workspaceID, model.KindInput, snap, err)
	return snap, err
}

// Compose replaces the workspace's code with generated code and runs it.
func (p *Playground) Compose(ctx context.Context, workspaceID, prompt string) (Snapshot, error) {
	e, err := p.entry(ctx, workspaceID)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := e.orch.Compose(ctx, prompt)
	if snap.State != "" {
		p.record(workspaceID, model.KindCompose, snap, err)
	}
	return snap, err
}

// Ask answers a question without touching the workspace.
func (p *Playground) Ask(ctx context.Context, question string) (string, error) {
	return p.assistant.Ask(ctx, question)
}

// Snapshot returns the current state of a workspace's orchestrator.
func (p *Playground) Snapshot(ctx context.Context, workspaceID string) (Snapshot, error) {
	e, err := p.entry(ctx, workspaceID)
	if err != nil {
		return Snapshot{}, err
	}
	return e.orch.Snapshot(), nil
}

// Subscribe streams the workspace's events until cancel is called or the
// workspace is forgotten, whichever comes first. The channel is closed then.
func (p *Playground) Subscribe(ctx context.Context, workspaceID string) (<-chan Event, func(), error) {
	e, err := p.entry(ctx, workspaceID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := e.events.subscribe()
	return ch, cancel, nil
}

// Forget stops and drops a workspace's orchestrator, e.g. after deletion.
func (p *Playground) Forget(workspaceID string) {
	p.mu.Lock()
	e, ok := p.entries[workspaceID]
	delete(p.entries, workspaceID)
	p.mu.Unlock()

	if ok {
		e.orch.Close()
		e.events.closeAll()
	}
}

// Close stops every orchestrator.
func (p *Playground) Close() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*playgroundEntry)
	p.mu.Unlock()

	for _, e := range entries {
		e.orch.Close()
		e.events.closeAll()
	}
}

// entry returns the orchestrator of an existing workspace, creating it on
// first use.
func (p *Playground) entry(ctx context.Context, workspaceID string) (*playgroundEntry, error) {
	p.mu.Lock()
	e, ok := p.entries[workspaceID]
	p.mu.Unlock()
	if ok {
		return e, nil
	}

	if _, err := p.workspaces.GetByID(ctx, workspaceID); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[workspaceID]; ok {
		return e, nil
	}

	events := newBroadcaster()
	logger := p.logger.With(slog.String("workspace", workspaceID))
	doc := &workspaceDocument{id: workspaceID, repo: p.workspaces}
	orch := NewOrchestrator(doc, p.runner, p.analyzer, p.assistant, p.config, Hooks{
		OnFixApplied: func(_ context.Context, attempt int, _ string) {
			logger.Info("fix applied to workspace", slog.Int("attempt", attempt))
		},
		Observer: events.publish,
	}, logger)

	e = &playgroundEntry{orch: orch, events: events}
	p.entries[workspaceID] = e
	return e, nil
}

// record appends a finished operation to the run history. Superseded runs
// are not recorded; the run that replaced them will be.
func (p *Playground) record(workspaceID string, kind model.RunKind, snap Snapshot, runErr error) {
	if errors.Is(runErr, ErrSuperseded) {
		return
	}

	run := &model.RunRecord{
		WorkspaceID: workspaceID,
		Kind:        kind,
		State:       snap.State,
		Attempts:    snap.Attempts,
		HadError:    snap.HadError || runErr != nil,
		Latency:     snap.Latency,
		Output:      strings.Join(snap.Transcript, "\n"),
	}

	// the request context may already be gone; history is written regardless
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.runs.CreateRun(ctx, run); err != nil {
		p.logger.Error("failed to record run",
			slog.String("workspace", workspaceID),
			slog.String("error", err.Error()),
		)
	}
}

// workspaceDocument adapts a stored workspace to the Document interface.
type workspaceDocument struct {
	id   string
	repo repository.WorkspaceRepository
}

func (d *workspaceDocument) Value(ctx context.Context) (model.SourceDocument, error) {
	ws, err := d.repo.GetByID(ctx, d.id)
	if err != nil {
		return model.SourceDocument{}, err
	}
	return model.SourceDocument{Language: ws.Language, Text: ws.Code}, nil
}

func (d *workspaceDocument) SetValue(ctx context.Context, text string) error {
	if err := d.repo.UpdateCode(ctx, d.id, text); err != nil {
		return fmt.Errorf("saving workspace %s: %w", d.id, err)
	}
	return nil
}
