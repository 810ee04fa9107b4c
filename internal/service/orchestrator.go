package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/executor"
	"github.com/sakif/autofix-playground/internal/model"
)

// Document is the externally owned source the orchestrator runs and repairs.
// The orchestrator only reads and replaces it; it never locks it.
type Document interface {
	Value(ctx context.Context) (model.SourceDocument, error)
	SetValue(ctx context.Context, text string) error
}

// Runner executes programs and continues suspended ones (*executor.Client).
type Runner interface {
	Execute(ctx context.Context, p executor.ExecuteParams) (*executor.ExecutionResult, error)
	Discard(sessionID string)
}

// Analyzer localizes a failure to a chunk of source (*chunk.Bisector).
type Analyzer interface {
	Bisect(ctx context.Context, language, source string) (*model.ErrorAnalysis, error)
}

// FixGenerator produces replacement source (*fixer.Fixer).
type FixGenerator interface {
	GenerateFix(ctx context.Context, a model.ErrorAnalysis) (string, error)
	GenerateCode(ctx context.Context, language, prompt string) (string, error)
}

// ErrSuperseded is returned by a Run or SubmitInput whose result was
// discarded because a newer request started on the same orchestrator.
var ErrSuperseded = &apperror.AppError{
	Err:     apperror.ErrConflict,
	Message: "run was superseded by a newer request",
}

// OrchestratorConfig bounds the fix loop.
type OrchestratorConfig struct {
	// MaxFixAttempts is how many fixes one Run may apply before giving up.
	MaxFixAttempts int
	// Backoff is multiplied by the attempt number and waited before
	// re-analyzing a fixed document.
	Backoff time.Duration
	// RunTimeout bounds the final execution of a Run or SubmitInput.
	RunTimeout time.Duration
}

// DefaultOrchestratorConfig returns three attempts with a short backoff.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxFixAttempts: 3,
		Backoff:        500 * time.Millisecond,
		RunTimeout:     30 * time.Second,
	}
}

// Snapshot is the observable state of an orchestrator.
type Snapshot struct {
	State      model.RunState       `json:"state"`
	Transcript []string             `json:"transcript"`
	HadError   bool                 `json:"hadError"`
	Latency    time.Duration        `json:"latency"`
	SessionID  string               `json:"sessionId,omitempty"`
	Attempts   int                  `json:"attempts"`
	Analysis   *model.ErrorAnalysis `json:"analysis,omitempty"`
}

// Event is published on every state change and on every batch of output.
type Event struct {
	State     model.RunState       `json:"state"`
	Lines     []string             `json:"lines,omitempty"`
	Attempt   int                  `json:"attempt,omitempty"`
	SessionID string               `json:"sessionId,omitempty"`
	Analysis  *model.ErrorAnalysis `json:"analysis,omitempty"`
	At        time.Time            `json:"at"`
}

// Hooks are the callbacks an orchestrator reports through. Both are optional.
type Hooks struct {
	// OnFixApplied runs after a fix was written to the document, before
	// the document is analyzed again.
	OnFixApplied func(ctx context.Context, attempt int, code string)
	// Observer receives every Event. It is called without internal locks
	// held and must not block for long.
	Observer func(Event)
}

// Orchestrator drives one document through the run → bisect → fix → re-run
// loop and through interactive input.
//
// STATE MACHINE:
//
//	idle → analyzing → (fixing → analyzing)* → running → (awaiting_input ⇄ running)* → completed | errored
//
// CANCELLATION:
// Every Run and SubmitInput gets a generation number. Starting a new one
// cancels the context of the previous one, and any state change attempted
// by a stale generation is dropped, so a late network answer can never
// overwrite the state of the newer request.
type Orchestrator struct {
	doc      Document
	runner   Runner
	analyzer Analyzer
	fixer    FixGenerator
	config   OrchestratorConfig
	hooks    Hooks
	logger   *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	snap   Snapshot
}

// NewOrchestrator wires an orchestrator for doc.
func NewOrchestrator(doc Document, runner Runner, analyzer Analyzer, fixer FixGenerator, cfg OrchestratorConfig, hooks Hooks, logger *slog.Logger) *Orchestrator {
	if cfg.MaxFixAttempts < 0 {
		cfg.MaxFixAttempts = 0
	}
	return &Orchestrator{
		doc:      doc,
		runner:   runner,
		analyzer: analyzer,
		fixer:    fixer,
		config:   cfg,
		hooks:    hooks,
		logger:   logger,
		snap:     Snapshot{State: model.RunIdle},
	}
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := o.snap
	s.Transcript = append([]string(nil), o.snap.Transcript...)
	if o.snap.Analysis != nil {
		a := *o.snap.Analysis
		s.Analysis = &a
	}
	return s
}

// Run analyzes the document, applies up to MaxFixAttempts fixes, then
// executes it once and classifies the result.
func (o *Orchestrator) Run(ctx context.Context) (Snapshot, error) {
	runCtx, gen, prevSession := o.begin(ctx, true)
	defer o.finish(gen)
	o.runner.Discard(prevSession)

	doc, err := o.doc.Value(runCtx)
	if err != nil {
		return o.fail(gen, fmt.Errorf("service: reading document: %w", err))
	}

	for attempt := 0; ; attempt++ {
		if !o.transition(gen, model.RunAnalyzing, nil) {
			return Snapshot{}, ErrSuperseded
		}

		analysis, err := o.analyzer.Bisect(runCtx, doc.Language, doc.Text)
		if err != nil {
			return o.fail(gen, err)
		}
		if analysis == nil {
			break
		}

		if attempt >= o.config.MaxFixAttempts {
			o.logger.Info("fix attempts exhausted",
				slog.Int("attempts", attempt),
				slog.Int("chunk", analysis.ChunkIndex),
			)
			if !o.update(gen, func(s *Snapshot) []string {
				s.State = model.RunErrored
				s.HadError = true
				s.Analysis = analysis
				lines := splitLines(analysis.ErrorMessage)
				s.Transcript = append(s.Transcript, lines...)
				return lines
			}) {
				return Snapshot{}, ErrSuperseded
			}
			return o.Snapshot(), nil
		}

		if !o.update(gen, func(s *Snapshot) []string {
			s.State = model.RunFixing
			s.Attempts = attempt + 1
			s.Analysis = analysis
			return nil
		}) {
			return Snapshot{}, ErrSuperseded
		}

		fixed, err := o.fixer.GenerateFix(runCtx, *analysis)
		if err != nil {
			if runCtx.Err() != nil {
				return o.fail(gen, runCtx.Err())
			}
			// the document stays as it was and is executed as is
			o.logger.Warn("fix generation failed, running unchanged code",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			break
		}

		if err := o.doc.SetValue(runCtx, fixed); err != nil {
			return o.fail(gen, fmt.Errorf("service: applying fix: %w", err))
		}
		doc.Text = fixed
		if o.hooks.OnFixApplied != nil {
			o.hooks.OnFixApplied(runCtx, attempt+1, fixed)
		}

		if err := o.sleep(runCtx, time.Duration(attempt+1)*o.config.Backoff); err != nil {
			return o.fail(gen, err)
		}
	}

	return o.execute(runCtx, gen, executor.ExecuteParams{
		Language: doc.Language,
		Code:     doc.Text,
	})
}

// SubmitInput forwards one line of input to the suspended program. Blank
// input is ignored. Without an active session the program runs fresh with
// text as its stdin.
func (o *Orchestrator) SubmitInput(ctx context.Context, text string) (Snapshot, error) {
	if strings.TrimSpace(text) == "" {
		return o.Snapshot(), nil
	}

	runCtx, gen, _ := o.begin(ctx, false)
	defer o.finish(gen)

	doc, err := o.doc.Value(runCtx)
	if err != nil {
		return o.fail(gen, fmt.Errorf("service: reading document: %w", err))
	}

	var sessionID string
	if !o.update(gen, func(s *Snapshot) []string {
		sessionID = s.SessionID
		echo := "> " + text
		s.State = model.RunRunning
		s.Transcript = append(s.Transcript, echo)
		return []string{echo}
	}) {
		return Snapshot{}, ErrSuperseded
	}

	return o.execute(runCtx, gen, executor.ExecuteParams{
		Language:  doc.Language,
		Code:      doc.Text,
		Stdin:     text + "\n",
		SessionID: sessionID,
	})
}

// Compose replaces the document with code generated from prompt and runs it.
func (o *Orchestrator) Compose(ctx context.Context, prompt string) (Snapshot, error) {
	doc, err := o.doc.Value(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("service: reading document: %w", err)
	}
	code, err := o.fixer.GenerateCode(ctx, doc.Language, prompt)
	if err != nil {
		return Snapshot{}, err
	}
	if err := o.doc.SetValue(ctx, code); err != nil {
		return Snapshot{}, fmt.Errorf("service: applying generated code: %w", err)
	}
	return o.Run(ctx)
}

// Close cancels any in-flight request and drops a suspended session.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.gen++
	session := o.snap.SessionID
	o.snap.SessionID = ""
	o.mu.Unlock()

	o.runner.Discard(session)
}

// execute performs the timed run and classifies its result.
func (o *Orchestrator) execute(ctx context.Context, gen uint64, p executor.ExecuteParams) (Snapshot, error) {
	if !o.transition(gen, model.RunRunning, nil) {
		return Snapshot{}, ErrSuperseded
	}

	if o.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := o.runner.Execute(ctx, p)
	latency := time.Since(start)
	if err != nil {
		return o.fail(gen, err)
	}

	if !o.update(gen, func(s *Snapshot) []string {
		s.Latency = latency
		s.HadError = res.HadError
		s.SessionID = res.SessionID
		switch {
		case res.Status == executor.StatusAwaitingInput && res.SessionID != "":
			s.State = model.RunAwaitingInput
		case res.HadError:
			s.State = model.RunErrored
		default:
			s.State = model.RunCompleted
		}
		lines := splitLines(res.Output)
		s.Transcript = append(s.Transcript, lines...)
		return lines
	}) {
		return Snapshot{}, ErrSuperseded
	}

	snap := o.Snapshot()
	o.logger.Info("run finished",
		slog.String("state", string(snap.State)),
		slog.Duration("latency", latency),
		slog.Int("attempts", snap.Attempts),
	)
	return snap, nil
}

// begin starts a new generation, cancelling the previous one. reset clears
// the transient state of the previous run and returns its session id.
func (o *Orchestrator) begin(ctx context.Context, reset bool) (context.Context, uint64, string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.gen++

	var prevSession string
	if reset {
		prevSession = o.snap.SessionID
		o.snap = Snapshot{State: model.RunIdle}
	}
	return runCtx, o.gen, prevSession
}

func (o *Orchestrator) finish(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen == gen && o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// update applies patch if gen is still current and publishes the change.
// patch returns the transcript lines it appended.
func (o *Orchestrator) update(gen uint64, patch func(s *Snapshot) []string) bool {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return false
	}
	lines := patch(&o.snap)
	ev := Event{
		State:     o.snap.State,
		Lines:     lines,
		Attempt:   o.snap.Attempts,
		SessionID: o.snap.SessionID,
		Analysis:  o.snap.Analysis,
		At:        time.Now(),
	}
	o.mu.Unlock()

	if o.hooks.Observer != nil {
		o.hooks.Observer(ev)
	}
	return true
}

func (o *Orchestrator) transition(gen uint64, state model.RunState, lines []string) bool {
	return o.update(gen, func(s *Snapshot) []string {
		s.State = state
		s.Transcript = append(s.Transcript, lines...)
		return lines
	})
}

// fail records err in the transcript. The state becomes errored unless a
// session is still suspended, in which case the input can be resubmitted.
// A stale generation reports ErrSuperseded instead.
func (o *Orchestrator) fail(gen uint64, err error) (Snapshot, error) {
	if !o.update(gen, func(s *Snapshot) []string {
		if s.SessionID != "" {
			s.State = model.RunAwaitingInput
		} else {
			s.State = model.RunErrored
			s.HadError = true
		}
		line := "Error: " + err.Error()
		s.Transcript = append(s.Transcript, line)
		return []string{line}
	}) {
		return Snapshot{}, ErrSuperseded
	}

	if errors.Is(err, context.Canceled) {
		o.logger.Debug("run cancelled")
	} else {
		o.logger.Error("run failed", slog.String("error", err.Error()))
	}
	return o.Snapshot(), err
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitLines turns program output into transcript lines. A trailing newline
// does not produce an empty last line.
func splitLines(output string) []string {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return nil
	}
	return strings.Split(output, "\n")
}
