package chunk

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/autofix-playground/internal/executor"
	"github.com/sakif/autofix-playground/internal/model"
)

// Runner performs one stateless program run. *executor.Client satisfies it.
type Runner interface {
	RunOnce(ctx context.Context, language, code, stdin string) (*executor.ExecutionResult, error)
}

// Config bounds the cost of a bisection.
type Config struct {
	// MaxChunks caps the number of prefix runs; more chunks are coalesced.
	MaxChunks int
	// Concurrency is the number of prefix runs in flight. 1 runs them in
	// order and stops at the first failure.
	Concurrency int
	// Budget is the wall-clock limit for the prefix runs. When it is
	// exhausted the whole source is reported as the failing region.
	Budget time.Duration
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxChunks:   12,
		Concurrency: 1,
		Budget:      30 * time.Second,
	}
}

// Bisector finds the first chunk whose inclusion makes a program fail.
type Bisector struct {
	runner Runner
	config Config
	logger *slog.Logger
}

// NewBisector creates a Bisector that executes probes through runner.
func NewBisector(runner Runner, cfg Config, logger *slog.Logger) *Bisector {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Bisector{
		runner: runner,
		config: cfg,
		logger: logger,
	}
}

// Bisect splits source for language and localizes its failure. It returns
// nil when the full program runs without an error signal.
func (b *Bisector) Bisect(ctx context.Context, language, source string) (*model.ErrorAnalysis, error) {
	return b.BisectChunks(ctx, language, SplitFor(language, source))
}

// BisectChunks localizes the failure of strings.Join(chunks, "").
//
// Errors from the execution service are returned as is; a run that merely
// fails is data, not an error.
func (b *Bisector) BisectChunks(ctx context.Context, language string, chunks []string) (*model.ErrorAnalysis, error) {
	source := strings.Join(chunks, "")

	full, err := b.runner.RunOnce(ctx, language, source, "")
	if err != nil {
		return nil, err
	}
	if !full.HadError {
		return nil, nil
	}

	chunks = Coalesce(chunks, b.config.MaxChunks)
	fallback := &model.ErrorAnalysis{
		ChunkIndex:   0,
		ChunkText:    source,
		ErrorMessage: errorMessage(full),
		FullCode:     source,
	}
	if len(chunks) <= 1 {
		fallback.Localized = len(chunks) == 1
		return fallback, nil
	}

	probeCtx := ctx
	if b.config.Budget > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, b.config.Budget)
		defer cancel()
	}

	// the last prefix is the full source, which is already known to fail
	failing, msg, err := b.probe(probeCtx, language, chunks[:len(chunks)-1])
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil && errors.Is(probeCtx.Err(), context.DeadlineExceeded):
		b.logger.Warn("bisection budget exhausted, reporting whole source",
			slog.String("language", language),
			slog.Duration("budget", b.config.Budget),
		)
		return fallback, nil
	case err != nil:
		return nil, err
	}

	if failing < 0 {
		failing, msg = len(chunks)-1, fallback.ErrorMessage
	}

	b.logger.Debug("failure localized",
		slog.String("language", language),
		slog.Int("chunk", failing),
		slog.Int("chunks", len(chunks)),
	)
	return &model.ErrorAnalysis{
		ChunkIndex:   failing,
		ChunkText:    chunks[failing],
		ErrorMessage: msg,
		FullCode:     source,
		Localized:    true,
	}, nil
}

// probe runs every prefix of chunks and returns the lowest failing index,
// or -1 when all prefixes succeed.
func (b *Bisector) probe(ctx context.Context, language string, chunks []string) (int, string, error) {
	prefixes := make([]string, len(chunks))
	var sb strings.Builder
	for i, c := range chunks {
		sb.WriteString(c)
		prefixes[i] = sb.String()
	}

	if b.config.Concurrency == 1 {
		for i, prefix := range prefixes {
			res, err := b.runner.RunOnce(ctx, language, prefix, "")
			if err != nil {
				return -1, "", err
			}
			if res.HadError {
				return i, errorMessage(res), nil
			}
		}
		return -1, "", nil
	}

	// Results may land in any order. Every index keeps its own slot and the
	// minimum is taken once all probes have finished; probes above a known
	// failure are skipped since they cannot lower the answer.
	var lowest atomic.Int64
	lowest.Store(int64(len(prefixes)))
	messages := make([]string, len(prefixes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Concurrency)
	for i, prefix := range prefixes {
		if int64(i) > lowest.Load() {
			break
		}
		g.Go(func() error {
			if int64(i) > lowest.Load() {
				return nil
			}
			res, err := b.runner.RunOnce(gctx, language, prefix, "")
			if err != nil {
				return err
			}
			if res.HadError {
				messages[i] = errorMessage(res)
				for {
					cur := lowest.Load()
					if int64(i) >= cur || lowest.CompareAndSwap(cur, int64(i)) {
						break
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return -1, "", err
	}

	if idx := int(lowest.Load()); idx < len(prefixes) {
		return idx, messages[idx], nil
	}
	return -1, "", nil
}

// errorMessage is the verbatim stderr of a failed run, or its combined
// output when the service reported no separate stderr.
func errorMessage(res *executor.ExecutionResult) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Output
}
