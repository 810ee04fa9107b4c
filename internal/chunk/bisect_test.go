package chunk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/executor"
)

// fakeRunner fails any program containing one of the broken markers and
// records every program it was asked to run.
type fakeRunner struct {
	mu     sync.Mutex
	broken []string
	delay  func(code string) time.Duration
	err    error
	calls  []string
}

func (f *fakeRunner) RunOnce(ctx context.Context, language, code, stdin string) (*executor.ExecutionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, code)
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(code)):
		case <-ctx.Done():
			return nil, apperror.Network("execution service", ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	for _, marker := range f.broken {
		if strings.Contains(code, marker) {
			msg := "NameError: name '" + marker + "' is not defined\n"
			return &executor.ExecutionResult{Output: msg, Stderr: msg, HadError: true, ExitCode: 1, Status: executor.StatusErrored}, nil
		}
	}
	return &executor.ExecutionResult{Output: "ok\n", Stdout: "ok\n", Status: executor.StatusCompleted}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newBisector(r Runner, cfg Config) *Bisector {
	return NewBisector(r, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const fiveChunks = "a = 1\n\nb = 2\n\nprint(bad_c)\n\nd = 4\n\nprint(bad_e)\n"

func TestBisect_SuccessNeverProbesPrefixes(t *testing.T) {
	runner := &fakeRunner{}
	b := newBisector(runner, DefaultConfig())

	analysis, err := b.Bisect(context.Background(), "python", `print("hi")`+"\n\nx = 1\n")
	require.NoError(t, err)
	assert.Nil(t, analysis)
	assert.Equal(t, 1, runner.callCount(), "only the full run should execute")
}

func TestBisect_ReportsThirdChunk(t *testing.T) {
	runner := &fakeRunner{broken: []string{"bad_c"}}
	b := newBisector(runner, DefaultConfig())

	src := "a = 1\n\nb = 2\n\nprint(bad_c)\n"
	analysis, err := b.Bisect(context.Background(), "python", src)
	require.NoError(t, err)
	require.NotNil(t, analysis)

	assert.Equal(t, 2, analysis.ChunkIndex)
	assert.Equal(t, "print(bad_c)\n", analysis.ChunkText)
	assert.Equal(t, "NameError: name 'bad_c' is not defined\n", analysis.ErrorMessage)
	assert.Equal(t, src, analysis.FullCode)
	assert.True(t, analysis.Localized)
}

func TestBisect_LowestFailingIndexWins(t *testing.T) {
	for _, concurrency := range []int{1, 2, 8} {
		runner := &fakeRunner{broken: []string{"bad_c", "bad_e"}}
		cfg := DefaultConfig()
		cfg.Concurrency = concurrency
		b := newBisector(runner, cfg)

		analysis, err := b.Bisect(context.Background(), "python", fiveChunks)
		require.NoError(t, err)
		require.NotNil(t, analysis)
		assert.Equal(t, 2, analysis.ChunkIndex, "concurrency %d", concurrency)
		assert.Contains(t, analysis.ErrorMessage, "bad_c")
	}
}

func TestBisect_ParallelResolvesMinimumRegardlessOfCompletionOrder(t *testing.T) {
	// lower prefixes are slower, so higher failures land first
	runner := &fakeRunner{
		broken: []string{"bad_c", "bad_e"},
		delay: func(code string) time.Duration {
			return time.Duration(20-strings.Count(code, "\n")) * 2 * time.Millisecond
		},
	}
	cfg := DefaultConfig()
	cfg.Concurrency = 4
	b := newBisector(runner, cfg)

	analysis, err := b.BisectChunks(context.Background(), "python", []string{"a = 1\n", "b = 2\n", "print(bad_c)\n", "d = 4\n", "print(bad_e)\n"})
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, 2, analysis.ChunkIndex)
}

func TestBisect_SequentialStopsAtFirstFailure(t *testing.T) {
	runner := &fakeRunner{broken: []string{"bad_c"}}
	b := newBisector(runner, DefaultConfig())

	_, err := b.Bisect(context.Background(), "python", fiveChunks)
	require.NoError(t, err)
	// full run + prefixes 0, 1, 2
	assert.Equal(t, 4, runner.callCount())
}

func TestBisect_LastChunkUsesFullRun(t *testing.T) {
	runner := &fakeRunner{broken: []string{"bad_e"}}
	b := newBisector(runner, DefaultConfig())

	analysis, err := b.Bisect(context.Background(), "python", fiveChunks)
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, 4, analysis.ChunkIndex)
	assert.Equal(t, "print(bad_e)\n", analysis.ChunkText)
	// full run + prefixes 0..3; prefix 4 is the full source
	assert.Equal(t, 5, runner.callCount())
}

func TestBisect_SingleChunk(t *testing.T) {
	runner := &fakeRunner{broken: []string{"oops"}}
	b := newBisector(runner, DefaultConfig())

	analysis, err := b.Bisect(context.Background(), "python", "print(oops)\n")
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, 0, analysis.ChunkIndex)
	assert.True(t, analysis.Localized)
	assert.Equal(t, 1, runner.callCount())
}

func TestBisect_MaxChunksBoundsProbes(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("x = 1\n\n")
	}
	sb.WriteString("print(bad)\n")

	runner := &fakeRunner{broken: []string{"bad"}}
	cfg := DefaultConfig()
	cfg.MaxChunks = 5
	b := newBisector(runner, cfg)

	analysis, err := b.Bisect(context.Background(), "python", sb.String())
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, 4, analysis.ChunkIndex)
	assert.LessOrEqual(t, runner.callCount(), 5)
}

func TestBisect_BudgetExhaustedFallsBackToWholeSource(t *testing.T) {
	runner := &fakeRunner{
		broken: []string{"bad_e"},
		delay: func(code string) time.Duration {
			if code == fiveChunks {
				return 0
			}
			return time.Second
		},
	}
	cfg := DefaultConfig()
	cfg.Budget = 20 * time.Millisecond
	b := newBisector(runner, cfg)

	analysis, err := b.Bisect(context.Background(), "python", fiveChunks)
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.False(t, analysis.Localized)
	assert.Equal(t, 0, analysis.ChunkIndex)
	assert.Equal(t, fiveChunks, analysis.ChunkText)
	assert.Contains(t, analysis.ErrorMessage, "bad_e")
}

func TestBisect_NetworkErrorPropagates(t *testing.T) {
	runner := &fakeRunner{err: apperror.Network("execution service", errors.New("connection refused"))}
	b := newBisector(runner, DefaultConfig())

	_, err := b.Bisect(context.Background(), "python", fiveChunks)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrNetwork)
}

func TestBisect_CallerCancellation(t *testing.T) {
	runner := &fakeRunner{
		broken: []string{"bad_e"},
		delay: func(code string) time.Duration {
			if code == fiveChunks {
				return 0
			}
			return time.Second
		},
	}
	b := newBisector(runner, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Bisect(ctx, "python", fiveChunks)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestErrorMessage_FallsBackToOutput(t *testing.T) {
	assert.Equal(t, "boom", errorMessage(&executor.ExecutionResult{Output: "boom", HadError: true}))
	assert.Equal(t, "err", errorMessage(&executor.ExecutionResult{Output: "out err", Stderr: "err"}))
}
