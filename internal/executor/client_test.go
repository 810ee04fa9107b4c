package executor_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/executor"
	"github.com/sakif/autofix-playground/internal/session"
)

const sumProgram = `n = int(input("Enter the number of elements: "))
print("Sum of", n, "numbers is:", n * (n + 1) // 2)
`

// fakeBackend behaves like a stateless execution service running tiny
// Python programs: sumProgram reads one number, anything containing
// "raise" fails, everything else prints "hi".
type fakeBackend struct {
	mu    sync.Mutex
	calls []executor.ExecutionRequest
	err   error
}

func (f *fakeBackend) Execute(_ context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	switch {
	case req.Code == sumProgram:
		prompt := "Enter the number of elements: "
		line, _, _ := strings.Cut(req.Stdin, "\n")
		if req.Stdin == "" {
			stderr := "Traceback (most recent call last):\nEOFError: EOF when reading a line\n"
			return &executor.ExecutionResult{Stdout: prompt, Stderr: stderr, Output: prompt + stderr, HadError: true, ExitCode: 1}, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			stderr := "ValueError: invalid literal for int()\n"
			return &executor.ExecutionResult{Stdout: prompt, Stderr: stderr, Output: prompt + stderr, HadError: true, ExitCode: 1}, nil
		}
		out := prompt + fmt.Sprintf("Sum of %d numbers is: %d\n", n, n*(n+1)/2)
		return &executor.ExecutionResult{Stdout: out, Output: out}, nil
	case strings.Contains(req.Code, "raise"):
		stderr := "RuntimeError: boom\n"
		return &executor.ExecutionResult{Stderr: stderr, Output: stderr, HadError: true, ExitCode: 1}, nil
	default:
		return &executor.ExecutionResult{Stdout: "hi\n", Output: "hi\n"}, nil
	}
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestClient(t *testing.T, backend executor.Executor, cfg executor.ClientConfig) (*executor.Client, *session.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore(session.DefaultConfig(), logger)
	t.Cleanup(store.Close)
	return executor.NewClient(backend, store, cfg, logger), store
}

func TestClient_SimpleRun(t *testing.T) {
	backend := &fakeBackend{}
	client, store := newTestClient(t, backend, executor.ClientConfig{})

	res, err := client.Execute(context.Background(), executor.ExecuteParams{Language: "python", Code: `print("hi")`})
	require.NoError(t, err)

	assert.Equal(t, "hi\n", res.Output)
	assert.False(t, res.HadError)
	assert.Equal(t, executor.StatusCompleted, res.Status)
	assert.Empty(t, res.SessionID)
	assert.Equal(t, 0, store.Len())

	require.Equal(t, 1, backend.callCount())
	assert.Equal(t, "3.10.0", backend.calls[0].Version)
}

func TestClient_VersionOverride(t *testing.T) {
	backend := &fakeBackend{}
	client, _ := newTestClient(t, backend, executor.ClientConfig{Versions: map[string]string{"python": "3.12.0"}})

	_, err := client.Execute(context.Background(), executor.ExecuteParams{Language: "Python", Code: "print(1)"})
	require.NoError(t, err)
	assert.Equal(t, "3.12.0", backend.calls[0].Version)
	assert.Equal(t, "python", backend.calls[0].Language)
}

func TestClient_UnsupportedLanguage(t *testing.T) {
	backend := &fakeBackend{}
	client, _ := newTestClient(t, backend, executor.ClientConfig{})

	_, err := client.Execute(context.Background(), executor.ExecuteParams{Language: "cobol", Code: "DISPLAY 'HI'"})
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Equal(t, 0, backend.callCount())
}

func TestClient_RuntimeErrorIsNotAGoError(t *testing.T) {
	client, _ := newTestClient(t, &fakeBackend{}, executor.ClientConfig{})

	res, err := client.Execute(context.Background(), executor.ExecuteParams{Language: "python", Code: "raise RuntimeError('boom')"})
	require.NoError(t, err)
	assert.True(t, res.HadError)
	assert.Equal(t, executor.StatusErrored, res.Status)
	assert.Contains(t, res.Output, "RuntimeError: boom")
}

func TestClient_TransportFailureIsNetworkError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("connection refused")}
	client, _ := newTestClient(t, backend, executor.ClientConfig{})

	_, err := client.Execute(context.Background(), executor.ExecuteParams{Language: "python", Code: "print(1)"})
	assert.True(t, errors.Is(err, apperror.ErrNetwork))
	assert.Equal(t, 1, backend.callCount(), "no automatic retries")
}

func TestClient_InteractiveRoundTrip(t *testing.T) {
	backend := &fakeBackend{}
	client, store := newTestClient(t, backend, executor.ClientConfig{})
	ctx := context.Background()

	first, err := client.Execute(ctx, executor.ExecuteParams{Language: "python", Code: sumProgram})
	require.NoError(t, err)

	assert.Equal(t, executor.StatusAwaitingInput, first.Status)
	assert.False(t, first.HadError)
	require.NotEmpty(t, first.SessionID)
	assert.Contains(t, first.Output, executor.AwaitingInputSignal)
	assert.NotContains(t, first.Output, "EOFError", "the EOF traceback is a suspension, not output")
	assert.Equal(t, 1, store.Len())

	second, err := client.Execute(ctx, executor.ExecuteParams{Language: "python", Code: sumProgram, Stdin: "5", SessionID: first.SessionID})
	require.NoError(t, err)

	assert.Equal(t, executor.StatusCompleted, second.Status)
	assert.Equal(t, "Sum of 5 numbers is: 15\n", second.Output, "only output after the delivered prompt")
	assert.Empty(t, second.SessionID)
	assert.Equal(t, 0, store.Len(), "session is cleared once the run finishes")

	// replay carried the accumulated input
	assert.Equal(t, "5\n", backend.calls[1].Stdin)
}

func TestClient_TerminalSessionCannotBeReused(t *testing.T) {
	backend := &fakeBackend{}
	client, _ := newTestClient(t, backend, executor.ClientConfig{})
	ctx := context.Background()

	first, err := client.Execute(ctx, executor.ExecuteParams{Language: "python", Code: sumProgram})
	require.NoError(t, err)
	_, err = client.Execute(ctx, executor.ExecuteParams{Stdin: "3", SessionID: first.SessionID})
	require.NoError(t, err)

	// same id again: not a continuation, so the given code runs fresh
	again, err := client.Execute(ctx, executor.ExecuteParams{Language: "python", Code: `print("hi")`, Stdin: "4", SessionID: first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", again.Output)
	assert.Equal(t, `print("hi")`, backend.calls[2].Code)
}

func TestClient_UnknownSessionRunsFresh(t *testing.T) {
	backend := &fakeBackend{}
	client, _ := newTestClient(t, backend, executor.ClientConfig{})

	res, err := client.Execute(context.Background(), executor.ExecuteParams{
		Language:  "python",
		Code:      `print("hi")`,
		SessionID: "does-not-exist",
	})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", res.Output)
	assert.Equal(t, executor.StatusCompleted, res.Status)
}

func TestClient_FailedContinuationKeepsSession(t *testing.T) {
	backend := &fakeBackend{}
	client, store := newTestClient(t, backend, executor.ClientConfig{})
	ctx := context.Background()

	first, err := client.Execute(ctx, executor.ExecuteParams{Language: "python", Code: sumProgram})
	require.NoError(t, err)

	backend.err = errors.New("502 bad gateway")
	_, err = client.Execute(ctx, executor.ExecuteParams{Stdin: "5", SessionID: first.SessionID})
	assert.True(t, errors.Is(err, apperror.ErrNetwork))
	assert.Equal(t, 1, store.Len())

	backend.err = nil
	res, err := client.Execute(ctx, executor.ExecuteParams{Stdin: "5", SessionID: first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, "Sum of 5 numbers is: 15\n", res.Output)
}

func TestClient_RunOnceNeverRegistersSessions(t *testing.T) {
	client, store := newTestClient(t, &fakeBackend{}, executor.ClientConfig{})

	res, err := client.RunOnce(context.Background(), "python", sumProgram, "")
	require.NoError(t, err)
	assert.Equal(t, executor.StatusAwaitingInput, res.Status)
	assert.Empty(t, res.SessionID)
	assert.Equal(t, 0, store.Len())
}

type sentinelBackend struct{}

func (sentinelBackend) Execute(_ context.Context, _ executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	out := "Running code...\nWaiting for input:"
	return &executor.ExecutionResult{Stdout: out, Output: out}, nil
}

func TestClient_LegacySentinelIsOptIn(t *testing.T) {
	ctx := context.Background()

	plain, _ := newTestClient(t, sentinelBackend{}, executor.ClientConfig{})
	res, err := plain.Execute(ctx, executor.ExecuteParams{Language: "python", Code: `print("Waiting for input:")`})
	require.NoError(t, err)
	assert.Equal(t, executor.StatusCompleted, res.Status, "printing the phrase is not a suspension")

	legacy, store := newTestClient(t, sentinelBackend{}, executor.ClientConfig{LegacySentinel: true})
	res, err = legacy.Execute(ctx, executor.ExecuteParams{Language: "python", Code: "x = input()"})
	require.NoError(t, err)
	assert.Equal(t, executor.StatusAwaitingInput, res.Status)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, 1, store.Len())
}

func TestNeedsInput(t *testing.T) {
	assert.True(t, executor.NeedsInput("python", `name = input("who? ")`))
	assert.True(t, executor.NeedsInput("java", "new Scanner(System.in)"))
	assert.False(t, executor.NeedsInput("python", `print("no reads")`))
	assert.False(t, executor.NeedsInput("brainfuck", ","))
}

func TestLookupLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"python", "python", true},
		{" Python ", "python", true},
		{"py", "python", true},
		{"js", "javascript", true},
		{"C#", "csharp", true},
		{"cobol", "", false},
	}
	for _, tt := range tests {
		lang, ok := executor.LookupLanguage(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, lang.Name, tt.in)
	}
}
