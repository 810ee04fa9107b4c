package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/model"
	"github.com/sakif/autofix-playground/internal/session"
)

// ClientConfig tunes the session-aware client.
type ClientConfig struct {
	// Versions overrides entries of the static language → version table.
	Versions map[string]string
	// LegacySentinel enables detecting suspension by the literal
	// AwaitingInputSignal in program output.
	LegacySentinel bool
}

// ExecuteParams is one call to Client.Execute.
type ExecuteParams struct {
	Language  string
	Code      string
	Stdin     string
	SessionID string
}

// Client wraps a backend with the run/continue protocol.
//
// The backends are stateless, so a continuation replays the program against
// every input line supplied so far and returns only the output that appeared
// after what the caller has already seen.
type Client struct {
	backend  Executor
	sessions *session.Store
	config   ClientConfig
	logger   *slog.Logger
}

// NewClient creates a Client over backend, registering suspended runs in sessions.
func NewClient(backend Executor, sessions *session.Store, cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		backend:  backend,
		sessions: sessions,
		config:   cfg,
		logger:   logger,
	}
}

// Execute runs code, or continues a suspended run when p.SessionID names a
// live session. An unknown or expired session id is treated as a fresh run.
func (c *Client) Execute(ctx context.Context, p ExecuteParams) (*ExecutionResult, error) {
	if p.SessionID != "" {
		res, handled, err := c.continueSession(ctx, p.SessionID, p.Stdin)
		if handled {
			return res, err
		}
		c.logger.Debug("session not live, running fresh", slog.String("session", p.SessionID))
	}

	res, err := c.RunOnce(ctx, p.Language, p.Code, p.Stdin)
	if err != nil {
		return nil, err
	}
	if res.Status != StatusAwaitingInput {
		return res, nil
	}

	sess := model.Session{
		Language:   p.Language,
		SourceCode: p.Code,
		Transcript: res.Stdout,
	}
	if p.Stdin != "" {
		sess.PendingInput = splitInput(p.Stdin)
	}
	id, err := c.sessions.Create(sess)
	if err != nil {
		return nil, fmt.Errorf("executor: registering session: %w", err)
	}

	c.logger.Info("run suspended awaiting input",
		slog.String("session", id),
		slog.String("language", p.Language),
	)
	res.SessionID = id
	res.Output = withSignal(res.Stdout)
	return res, nil
}

// RunOnce performs a single stateless run. It classifies suspension but never
// touches the session store, which makes it safe for bisection probes.
func (c *Client) RunOnce(ctx context.Context, language, code, stdin string) (*ExecutionResult, error) {
	lang, ok := LookupLanguage(language)
	if !ok {
		return nil, apperror.ValidationFailed("language", fmt.Sprintf("unsupported language %q", language))
	}
	version := lang.Version
	if v, ok := c.config.Versions[lang.Name]; ok && v != "" {
		version = v
	}

	res, err := c.backend.Execute(ctx, ExecutionRequest{
		Language: lang.Name,
		Version:  version,
		Code:     code,
		Stdin:    stdin,
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperror.Network("execution service", err)
	}

	c.classify(lang.Name, code, Finalize(res))
	return res, nil
}

// classify turns a read-past-EOF failure of an input-reading program into a
// suspension. A structured status from the service is never overridden.
func (c *Client) classify(language, code string, res *ExecutionResult) {
	if res.Status == StatusAwaitingInput {
		res.HadError = false
		return
	}
	if res.Status == StatusErrored && NeedsInput(language, code) && InputExhausted(language, res.Stderr) {
		res.Status = StatusAwaitingInput
		res.HadError = false
		return
	}
	if c.config.LegacySentinel && hasLegacySentinel(res.Output) {
		res.Status = StatusAwaitingInput
		res.HadError = false
	}
}

// continueSession feeds stdin to a live session. handled is false when the
// session is unknown, expired or was finished by a concurrent continuation.
func (c *Client) continueSession(ctx context.Context, id, stdin string) (res *ExecutionResult, handled bool, err error) {
	unlock, ok := c.sessions.Lock(id)
	if !ok {
		return nil, false, nil
	}
	defer unlock()

	sess, ok := c.sessions.Get(id)
	if !ok {
		return nil, false, nil
	}

	inputs := append(append([]string(nil), sess.PendingInput...), splitInput(stdin)...)
	res, err = c.RunOnce(ctx, sess.Language, sess.SourceCode, strings.Join(inputs, "\n")+"\n")
	if err != nil {
		// keep the session so the caller can resubmit once the service is back
		return nil, true, err
	}

	if res.Status == StatusAwaitingInput {
		fresh := incremental(sess.Transcript, res.Stdout)
		if err := c.sessions.Update(id, func(s *model.Session) {
			s.PendingInput = inputs
			s.Transcript = res.Stdout
		}); err != nil {
			c.logger.Warn("session vanished during continuation", slog.String("session", id))
		}
		res.SessionID = id
		res.Output = withSignal(fresh)
		return res, true, nil
	}

	c.sessions.Delete(id)
	res.Output = incremental(sess.Transcript, res.Output)
	c.logger.Info("interactive run finished",
		slog.String("session", id),
		slog.String("status", string(res.Status)),
	)
	return res, true, nil
}

// incremental returns the part of output produced after seen. If the replay
// diverged from what was delivered before, the whole output is returned.
func incremental(seen, output string) string {
	if seen != "" && strings.HasPrefix(output, seen) {
		return output[len(seen):]
	}
	return output
}

func withSignal(output string) string {
	if strings.HasSuffix(strings.TrimSpace(output), AwaitingInputSignal) {
		return output
	}
	if output != "" && !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return output + AwaitingInputSignal
}

func splitInput(stdin string) []string {
	return strings.Split(strings.TrimRight(stdin, "\n"), "\n")
}

// Discard drops a suspended session the caller no longer intends to continue.
func (c *Client) Discard(sessionID string) {
	if sessionID == "" {
		return
	}
	c.sessions.Delete(sessionID)
}
