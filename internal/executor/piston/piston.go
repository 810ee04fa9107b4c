// Package piston implements executor.Executor against a Piston-style remote
// execution service (POST {base}/execute).
package piston

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/autofix-playground/internal/executor"
)

// DefaultBaseURL is the public Piston instance.
const DefaultBaseURL = "https://emkc.org/api/v2/piston"

// Config holds the connection settings for the execution service.
type Config struct {
	BaseURL string
	// APIKey is sent as the Authorization header when set.
	APIKey  string
	Timeout time.Duration
}

// Executor talks to the remote execution service.
type Executor struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

var _ executor.Executor = (*Executor)(nil)

// New creates an Executor for cfg.
func New(cfg Config, logger *slog.Logger) *Executor {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		logger:  logger,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        32,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

type file struct {
	Content string `json:"content"`
}

type executeRequest struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Files    []file `json:"files"`
	Stdin    string `json:"stdin,omitempty"`
}

type executeResponse struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Run      stage  `json:"run"`
	Compile  *stage `json:"compile,omitempty"`
	Message  string `json:"message,omitempty"`
}

type stage struct {
	Stdout      string  `json:"stdout"`
	Stderr      stderr  `json:"stderr"`
	Output      string  `json:"output"`
	Code        *int    `json:"code"`
	Signal      *string `json:"signal"`
	Status      string  `json:"status,omitempty"`
	ExecutionID string  `json:"executionId,omitempty"`
}

func (s stage) failed() bool {
	return s.Stderr.Failed || (s.Code != nil && *s.Code != 0) || (s.Signal != nil && *s.Signal != "")
}

// stderr accepts both the text form and the boolean "had an error" form
// of the run.stderr field.
type stderr struct {
	Text   string
	Failed bool
}

func (s *stderr) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = stderr{}
		return nil
	}
	var flag bool
	if err := json.Unmarshal(data, &flag); err == nil {
		*s = stderr{Failed: flag}
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("run.stderr: %w", err)
	}
	*s = stderr{Text: text, Failed: text != ""}
	return nil
}

// Execute sends one run to the service. Non-2xx responses are errors; a
// program that fails at runtime is a successful call with HadError set.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	start := time.Now()

	payload, err := json.Marshal(executeRequest{
		Language: req.Language,
		Version:  req.Version,
		Files:    []file{{Content: req.Code}},
		Stdin:    req.Stdin,
	})
	if err != nil {
		return nil, fmt.Errorf("piston: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("piston: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", e.apiKey)
	}

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("piston: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("piston: status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("piston: decode response: %w", err)
	}

	res := toResult(decoded)
	res.Duration = time.Since(start)

	e.logger.Debug("piston run finished",
		slog.String("language", req.Language),
		slog.String("status", string(res.Status)),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func toResult(r executeResponse) *executor.ExecutionResult {
	// a failed compile stage means the run stage never happened
	if r.Compile != nil && r.Compile.failed() {
		return executor.Finalize(&executor.ExecutionResult{
			Output:   r.Compile.Output,
			Stdout:   r.Compile.Stdout,
			Stderr:   r.Compile.Stderr.Text,
			HadError: true,
			ExitCode: exitCode(r.Compile),
		})
	}

	res := &executor.ExecutionResult{
		Output:   r.Run.Output,
		Stdout:   r.Run.Stdout,
		Stderr:   r.Run.Stderr.Text,
		HadError: r.Run.failed(),
		ExitCode: exitCode(&r.Run),
	}
	if res.Output == "" {
		res.Output = res.Stdout + res.Stderr
	}

	switch executor.Status(r.Run.Status) {
	case executor.StatusAwaitingInput:
		res.Status = executor.StatusAwaitingInput
		res.HadError = false
		if res.Stdout == "" {
			res.Stdout = res.Output
		}
	case executor.StatusCompleted, executor.StatusErrored:
		res.Status = executor.Status(r.Run.Status)
		res.HadError = res.Status == executor.StatusErrored
	}
	return executor.Finalize(res)
}

func exitCode(s *stage) int {
	if s.Code != nil {
		return *s.Code
	}
	if s.failed() {
		return 1
	}
	return 0
}
