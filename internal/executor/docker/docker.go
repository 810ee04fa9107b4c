package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/executor"
)

// timeoutExitCode mirrors the unix `timeout` command.
const timeoutExitCode = 124

// Executor implements the executor.Executor interface using Docker.
type Executor struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pools  map[string]*Pool // by image
}

var _ executor.Executor = (*Executor)(nil)

// New creates a new Docker Executor, pulls every runtime image and starts
// one warm pool per image.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	exec := &Executor{
		cli:    cli,
		config: cfg,
		logger: logger,
		pools:  make(map[string]*Pool),
	}

	for lang, rt := range cfg.Runtimes {
		if _, ok := exec.pools[rt.Image]; ok {
			continue
		}
		if err := exec.pull(ctx, rt.Image); err != nil {
			exec.Close()
			return nil, fmt.Errorf("preparing %s runtime: %w", lang, err)
		}
		pool := NewPool(cli, rt.Image, cfg, logger)
		pool.Start()
		exec.pools[rt.Image] = pool
	}

	return exec, nil
}

func (e *Executor) pull(ctx context.Context, ref string) error {
	e.logger.Info("ensuring docker image is available", slog.String("image", ref))
	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	_, _ = io.Copy(io.Discard, reader)
	e.logger.Info("docker image is ready", slog.String("image", ref))
	return nil
}

// Close shuts down the executor pools and docker client.
func (e *Executor) Close() error {
	for _, pool := range e.pools {
		pool.Stop()
	}
	return e.cli.Close()
}

// Execute runs the program in a sandboxed container, feeding it req.Stdin.
// Stdin is always closed after writing so a program reading past the end
// sees EOF instead of hanging until the timeout.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	start := time.Now()

	rt, ok := e.config.Runtimes[req.Language]
	if !ok {
		return nil, apperror.ValidationFailed("language",
			fmt.Sprintf("language %q is not available in the docker sandbox", req.Language))
	}

	containerID, err := e.pools[rt.Image].Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container from pool: %w", err)
	}

	// Always ensure we clean up the container that we acquired
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := e.cli.ContainerRemove(cleanupCtx, containerID, container.RemoveOptions{
			Force: true,
		})
		if err != nil {
			e.logger.Error("failed to remove container", slog.String("id", containerID), slog.String("error", err.Error()))
		}
	}()

	executeCtx, executeCancel := context.WithTimeout(ctx, e.config.Timeout)
	defer executeCancel()

	execConfig := container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/tmp",
		Cmd:          rt.command(req.Code),
	}

	execResp, err := e.cli.ContainerExecCreate(executeCtx, containerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := e.cli.ContainerExecAttach(executeCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	if req.Stdin != "" {
		if _, err := io.Copy(attachResp.Conn, strings.NewReader(req.Stdin)); err != nil {
			return nil, fmt.Errorf("failed to write stdin: %w", err)
		}
	}
	if err := attachResp.CloseWrite(); err != nil {
		e.logger.Warn("failed to close exec stdin", slog.String("error", err.Error()))
	}

	var stdout, stderr bytes.Buffer

	done := make(chan struct{})
	go func() {
		// Use stdcopy to demultiplex stdout from stderr
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		close(done)
	}()

	var finalExitCode int

	select {
	case <-done:
		inspectResp, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
		if err == nil {
			finalExitCode = inspectResp.ExitCode
		}
	case <-executeCtx.Done():
		if ctx.Err() != nil {
			// the caller gave up; this is not a program failure
			return nil, ctx.Err()
		}
		finalExitCode = timeoutExitCode
		stderr.WriteString("\nExecution timed out.\n")
	}

	// closing the stream unblocks the copier; wait for it before reading the buffers
	attachResp.Close()
	<-done

	return executor.Finalize(&executor.ExecutionResult{
		Output:   stdout.String() + stderr.String(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		HadError: finalExitCode != 0 || stderr.Len() > 0,
		ExitCode: finalExitCode,
		Duration: time.Since(start),
	}), nil
}
