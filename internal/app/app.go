// Package app builds the pieces both entry points share from a
// config.Config: the execution backend, the completion provider and the
// logger.
package app

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/sakif/autofix-playground/internal/config"
	"github.com/sakif/autofix-playground/internal/executor"
	"github.com/sakif/autofix-playground/internal/executor/docker"
	"github.com/sakif/autofix-playground/internal/executor/piston"
	"github.com/sakif/autofix-playground/internal/fixer"
)

// NewLogger returns a text logger at the configured level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewBackend builds the configured execution backend and a function that
// releases it. The docker backend is optional: if the daemon is unreachable
// it falls back to piston and records that in cfg.
func NewBackend(cfg *config.Config, logger *slog.Logger) (executor.Executor, func()) {
	if cfg.Executor.Backend == "docker" {
		dcfg := docker.DefaultConfig()
		if cfg.Executor.DockerPoolSize > 0 {
			dcfg.PoolSize = cfg.Executor.DockerPoolSize
		}
		if cfg.Executor.DockerTimeout > 0 {
			dcfg.Timeout = cfg.Executor.DockerTimeout
		}
		exec, err := docker.New(dcfg, logger.With(slog.String("backend", "docker")))
		if err == nil {
			return exec, func() { _ = exec.Close() }
		}
		logger.Warn("docker executor unavailable, falling back to piston",
			slog.String("error", err.Error()),
		)
		cfg.Executor.Backend = "piston"
	}

	return piston.New(piston.Config{
		BaseURL: cfg.Executor.PistonURL,
		APIKey:  cfg.Executor.APIKey,
		Timeout: cfg.Executor.Timeout,
	}, logger.With(slog.String("backend", "piston"))), func() {}
}

// NewCompleter builds the configured completion provider.
func NewCompleter(ctx context.Context, cfg *config.Config) (fixer.Completer, error) {
	if cfg.Fixer.Provider == "gemini" {
		return fixer.NewGeminiClient(ctx, fixer.GeminiConfig{
			APIKey: cfg.Fixer.APIKey,
			Model:  cfg.Fixer.Model,
		})
	}
	return fixer.NewOpenAIClient(fixer.OpenAIConfig{
		BaseURL: cfg.Fixer.BaseURL,
		APIKey:  cfg.Fixer.APIKey,
		Model:   cfg.Fixer.Model,
		Timeout: cfg.Fixer.Timeout,
	}), nil
}
