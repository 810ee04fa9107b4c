// Command server runs the autofix playground HTTP API.
//
// main only loads internal/config (defaults, optional YAML, env), builds the
// logger, execution backend and completion provider, and hands them to
// internal/server. The terminal front end lives in cmd/autofix.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/autofix-playground/internal/app"
	"github.com/sakif/autofix-playground/internal/config"
	"github.com/sakif/autofix-playground/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// PLAYGROUND_CONFIG may point at a YAML file; everything else comes from
	// defaults and environment variables.
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Log levels (from least to most severe): Debug → Info → Warn → Error.
	// PLAYGROUND_LOG_LEVEL defaults to debug; production would use info or warn.
	logger := app.NewLogger(os.Stdout, cfg.LogLevel)

	// === 3. DATABASE DIRECTORY ===
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. AUTH CONFIGURATION ===
	// JWT_SECRET must be a long random string. Use:
	//   JWT_SECRET=$(openssl rand -hex 32)
	// If unset, a random secret is generated and tokens do not survive a restart.
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = randomSecret()
		logger.Warn("JWT_SECRET not set; using an ephemeral secret, tokens are lost on restart")
	}

	// === 5. EXECUTION BACKEND ===
	backend, closeBackend := app.NewBackend(cfg, logger)
	defer closeBackend()

	// === 6. COMPLETION PROVIDER ===
	completer, err := app.NewCompleter(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to create completion provider", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.Fixer.Provider == "openai" && cfg.Fixer.APIKey == "" {
		logger.Warn("no completion API key set (GROQ_API_KEY or PLAYGROUND_FIXER_API_KEY); fixes will fail")
	}

	// === 7. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, backend, completer, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
