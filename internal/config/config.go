// Package config loads server and CLI settings with viper.
//
// Sources, lowest precedence first:
//
//  1. built-in defaults (setDefaults)
//  2. an optional YAML file (--config or PLAYGROUND_CONFIG)
//  3. environment variables: PLAYGROUND_<SECTION>_<KEY>, e.g.
//     PLAYGROUND_FIXER_API_KEY, plus the short names PORT, DB_PATH,
//     JWT_SECRET and GROQ_API_KEY
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of settings.
type Config struct {
	Port           int           `mapstructure:"port"`
	DBPath         string        `mapstructure:"db_path"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	LogLevel       string        `mapstructure:"log_level"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`

	Executor     ExecutorConfig     `mapstructure:"executor"`
	Fixer        FixerConfig        `mapstructure:"fixer"`
	Bisect       BisectConfig       `mapstructure:"bisect"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Session      SessionConfig      `mapstructure:"session"`
}

// ExecutorConfig selects and tunes the execution backend.
type ExecutorConfig struct {
	// Backend is "piston" (remote HTTP service) or "docker" (local sandbox).
	Backend   string        `mapstructure:"backend"`
	PistonURL string        `mapstructure:"piston_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// LegacySentinel appends the "Waiting for input:" marker to the output
	// of suspended runs for clients that still look for it.
	LegacySentinel bool `mapstructure:"legacy_sentinel"`
	// Versions overrides the language → version table.
	Versions map[string]string `mapstructure:"versions"`

	DockerPoolSize int           `mapstructure:"docker_pool_size"`
	DockerTimeout  time.Duration `mapstructure:"docker_timeout"`
}

// FixerConfig selects the completion provider.
type FixerConfig struct {
	// Provider is "openai" (any OpenAI-compatible API, Groq by default) or "gemini".
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type BisectConfig struct {
	MaxChunks   int           `mapstructure:"max_chunks"`
	Concurrency int           `mapstructure:"concurrency"`
	Budget      time.Duration `mapstructure:"budget"`
}

type OrchestratorConfig struct {
	MaxFixAttempts int           `mapstructure:"max_fix_attempts"`
	Backoff        time.Duration `mapstructure:"backoff"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
}

type SessionConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	MaxSessions  int           `mapstructure:"max_sessions"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// Load reads the configuration. path may be empty, in which case only
// PLAYGROUND_CONFIG (if set), defaults and the environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PLAYGROUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// short names kept from earlier deployments
	for key, envs := range map[string][]string{
		"port":          {"PLAYGROUND_PORT", "PORT"},
		"db_path":       {"PLAYGROUND_DB_PATH", "DB_PATH"},
		"jwt_secret":    {"PLAYGROUND_JWT_SECRET", "JWT_SECRET"},
		"fixer.api_key": {"PLAYGROUND_FIXER_API_KEY", "GROQ_API_KEY"},
	} {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("config: binding %s: %w", key, err)
		}
	}

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config", "")
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "data/playground.db")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("log_level", "debug")
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("executor.backend", "piston")
	v.SetDefault("executor.piston_url", "https://emkc.org/api/v2/piston")
	v.SetDefault("executor.api_key", "")
	v.SetDefault("executor.timeout", 30*time.Second)
	v.SetDefault("executor.legacy_sentinel", false)
	v.SetDefault("executor.docker_pool_size", 2)
	v.SetDefault("executor.docker_timeout", 5*time.Second)

	v.SetDefault("fixer.provider", "openai")
	v.SetDefault("fixer.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("fixer.api_key", "")
	v.SetDefault("fixer.model", "")
	v.SetDefault("fixer.temperature", 0.3)
	v.SetDefault("fixer.timeout", 60*time.Second)

	v.SetDefault("bisect.max_chunks", 12)
	v.SetDefault("bisect.concurrency", 1)
	v.SetDefault("bisect.budget", 30*time.Second)

	v.SetDefault("orchestrator.max_fix_attempts", 3)
	v.SetDefault("orchestrator.backoff", 500*time.Millisecond)
	v.SetDefault("orchestrator.run_timeout", 30*time.Second)

	v.SetDefault("session.ttl", 10*time.Minute)
	v.SetDefault("session.max_sessions", 256)
	v.SetDefault("session.reap_interval", time.Minute)
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Executor.Backend {
	case "piston", "docker":
	default:
		errs = append(errs, fmt.Errorf("executor.backend must be piston or docker, got %q", c.Executor.Backend))
	}
	switch c.Fixer.Provider {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("fixer.provider must be openai or gemini, got %q", c.Fixer.Provider))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("jwt_secret must be at least 16 characters"))
	}
	if c.Bisect.MaxChunks < 1 {
		errs = append(errs, errors.New("bisect.max_chunks must be at least 1"))
	}
	if c.Bisect.Concurrency < 1 {
		errs = append(errs, errors.New("bisect.concurrency must be at least 1"))
	}
	if c.Orchestrator.MaxFixAttempts < 0 {
		errs = append(errs, errors.New("orchestrator.max_fix_attempts must not be negative"))
	}
	if c.Session.MaxSessions < 1 {
		errs = append(errs, errors.New("session.max_sessions must be at least 1"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
