package docker

import (
	"time"
)

// CodePlaceholder in a Runtime command is replaced by the program source.
const CodePlaceholder = "{code}"

// Runtime is how one language runs inside a sandbox container.
type Runtime struct {
	// Image is the Docker image to use for execution.
	Image string
	// Command is the exec command; the element equal to CodePlaceholder
	// receives the source code.
	Command []string
}

// Config holds the configuration for Docker execution.
type Config struct {
	// Runtimes maps a language name to its sandbox image and command.
	Runtimes map[string]Runtime
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// Timeout is the maximum amount of time the execution can take.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers to maintain per image.
	PoolSize int
}

// DefaultConfig provides sensible defaults for interpreted-language sandboxes.
func DefaultConfig() Config {
	return Config{
		Runtimes: map[string]Runtime{
			"python": {
				Image:   "python:3.12-alpine",
				Command: []string{"python", "-c", CodePlaceholder},
			},
			"javascript": {
				Image:   "node:20-alpine",
				Command: []string{"node", "-e", CodePlaceholder},
			},
			"php": {
				Image:   "php:8.2-cli-alpine",
				Command: []string{"php", "-r", CodePlaceholder},
			},
		},
		// 128 MB memory limit
		MemoryLimit: 128 * 1024 * 1024,
		// 0.5 CPU shares
		CPULimit: 0.5,
		// 5 second default timeout
		Timeout:  5 * time.Second,
		PoolSize: 2,
	}
}

// command returns the runtime command with code substituted in.
func (r Runtime) command(code string) []string {
	cmd := make([]string, len(r.Command))
	for i, arg := range r.Command {
		if arg == CodePlaceholder {
			arg = code
		}
		cmd[i] = arg
	}
	return cmd
}
