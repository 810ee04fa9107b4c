package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sakif/autofix-playground/internal/model"
	"github.com/sakif/autofix-playground/internal/service"
)

// printer renders orchestrator events: program output to out, state
// changes to status.
type printer struct {
	out    io.Writer
	status io.Writer

	mu   sync.Mutex
	last model.RunState
}

func (p *printer) event(ev service.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.State != p.last {
		p.last = ev.State
		switch ev.State {
		case model.RunAnalyzing:
			fmt.Fprintln(p.status, "· analyzing")
		case model.RunFixing:
			if ev.Analysis != nil {
				fmt.Fprintf(p.status, "· fixing (attempt %d), error in chunk %d: %s\n",
					ev.Attempt, ev.Analysis.ChunkIndex+1, lastLine(ev.Analysis.ErrorMessage))
			} else {
				fmt.Fprintf(p.status, "· fixing (attempt %d)\n", ev.Attempt)
			}
		case model.RunRunning:
			fmt.Fprintln(p.status, "· running")
		case model.RunCompleted:
			defer fmt.Fprintln(p.status, "· completed")
		case model.RunErrored:
			defer fmt.Fprintln(p.status, "· errored")
		}
	}

	for _, line := range ev.Lines {
		fmt.Fprintln(p.out, line)
	}
}

// lastLine returns the last non-blank line, which for a traceback is the
// exception itself.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n "), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
