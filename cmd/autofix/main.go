// Command autofix runs a source file through the same analyze, fix and
// run loop as the playground server, from a terminal.
//
//	autofix run prog.py                 # run, fixing errors in place
//	autofix run prog.py --stdin 5       # answer the first input prompt
//	autofix run prog.py --watch         # re-run whenever the file is saved
//	autofix languages
//
// Fixes are written back to the file. When the program asks for input the
// user is prompted on the terminal, unless --stdin lines remain.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/sakif/autofix-playground/internal/app"
	"github.com/sakif/autofix-playground/internal/chunk"
	"github.com/sakif/autofix-playground/internal/config"
	"github.com/sakif/autofix-playground/internal/executor"
	"github.com/sakif/autofix-playground/internal/fixer"
	"github.com/sakif/autofix-playground/internal/model"
	"github.com/sakif/autofix-playground/internal/service"
	"github.com/sakif/autofix-playground/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "autofix",
		Short:         "Run programs and let a model fix their errors",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file (default: PLAYGROUND_CONFIG)")
	root.PersistentFlags().BoolP("verbose", "v", false, "log at debug level")

	root.AddCommand(newRunCmd(), newLanguagesCmd())
	return root
}

type runOptions struct {
	language    string
	watch       bool
	stdin       []string
	maxAttempts int
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a file, fixing errors in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "language (default: from the file extension)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "re-run whenever the file changes")
	cmd.Flags().StringArrayVar(&opts.stdin, "stdin", nil, "line to send when the program asks for input (repeatable)")
	cmd.Flags().IntVar(&opts.maxAttempts, "max-attempts", -1, "fix attempts per run (default: from config)")
	return cmd
}

func newLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List supported languages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range executor.LanguageNames() {
				lang, _ := executor.LookupLanguage(name)
				fmt.Fprintf(tw, "%s\t%s\n", lang.Name, lang.Version)
			}
			return tw.Flush()
		},
	}
}

func runRun(cmd *cobra.Command, path string, opts runOptions) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := app.NewLogger(os.Stderr, level)

	doc, err := newFileDocument(path, opts.language)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	orch, cleanup, err := newOrchestrator(ctx, cfg, doc, opts, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
	if err != nil {
		return err
	}
	defer cleanup()

	in := &inputSource{queued: opts.stdin}
	defer in.close()

	snap, err := runSession(ctx, orch, in)
	if !opts.watch {
		if err != nil {
			return err
		}
		if snap.State == model.RunErrored {
			return errors.New("program ended with errors")
		}
		return nil
	}

	changes := make(chan struct{}, 1)
	go func() {
		err := watchFile(ctx, doc, logger, func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		})
		if err != nil {
			logger.Error("watching file", slog.String("error", err.Error()))
			stop()
		}
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "watching %s (Ctrl+C to stop)\n", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			fmt.Fprintf(cmd.ErrOrStderr(), "\n%s changed, re-running\n", path)
			if _, err := runSession(ctx, orch, in); err != nil && ctx.Err() == nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			}
		}
	}
}

// runSession runs the document once and keeps answering input prompts until
// the program finishes or no more input can be read.
func runSession(ctx context.Context, orch *service.Orchestrator, in *inputSource) (service.Snapshot, error) {
	snap, err := orch.Run(ctx)
	for err == nil && snap.State == model.RunAwaitingInput {
		line, ok := in.next()
		if !ok {
			break
		}
		snap, err = orch.SubmitInput(ctx, line)
	}
	return snap, err
}

func newOrchestrator(
	ctx context.Context,
	cfg *config.Config,
	doc *fileDocument,
	opts runOptions,
	stdout, stderr io.Writer,
	logger *slog.Logger,
) (*service.Orchestrator, func(), error) {
	completer, err := app.NewCompleter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	backend, release := app.NewBackend(cfg, logger)

	sessions := session.NewStore(session.Config{
		TTL:          cfg.Session.TTL,
		MaxSessions:  cfg.Session.MaxSessions,
		ReapInterval: cfg.Session.ReapInterval,
	}, logger)
	sessions.Start()

	client := executor.NewClient(backend, sessions, executor.ClientConfig{
		Versions:       cfg.Executor.Versions,
		LegacySentinel: cfg.Executor.LegacySentinel,
	}, logger)
	bisector := chunk.NewBisector(client, chunk.Config{
		MaxChunks:   cfg.Bisect.MaxChunks,
		Concurrency: cfg.Bisect.Concurrency,
		Budget:      cfg.Bisect.Budget,
	}, logger)
	fx := fixer.New(completer, fixer.Config{Temperature: cfg.Fixer.Temperature}, logger)

	ocfg := service.OrchestratorConfig{
		MaxFixAttempts: cfg.Orchestrator.MaxFixAttempts,
		Backoff:        cfg.Orchestrator.Backoff,
		RunTimeout:     cfg.Orchestrator.RunTimeout,
	}
	if opts.maxAttempts >= 0 {
		ocfg.MaxFixAttempts = opts.maxAttempts
	}

	p := &printer{out: stdout, status: stderr}
	orch := service.NewOrchestrator(doc, client, bisector, fx, ocfg, service.Hooks{
		OnFixApplied: func(_ context.Context, attempt int, _ string) {
			fmt.Fprintf(stderr, "  fix %d written to %s\n", attempt, doc.path)
		},
		Observer: p.event,
	}, logger)

	return orch, func() {
		orch.Close()
		sessions.Close()
		release()
	}, nil
}

// inputSource hands out the --stdin lines first, then prompts on the
// terminal.
type inputSource struct {
	queued []string
	line   *liner.State
}

func (s *inputSource) next() (string, bool) {
	if len(s.queued) > 0 {
		text := s.queued[0]
		s.queued = s.queued[1:]
		return text, true
	}
	if s.line == nil {
		s.line = liner.NewLiner()
		s.line.SetCtrlCAborts(true)
	}
	text, err := s.line.Prompt("> ")
	if err != nil {
		// liner.ErrPromptAborted on Ctrl+C, io.EOF on Ctrl+D
		return "", false
	}
	s.line.AppendHistory(text)
	return text, true
}

func (s *inputSource) close() {
	if s.line != nil {
		s.line.Close()
	}
}
