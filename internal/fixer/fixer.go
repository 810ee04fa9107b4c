// Package fixer turns a localized runtime failure into replacement source by
// asking a text-generation service for a corrected program.
//
// A Fixer is provider-agnostic: it builds prompts and cleans responses,
// while a Completer (OpenAI-compatible chat completions or Gemini) does the
// network call.
package fixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/model"
)

// Prompt is a single completion request.
type Prompt struct {
	System      string
	User        string
	Temperature float32
}

// Completer sends one prompt to a completion service and returns the raw
// text of the first answer.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// DefaultTemperature keeps fixes close to deterministic.
const DefaultTemperature = 0.3

const (
	fixInstruction = "You are a code repair assistant. Respond with code only: " +
		"return the complete corrected program with no explanations, no comments about the change and no markdown."
	composeInstruction = "You are a coding assistant. Respond with code only: " +
		"return a complete, runnable %s program with no explanations and no markdown."
	askInstruction = "You are a programming assistant. Answer concisely."
)

// Config tunes the prompts sent by a Fixer.
type Config struct {
	Temperature float32
}

// Fixer requests fixes, generated code and answers from a Completer.
type Fixer struct {
	completer Completer
	config    Config
	logger    *slog.Logger
}

// New creates a Fixer. A zero temperature in cfg selects DefaultTemperature.
func New(completer Completer, cfg Config, logger *slog.Logger) *Fixer {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	return &Fixer{
		completer: completer,
		config:    cfg,
		logger:    logger,
	}
}

// GenerateFix asks for a corrected version of the whole program. Any
// failure, including an empty answer, is logged and returned as
// apperror.ErrFixGeneration; the caller decides whether to keep going.
func (f *Fixer) GenerateFix(ctx context.Context, a model.ErrorAnalysis) (string, error) {
	user := fmt.Sprintf("Please fix this code chunk that has an error:\n\n%s\n\nError: %s\n\nFull code context:\n%s",
		a.ChunkText, a.ErrorMessage, a.FullCode)

	code, err := f.complete(ctx, "fix", Prompt{
		System:      fixInstruction,
		User:        user,
		Temperature: f.config.Temperature,
	})
	if err != nil {
		return "", err
	}

	f.logger.Info("fix generated",
		slog.Int("chunk", a.ChunkIndex),
		slog.Int("bytes", len(code)),
	)
	return code, nil
}

// GenerateCode writes a program for prompt in language.
func (f *Fixer) GenerateCode(ctx context.Context, language, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apperror.ValidationFailed("prompt", "prompt is required")
	}
	return f.complete(ctx, "compose", Prompt{
		System:      fmt.Sprintf(composeInstruction, language),
		User:        prompt,
		Temperature: f.config.Temperature,
	})
}

// Ask returns a plain-text answer. Unlike GenerateCode the answer is not
// stripped of markdown since it is never applied to a document.
func (f *Fixer) Ask(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", apperror.ValidationFailed("question", "question is required")
	}
	answer, err := f.completer.Complete(ctx, Prompt{
		System:      askInstruction,
		User:        question,
		Temperature: f.config.Temperature,
	})
	if err != nil {
		f.logger.Error("completion failed", slog.String("mode", "ask"), slog.String("error", err.Error()))
		return "", apperror.FixGeneration(err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", apperror.FixGeneration(errors.New("empty answer"))
	}
	return answer, nil
}

func (f *Fixer) complete(ctx context.Context, mode string, p Prompt) (string, error) {
	raw, err := f.completer.Complete(ctx, p)
	if err != nil {
		f.logger.Error("completion failed", slog.String("mode", mode), slog.String("error", err.Error()))
		return "", apperror.FixGeneration(err)
	}

	code := CleanCode(raw)
	if code == "" {
		f.logger.Error("completion returned no code", slog.String("mode", mode))
		return "", apperror.FixGeneration(errors.New("empty response"))
	}
	return code, nil
}

// CleanCode strips a surrounding markdown fence (with an optional language
// tag) and whitespace from a model answer.
func CleanCode(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
