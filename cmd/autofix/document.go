package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sakif/autofix-playground/internal/executor"
	"github.com/sakif/autofix-playground/internal/model"
)

// fileDocument is a source file on disk used as an orchestrator Document.
// Fixes are written back to the file. The hash of the last write is kept
// so the watcher can tell our own writes from the user's edits.
type fileDocument struct {
	path     string
	language string

	mu        sync.Mutex
	lastWrite [sha256.Size]byte
}

// newFileDocument resolves language from the flag or, when empty, from the
// file extension.
func newFileDocument(path, language string) (*fileDocument, error) {
	if language == "" {
		language = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	lang, ok := executor.LookupLanguage(language)
	if !ok {
		return nil, fmt.Errorf("cannot tell the language of %s; pass --language (one of %s)",
			path, strings.Join(executor.LanguageNames(), ", "))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &fileDocument{path: path, language: lang.Name}, nil
}

func (d *fileDocument) Value(context.Context) (model.SourceDocument, error) {
	b, err := os.ReadFile(d.path)
	if err != nil {
		return model.SourceDocument{}, fmt.Errorf("reading %s: %w", d.path, err)
	}
	return model.SourceDocument{Language: d.language, Text: string(b)}, nil
}

func (d *fileDocument) SetValue(_ context.Context, text string) error {
	info, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.lastWrite = sha256.Sum256([]byte(text))
	d.mu.Unlock()

	if err := os.WriteFile(d.path, []byte(text), info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing %s: %w", d.path, err)
	}
	return nil
}

// changedExternally reports whether the file's content differs from what
// SetValue last wrote.
func (d *fileDocument) changedExternally() bool {
	b, err := os.ReadFile(d.path)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(b)

	d.mu.Lock()
	defer d.mu.Unlock()
	return sum != d.lastWrite
}
