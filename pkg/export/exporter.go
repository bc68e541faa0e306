package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrNoArtifact is returned by Latest before any export.
var ErrNoArtifact = errors.New("export: no model exported yet")

// Exporter stores a named artifact and reports where it went.
type Exporter interface {
	Export(ctx context.Context, name string, data []byte) (location string, err error)
}

// Chain fans an artifact out to every exporter. It succeeds if at least one
// exporter succeeds; failures are logged and returned as a ChainError only
// when all of them fail.
type Chain struct {
	Exporters []Exporter
	Logger    *slog.Logger
}

// NewChain creates a chain over exporters, skipping nil entries.
func NewChain(logger *slog.Logger, exporters ...Exporter) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{Logger: logger}
	for _, e := range exporters {
		if e != nil {
			c.Exporters = append(c.Exporters, e)
		}
	}
	return c
}

// Export implements Exporter. Locations of successful exports are joined
// with ", ".
func (c *Chain) Export(ctx context.Context, name string, data []byte) (string, error) {
	var (
		locations []string
		failed    ChainError
	)
	for _, e := range c.Exporters {
		loc, err := e.Export(ctx, name, data)
		if err != nil {
			c.Logger.Warn("export failed", "exporter", fmt.Sprintf("%T", e), "error", err)
			failed.Errors = append(failed.Errors, err)
			continue
		}
		locations = append(locations, loc)
	}

	if len(locations) == 0 && len(failed.Errors) > 0 {
		return "", &failed
	}
	return strings.Join(locations, ", "), nil
}

// ChainError aggregates the failures of a Chain.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "export: all exporters failed: " + strings.Join(msgs, "; ")
}

func (e *ChainError) Unwrap() []error {
	return e.Errors
}

// Latest keeps the most recent artifact in memory for download.
type Latest struct {
	mu   sync.RWMutex
	name string
	data []byte
	at   time.Time
}

// NewLatest creates an empty holder.
func NewLatest() *Latest {
	return &Latest{}
}

// Export implements Exporter.
func (l *Latest) Export(_ context.Context, name string, data []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.name = name
	l.data = append([]byte(nil), data...)
	l.at = time.Now()
	return "memory://" + name, nil
}

// Get returns the last exported artifact.
func (l *Latest) Get() (name string, data []byte, at time.Time, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.data == nil {
		return "", nil, time.Time{}, ErrNoArtifact
	}
	return l.name, l.data, l.at, nil
}
