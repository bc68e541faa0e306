// Package history records training runs.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-teachable/pkg/classifier"
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("history: run not found")

// Status is the outcome of a training run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one training run.
type Run struct {
	ID          string                 `json:"id"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Status      Status                 `json:"status"`
	Labels      []string               `json:"labels"`
	Counts      []int                  `json:"counts"`
	Epochs      []classifier.EpochLogs `json:"epochs"`
	Artifact    string                 `json:"artifact,omitempty"`
	Location    string                 `json:"location,omitempty"`
	ExportError string                 `json:"export_error,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// NewRun starts a run with a fresh id.
func NewRun(labelNames []string, counts []int) *Run {
	return &Run{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Labels:    append([]string(nil), labelNames...),
		Counts:    append([]int(nil), counts...),
	}
}

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists runs.
type Store interface {
	// Save creates or replaces a run.
	Save(run *Run) error

	// Get retrieves a run by id.
	Get(id string) (*Run, error)

	// List returns runs newest first.
	List() ([]*Run, error)

	// Count returns the number of stored runs.
	Count() int
}

// DefaultMaxRuns bounds how many runs a JSONStore keeps.
const DefaultMaxRuns = 100

// JSONStore keeps runs in memory and, when path is set, mirrors them to a
// JSON file.
type JSONStore struct {
	path    string
	maxRuns int
	runs    map[string]*Run
	mu      sync.RWMutex
}

type storeData struct {
	Version   int    `json:"version"`
	UpdatedAt string `json:"updated_at"`
	Runs      []*Run `json:"runs"`
}

const currentVersion = 1

// NewJSONStore opens the store at path, loading existing runs. An empty
// path gives a memory-only store.
func NewJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{
		path:    path,
		maxRuns: DefaultMaxRuns,
		runs:    make(map[string]*Run),
	}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
	}
	return s, nil
}

// NewMemoryStore returns a store that is never written to disk.
func NewMemoryStore() *JSONStore {
	s, _ := NewJSONStore("")
	return s
}

// SetMaxRuns changes the retention limit and drops the oldest runs beyond
// it. The file catches up on the next Save. Values below 1 are ignored.
func (s *JSONStore) SetMaxRuns(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	s.maxRuns = n
	s.trim()
	s.mu.Unlock()
}

func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range stored.Runs {
		if run == nil || run.ID == "" {
			continue
		}
		s.runs[run.ID] = run
	}
	s.trim()
	return nil
}

// trim drops the oldest runs beyond maxRuns. Callers hold s.mu.
func (s *JSONStore) trim() {
	if len(s.runs) <= s.maxRuns {
		return
	}
	for _, old := range s.sorted()[s.maxRuns:] {
		delete(s.runs, old.ID)
	}
}

// save writes the store to disk. Callers hold s.mu.
func (s *JSONStore) save() error {
	if s.path == "" {
		return nil
	}

	stored := storeData{
		Version:   currentVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Runs:      s.sorted(),
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// sorted returns runs newest first. Callers hold s.mu.
func (s *JSONStore) sorted() []*Run {
	runs := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// Save stores a copy of run, assigning an id if it has none, and drops the
// oldest runs beyond the retention limit.
func (s *JSONStore) Save(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	cp := *run
	s.runs[run.ID] = &cp
	s.trim()
	return s.save()
}

// Get retrieves a run by id.
func (s *JSONStore) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *run
	return &cp, nil
}

// List returns all runs, newest first.
func (s *JSONStore) List() ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := s.sorted()
	for i, r := range runs {
		cp := *r
		runs[i] = &cp
	}
	return runs, nil
}

// Count returns the number of stored runs.
func (s *JSONStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Path returns the backing file, or "" for a memory store.
func (s *JSONStore) Path() string {
	return s.path
}
