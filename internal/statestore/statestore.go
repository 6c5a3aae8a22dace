// Package statestore persists the small records a wake-up run leaves behind:
// the single-slot "last run" record and per-phase audit reports. All writes go
// through write-temp-then-rename so a concurrent reader never observes a
// partially written file.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const lastRunFile = "last_run.json"

// ErrInaccessible reports a state root that cannot be created or written.
// This is the only condition that aborts a wake-up run.
var ErrInaccessible = errors.New("state store root inaccessible")

// RunRecord is the single-slot record of the most recent orchestrator
// invocation. Last write wins; there is exactly one at any time.
type RunRecord struct {
	RunID           string    `json:"run_id"`
	StartTime       time.Time `json:"start_time"`
	Mode            string    `json:"mode"`
	DurationSeconds float64   `json:"duration_seconds"`
	Version         string    `json:"version"`
}

// Store reads and writes run state under a single root directory.
type Store struct {
	root string
}

// Open prepares the state root, probing that it is writable. A root that
// cannot be created or written returns ErrInaccessible (fatal setup).
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInaccessible, err)
	}
	probe := filepath.Join(root, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInaccessible, err)
	}
	os.Remove(probe)
	return &Store{root: root}, nil
}

// Root returns the state root directory.
func (s *Store) Root() string { return s.root }

// Load reads the last run record. The second return is false when no record
// exists yet (first run on this host).
func (s *Store) Load() (RunRecord, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.root, lastRunFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, fmt.Errorf("read last run record: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt record is treated as absent; the next save replaces it.
		return RunRecord{}, false, nil
	}
	return rec, true, nil
}

// Save overwrites the last run record via temp-file rename.
func (s *Store) Save(rec RunRecord) error {
	return s.writeJSON(filepath.Join(s.root, lastRunFile), rec)
}

// WritePhaseReport serializes one phase result under runs/<run-id>/<phase>.json
// for audit. Failures here are reported but never block the run.
func (s *Store) WritePhaseReport(runID, phaseID string, report any) error {
	dir := filepath.Join(s.root, "runs", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run report dir: %w", err)
	}
	return s.writeJSON(filepath.Join(dir, phaseID+".json"), report)
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
