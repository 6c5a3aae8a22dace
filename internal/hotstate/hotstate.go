// Package hotstate checks the presence of the assistant's working-state
// artifacts: the hot state file, the identity file, the session continuity
// marker, and the knowledge fragment directory. Each artifact is checked
// independently so a single missing file never masks the others.
package hotstate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/reveille/internal/config"
)

// ArtifactStatus is one presence check outcome.
type ArtifactStatus struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
	Path    string `json:"path"`
	Detail  string `json:"detail,omitempty"`
}

// Report covers all working-state artifacts for one run.
type Report struct {
	Artifacts      []ArtifactStatus `json:"artifacts"`
	FragmentCount  int              `json:"fragment_count"`
	MissingCount   int              `json:"missing_count"`
	SessionResumed bool             `json:"session_resumed"`
}

// Checker inspects configured artifact locations.
type Checker struct {
	cfg    config.HotstateConfig
	logger *slog.Logger
}

func NewChecker(cfg config.HotstateConfig, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{cfg: cfg, logger: logger}
}

// Check examines every configured artifact. Missing artifacts degrade the
// report; nothing here is fatal.
func (c *Checker) Check(ctx context.Context) Report {
	var rep Report

	rep.add(c.checkFile("hot_state", c.cfg.StateFile))
	rep.add(c.checkFile("identity", c.cfg.IdentityFile))

	// The marker is presence-only; an empty file still means an active
	// session was left behind.
	marker := c.checkMarker("session_marker", c.cfg.SessionMarker)
	rep.SessionResumed = marker.Present
	rep.add(marker)

	frags, count := c.checkKnowledge(ctx)
	rep.FragmentCount = count
	rep.add(frags)

	for _, a := range rep.Artifacts {
		if !a.Present {
			rep.MissingCount++
			c.logger.Warn("working-state artifact missing", "artifact", a.Name, "path", a.Path)
		}
	}
	return rep
}

func (c *Checker) checkFile(name, path string) ArtifactStatus {
	st := ArtifactStatus{Name: name, Path: path}
	if path == "" {
		st.Detail = "not configured"
		return st
	}
	info, err := os.Stat(path)
	if err != nil {
		st.Detail = "not found"
		return st
	}
	if info.IsDir() {
		st.Detail = "expected a file, found a directory"
		return st
	}
	if info.Size() == 0 {
		st.Detail = "file is empty"
		return st
	}
	st.Present = true
	return st
}

func (c *Checker) checkMarker(name, path string) ArtifactStatus {
	st := ArtifactStatus{Name: name, Path: path}
	if path == "" {
		st.Detail = "not configured"
		return st
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		st.Detail = "not found"
		return st
	}
	st.Present = true
	return st
}

func (c *Checker) checkKnowledge(ctx context.Context) (ArtifactStatus, int) {
	st := ArtifactStatus{Name: "knowledge", Path: c.cfg.KnowledgeDir}
	if c.cfg.KnowledgeDir == "" {
		st.Detail = "not configured"
		return st, 0
	}
	entries, err := os.ReadDir(c.cfg.KnowledgeDir)
	if err != nil {
		st.Detail = "not found"
		return st, 0
	}
	count := 0
	for _, ent := range entries {
		if ctx.Err() != nil {
			break
		}
		if ent.IsDir() || strings.HasPrefix(ent.Name(), ".") {
			continue
		}
		switch filepath.Ext(ent.Name()) {
		case ".md", ".json", ".yaml", ".yml", ".txt":
			count++
		}
	}
	st.Present = count > 0
	st.Detail = fmt.Sprintf("%d fragments", count)
	return st, count
}

func (r *Report) add(st ArtifactStatus) {
	r.Artifacts = append(r.Artifacts, st)
}
