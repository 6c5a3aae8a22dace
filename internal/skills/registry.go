// Package skills validates the installed skill inventory. The validator only
// observes: it classifies each skill directory and reports, never repairs.
package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Health classifications for a skill directory.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded" // manifest but no entry point (documentation-only)
	HealthBroken   = "broken"   // manifest missing or malformed
)

// Record describes one discovered skill directory. Scan-and-discard: records
// live only for the duration of a validation pass.
type Record struct {
	Name            string `json:"name"`
	Path            string `json:"path"`
	HasManifest     bool   `json:"has_manifest"`
	HasEntryPoint   bool   `json:"has_entrypoint"`
	DeclaredVersion string `json:"declared_version,omitempty"`
	Health          string `json:"health"`
	Reason          string `json:"reason,omitempty"`
}

// Summary aggregates one validation pass.
type Summary struct {
	Records     []Record `json:"records"`
	Healthy     int      `json:"healthy"`
	Degraded    int      `json:"degraded"`
	Broken      int      `json:"broken"`
	BrokenNames []string `json:"broken_names,omitempty"`
}

// Validator scans a skills root directory.
type Validator struct {
	root        string
	entryPoints []string
	docOnly     map[string]bool
	logger      *slog.Logger
}

// NewValidator builds a Validator. docOnly names skills that intentionally
// ship without an entry point; they classify healthy instead of degraded.
func NewValidator(root string, entryPoints, docOnly []string, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	allow := make(map[string]bool, len(docOnly))
	for _, name := range docOnly {
		allow[CanonicalSkillKey(name)] = true
	}
	return &Validator{
		root:        root,
		entryPoints: entryPoints,
		docOnly:     allow,
		logger:      logger,
	}
}

// Validate enumerates skill directories under the root and classifies each.
// A missing root is not an error; it reports an empty summary.
func (v *Validator) Validate(ctx context.Context) (Summary, error) {
	var sum Summary

	entries, err := os.ReadDir(v.root)
	if err != nil {
		if os.IsNotExist(err) {
			return sum, nil
		}
		return sum, fmt.Errorf("read skills root (%s): %w", v.root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var errs []error
	for _, ent := range entries {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		if !ent.IsDir() {
			if ent.Type()&os.ModeSymlink != 0 {
				v.logger.Warn("skill directory is a symlink; symlinks are not followed",
					"name", ent.Name(), "root", v.root)
			}
			continue
		}

		rec, err := v.inspect(filepath.Join(v.root, ent.Name()), ent.Name())
		if err != nil {
			errs = append(errs, fmt.Errorf("inspect skill (%s): %w", ent.Name(), err))
			continue
		}
		sum.Records = append(sum.Records, rec)
		switch rec.Health {
		case HealthHealthy:
			sum.Healthy++
		case HealthDegraded:
			sum.Degraded++
		case HealthBroken:
			sum.Broken++
			sum.BrokenNames = append(sum.BrokenNames, rec.Name)
		}
	}

	return sum, errors.Join(errs...)
}

func (v *Validator) inspect(dir, name string) (Record, error) {
	rec := Record{Name: name, Path: dir}

	manifestPath := filepath.Join(dir, "SKILL.md")
	fi, err := os.Stat(manifestPath)
	switch {
	case os.IsNotExist(err):
		rec.Health = HealthBroken
		rec.Reason = "manifest missing"
		return rec, nil
	case err != nil:
		return rec, fmt.Errorf("stat SKILL.md: %w", err)
	case fi.Size() > maxManifestSize:
		rec.Health = HealthBroken
		rec.Reason = fmt.Sprintf("manifest too large: %d bytes", fi.Size())
		return rec, nil
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return rec, fmt.Errorf("read SKILL.md: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		rec.Health = HealthBroken
		rec.Reason = fmt.Sprintf("manifest malformed: %v", err)
		return rec, nil
	}
	rec.HasManifest = true
	rec.DeclaredVersion = m.Version

	rec.HasEntryPoint = v.hasEntryPoint(dir)
	switch {
	case rec.HasEntryPoint:
		rec.Health = HealthHealthy
	case v.docOnly[CanonicalSkillKey(name)]:
		rec.Health = HealthHealthy
		rec.Reason = "documentation-only (allow-listed)"
	default:
		// Not an error: many entries in this ecosystem are reference
		// documents rather than executable tools.
		rec.Health = HealthDegraded
		rec.Reason = "no entry point"
	}
	return rec, nil
}

func (v *Validator) hasEntryPoint(dir string) bool {
	for _, name := range v.entryPoints {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
