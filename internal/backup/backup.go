// Package backup verifies the most recent backup artifact: its age, its
// size, and whether the expected structure is present. It can invoke an
// external "create backup now" command when the artifact is stale, but never
// implements backup creation itself.
package backup

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/basket/reveille/internal/config"
)

// Descriptor is a read-only snapshot of the newest backup artifact,
// recomputed every run.
type Descriptor struct {
	Path                 string    `json:"path"`
	CreatedAt            time.Time `json:"created_at"`
	SizeBytes            int64     `json:"size_bytes"`
	StructurallyComplete bool      `json:"structurally_complete"`
	MissingSubdirs       []string  `json:"missing_subdirs,omitempty"`
}

// Report is the outcome of one verification pass.
type Report struct {
	Descriptor  *Descriptor `json:"descriptor,omitempty"`
	NeedsBackup bool        `json:"needs_backup"`
	Stale       bool        `json:"stale"`
	Valid       bool        `json:"valid"`
	AgeHours    float64     `json:"age_hours"`
	Triggered   bool        `json:"triggered"`
	TriggerErr  string      `json:"trigger_error,omitempty"`
}

// Verifier locates and checks backups under the configured root.
type Verifier struct {
	cfg    config.BackupConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewVerifier(cfg config.BackupConfig, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{cfg: cfg, logger: logger, now: time.Now}
}

// Verify inspects the newest backup directory. A missing backup root or an
// empty one reports needs_backup without raising.
func (v *Verifier) Verify(ctx context.Context) Report {
	var rep Report

	latest, createdAt, err := v.findLatest()
	if err != nil || latest == "" {
		rep.NeedsBackup = true
		return rep
	}

	desc := Descriptor{Path: latest, CreatedAt: createdAt}
	desc.SizeBytes = treeSize(ctx, latest)
	desc.StructurallyComplete, desc.MissingSubdirs = v.checkStructure(latest)

	age := v.now().Sub(createdAt)
	rep.AgeHours = age.Hours()
	rep.Stale = age > time.Duration(v.cfg.MaxAgeHours)*time.Hour
	rep.Valid = !rep.Stale && desc.SizeBytes > 0 && desc.StructurallyComplete
	rep.Descriptor = &desc
	return rep
}

// TriggerCreate runs the configured external backup command. The command is
// expected to be idempotent; invoking it redundantly is safe. No command
// configured is not an error.
func (v *Verifier) TriggerCreate(ctx context.Context) error {
	if len(v.cfg.CreateCommand) == 0 {
		return nil
	}
	timeout := time.Duration(v.cfg.CreateTimeout) * time.Second
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, v.cfg.CreateCommand[0], v.cfg.CreateCommand[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("backup command failed: %w (output: %.200s)", err, string(out))
	}
	v.logger.Info("backup command completed", "command", v.cfg.CreateCommand[0])
	return nil
}

// findLatest returns the newest backup directory by modification time.
func (v *Verifier) findLatest() (string, time.Time, error) {
	entries, err := os.ReadDir(v.cfg.Root)
	if err != nil {
		return "", time.Time{}, err
	}

	var best string
	var bestTime time.Time
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best = filepath.Join(v.cfg.Root, ent.Name())
			bestTime = info.ModTime()
		}
	}
	return best, bestTime, nil
}

func (v *Verifier) checkStructure(dir string) (bool, []string) {
	var missing []string
	for _, sub := range v.cfg.ExpectedSubdirs {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil || !info.IsDir() {
			missing = append(missing, sub)
		}
	}
	return len(missing) == 0, missing
}

func treeSize(ctx context.Context, root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
