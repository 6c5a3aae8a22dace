package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatal("expected NeedsGenesis for missing config.yaml")
	}
	if cfg.Health.MinFreeDiskGB != 10 {
		t.Fatalf("disk floor = %v, want 10", cfg.Health.MinFreeDiskGB)
	}
	if cfg.Health.MinFreeMemoryGB != 2 {
		t.Fatalf("memory floor = %v, want 2", cfg.Health.MinFreeMemoryGB)
	}
	if cfg.Backup.MaxAgeHours != 24 {
		t.Fatalf("backup staleness = %v, want 24", cfg.Backup.MaxAgeHours)
	}
	if cfg.Skills.Root != filepath.Join(home, "skills") {
		t.Fatalf("skills root = %q", cfg.Skills.Root)
	}
}

func TestLoad_ParsesOverrides(t *testing.T) {
	home := t.TempDir()
	yaml := `
log_level: debug
health:
  min_free_disk_gb: 5
  probe_host: example.com
backup:
  max_age_hours: 48
  expected_subdirs: [memories, configs, journals]
skills:
  doc_only: [style-guide, onboarding-notes]
`
	if err := os.WriteFile(ConfigPath(home), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NeedsGenesis {
		t.Fatal("NeedsGenesis set despite config present")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.Health.MinFreeDiskGB != 5 {
		t.Fatalf("disk floor = %v", cfg.Health.MinFreeDiskGB)
	}
	if cfg.Health.ProbeHost != "example.com" {
		t.Fatalf("probe host = %q", cfg.Health.ProbeHost)
	}
	if cfg.Backup.MaxAgeHours != 48 {
		t.Fatalf("backup staleness = %v", cfg.Backup.MaxAgeHours)
	}
	if len(cfg.Backup.ExpectedSubdirs) != 3 {
		t.Fatalf("expected subdirs = %v", cfg.Backup.ExpectedSubdirs)
	}
	if len(cfg.Skills.DocOnly) != 2 || cfg.Skills.DocOnly[0] != "style-guide" {
		t.Fatalf("doc_only = %v", cfg.Skills.DocOnly)
	}
	// Unspecified fields keep defaults.
	if cfg.Health.MinFreeMemoryGB != 2 {
		t.Fatalf("memory floor = %v, want default 2", cfg.Health.MinFreeMemoryGB)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(ConfigPath(home), []byte("log_level: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(home); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("REVEILLE_LOG_LEVEL", "error")
	t.Setenv("REVEILLE_SKILLS_ROOT", "/srv/skills")
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.Skills.Root != "/srv/skills" {
		t.Fatalf("skills root = %q", cfg.Skills.Root)
	}
}

func TestHomeDirOverride(t *testing.T) {
	t.Setenv("REVEILLE_HOME", "/tmp/custom-home")
	if got := HomeDir(); got != "/tmp/custom-home" {
		t.Fatalf("HomeDir = %q", got)
	}
}

func TestFingerprintStable(t *testing.T) {
	home := t.TempDir()
	cfg, _ := Load(home)
	a, b := cfg.Fingerprint(), cfg.Fingerprint()
	if a != b {
		t.Fatalf("fingerprint unstable: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "cfg-") {
		t.Fatalf("fingerprint format: %q", a)
	}
}
