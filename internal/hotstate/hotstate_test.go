package hotstate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/reveille/internal/config"
)

func writeArtifact(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fullConfig(t *testing.T) config.HotstateConfig {
	t.Helper()
	home := t.TempDir()
	return config.HotstateConfig{
		StateFile:     filepath.Join(home, "hot_state.json"),
		IdentityFile:  filepath.Join(home, "identity.md"),
		SessionMarker: filepath.Join(home, "session.marker"),
		KnowledgeDir:  filepath.Join(home, "knowledge"),
	}
}

func TestCheck_AllPresent(t *testing.T) {
	cfg := fullConfig(t)
	writeArtifact(t, cfg.StateFile, `{"mood":"steady"}`)
	writeArtifact(t, cfg.IdentityFile, "# identity")
	writeArtifact(t, cfg.SessionMarker, "")
	writeArtifact(t, filepath.Join(cfg.KnowledgeDir, "routing.md"), "notes")
	writeArtifact(t, filepath.Join(cfg.KnowledgeDir, "contacts.json"), "{}")

	rep := NewChecker(cfg, nil).Check(context.Background())
	if rep.MissingCount != 0 {
		t.Fatalf("missing = %d, want 0: %+v", rep.MissingCount, rep.Artifacts)
	}
	if rep.FragmentCount != 2 {
		t.Fatalf("fragments = %d, want 2", rep.FragmentCount)
	}
	if !rep.SessionResumed {
		t.Fatal("expected session marker to set session_resumed")
	}
}

func TestCheck_MissingArtifactsAreIndependent(t *testing.T) {
	cfg := fullConfig(t)
	writeArtifact(t, cfg.IdentityFile, "# identity")

	rep := NewChecker(cfg, nil).Check(context.Background())
	if rep.MissingCount != 3 {
		t.Fatalf("missing = %d, want 3: %+v", rep.MissingCount, rep.Artifacts)
	}
	for _, a := range rep.Artifacts {
		if a.Name == "identity" && !a.Present {
			t.Fatal("identity should be present despite other missing artifacts")
		}
	}
	if rep.SessionResumed {
		t.Fatal("no marker, session_resumed should be false")
	}
}

func TestCheck_EmptyStateFileNotPresent(t *testing.T) {
	cfg := fullConfig(t)
	writeArtifact(t, cfg.StateFile, "")

	rep := NewChecker(cfg, nil).Check(context.Background())
	for _, a := range rep.Artifacts {
		if a.Name == "hot_state" {
			if a.Present {
				t.Fatal("empty state file must not count as present")
			}
			if a.Detail != "file is empty" {
				t.Fatalf("detail = %q", a.Detail)
			}
		}
	}
}

func TestCheck_KnowledgeIgnoresHiddenAndForeignFiles(t *testing.T) {
	cfg := fullConfig(t)
	writeArtifact(t, filepath.Join(cfg.KnowledgeDir, ".hidden.md"), "x")
	writeArtifact(t, filepath.Join(cfg.KnowledgeDir, "binary.bin"), "x")
	writeArtifact(t, filepath.Join(cfg.KnowledgeDir, "real.yaml"), "a: 1")
	if err := os.MkdirAll(filepath.Join(cfg.KnowledgeDir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	rep := NewChecker(cfg, nil).Check(context.Background())
	if rep.FragmentCount != 1 {
		t.Fatalf("fragments = %d, want 1", rep.FragmentCount)
	}
}

func TestCheck_UnconfiguredPathsReported(t *testing.T) {
	rep := NewChecker(config.HotstateConfig{}, nil).Check(context.Background())
	if rep.MissingCount != 4 {
		t.Fatalf("missing = %d, want 4", rep.MissingCount)
	}
	for _, a := range rep.Artifacts {
		if a.Detail != "not configured" {
			t.Fatalf("artifact %s detail = %q", a.Name, a.Detail)
		}
	}
}
