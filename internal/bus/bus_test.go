package bus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "inbox"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestPublishDrain_AllVisible(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	const n = 5
	for i := 0; i < n; i++ {
		_, err := b.Publish(ctx, Message{
			Type:      TypeBackupCompleted,
			From:      "backup-agent",
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	res, err := b.Drain(ctx, 0)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Total != n || len(res.Messages) != n {
		t.Fatalf("drained %d/%d, want %d", len(res.Messages), res.Total, n)
	}

	// Idempotent read: a second drain with no new publishes sees the same set.
	again, err := b.Drain(ctx, 0)
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if again.Total != n {
		t.Fatalf("second drain total = %d, want %d", again.Total, n)
	}
}

func TestDrain_NewestFirstAndLimited(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if _, err := b.Publish(ctx, Message{
			Type:      "status",
			From:      "agent",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Payload:   map[string]any{"seq": i},
		}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := b.Drain(ctx, 2)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Total != 4 {
		t.Fatalf("total = %d, want 4", res.Total)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("limited drain returned %d", len(res.Messages))
	}
	if !res.Messages[0].Timestamp.After(res.Messages[1].Timestamp) {
		t.Fatalf("not newest first: %v then %v", res.Messages[0].Timestamp, res.Messages[1].Timestamp)
	}
}

func TestDrain_MalformedFlaggedAndExcluded(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	if _, err := b.Publish(ctx, Message{Type: "ok", From: "x"}); err != nil {
		t.Fatal(err)
	}
	// Not JSON at all.
	if err := os.WriteFile(filepath.Join(b.Dir(), "00000000000000000001-bad.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Valid JSON, fails schema (missing from).
	if err := os.WriteFile(filepath.Join(b.Dir(), "00000000000000000002-bad.json"), []byte(`{"id":"x","type":"t","timestamp":"now"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := b.Drain(ctx, 0)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("total = %d, want 1 (malformed excluded)", res.Total)
	}
	if len(res.Malformed) != 2 {
		t.Fatalf("malformed = %v, want 2 entries", res.Malformed)
	}
}

func TestPublish_RequiresTypeAndSender(t *testing.T) {
	b := newTestBus(t)
	if _, err := b.Publish(context.Background(), Message{From: "x"}); err == nil {
		t.Fatal("expected error for empty type")
	}
	if _, err := b.Publish(context.Background(), Message{Type: "t"}); err == nil {
		t.Fatal("expected error for empty sender")
	}
}

func TestArchive(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	if _, err := b.Publish(ctx, Message{Type: "t", From: "x"}); err != nil {
		t.Fatal(err)
	}

	res, _ := b.Drain(ctx, 0)
	if res.Total != 1 {
		t.Fatalf("setup: total = %d", res.Total)
	}

	entries, _ := os.ReadDir(b.Dir())
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if err := b.Archive(names); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	after, _ := b.Drain(ctx, 0)
	if after.Total != 0 {
		t.Fatalf("inbox not empty after archive: %d", after.Total)
	}
	archived, _ := os.ReadDir(filepath.Join(b.Dir(), "archive"))
	if len(archived) != 1 {
		t.Fatalf("archive contains %d files", len(archived))
	}
}

func TestArchive_ReportsEveryFailure(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	if _, err := b.Publish(ctx, Message{
		Type:      TypeBackupCompleted,
		From:      "backup-agent",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	res, err := b.Drain(ctx, 0)
	if err != nil || len(res.Files) != 1 {
		t.Fatalf("Drain: files=%d err=%v", len(res.Files), err)
	}

	// A non-empty directory squatting on the destination makes the rename fail.
	blocked := filepath.Join(b.Dir(), "archive", res.Files[0])
	if err := os.MkdirAll(filepath.Join(blocked, "occupied"), 0o755); err != nil {
		t.Fatal(err)
	}
	err = b.Archive(res.Files)
	if err == nil {
		t.Fatal("expected error when the destination is occupied")
	}
	if !strings.Contains(err.Error(), res.Files[0]) {
		t.Fatalf("error does not name the failed file: %v", err)
	}
}

func TestArchive_MissingFilesTolerated(t *testing.T) {
	b := newTestBus(t)
	if err := b.Archive([]string{"gone-1.json", "gone-2.json"}); err != nil {
		t.Fatalf("Archive of already-removed files: %v", err)
	}
}

func TestWatch_DeliversNewMessages(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if _, err := b.Publish(ctx, Message{Type: "live", From: "tester"}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ch:
		if msg.Type != "live" {
			t.Fatalf("watched message type = %q", msg.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for watched message")
	}
}
