package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/basket/reveille/internal/bus"
	"github.com/basket/reveille/internal/orchestrator"
)

func TestParseSkipSet(t *testing.T) {
	got := parseSkipSet(" Security, sync ,,TASKS")
	want := []string{"security", "sync", "tasks"}
	if len(got) != len(want) {
		t.Fatalf("skip set = %v", got)
	}
	for _, id := range want {
		if !got[id] {
			t.Fatalf("skip set %v missing %s", got, id)
		}
	}
	if len(parseSkipSet("")) != 0 {
		t.Fatal("empty flag must produce an empty set")
	}
}

func TestRenderRunReport(t *testing.T) {
	rep := orchestrator.RunReport{
		RunID:           "abc123",
		Mode:            orchestrator.ModeNormal,
		Version:         "test",
		DurationSeconds: 1.5,
		Phases: []orchestrator.PhaseResult{
			{PhaseID: "health", Status: orchestrator.StatusOK},
			{PhaseID: "security", Status: orchestrator.StatusWarn, Message: "security score 55"},
			{PhaseID: "freshness", Status: orchestrator.StatusSkipped, Reason: "host is offline"},
		},
		Summary: orchestrator.Summary{
			SecurityScore: 55,
			HealthyRatio:  0.75,
			Uptime:        "2 hours, 5 minutes",
			Alerts:        []string{"security score below 70 (currently 55)"},
		},
	}

	var buf bytes.Buffer
	renderRunReport(&buf, rep)
	out := buf.String()

	for _, want := range []string{
		"2 hours, 5 minutes",
		"health",
		"security score 55",
		"host is offline",
		"ALERTS",
		"security score below 70",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q:\n%s", want, out)
		}
	}
}

func TestInboxPublishThenDrain(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inbox, err := bus.New(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}

	if code := runInboxPublish(context.Background(), inbox, []string{
		"-type", "task.completed", "-from", "tester", "-payload", `{"n":1}`,
	}); code != 0 {
		t.Fatalf("publish exit = %d", code)
	}

	res, err := inbox.Drain(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Messages[0].Type != "task.completed" {
		t.Fatalf("drain = %+v", res)
	}
}

func TestInboxPublishRequiresType(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inbox, err := bus.New(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	if code := runInboxPublish(context.Background(), inbox, []string{"-from", "x"}); code != 2 {
		t.Fatalf("exit = %d, want 2 for usage error", code)
	}
}

func TestInboxWatchStreams(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inbox, err := bus.New(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	buf := &lockedBuffer{}
	done := make(chan int, 1)
	go func() { done <- runInboxWatch(ctx, inbox, buf) }()

	time.Sleep(200 * time.Millisecond)
	if _, err := inbox.Publish(context.Background(), bus.Message{Type: "ping", From: "tester"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for !strings.Contains(buf.String(), "ping") {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("watch never saw the message, output: %q", buf.String())
		case <-time.After(50 * time.Millisecond):
		}
	}
	cancel()
	if code := <-done; code != 0 {
		t.Fatalf("watch exit = %d", code)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
