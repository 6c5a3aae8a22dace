package freshness

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/reveille/internal/skills"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.2.0", "1.10.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"v1.2.3", "1.2.3", 0},
		{"1.2", "1.2.0", 0},
		{"1.2.0-rc1", "1.2.0", -1},
		{"", "0.0.1", -1},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func record(name, version string) skills.Record {
	return skills.Record{Name: name, HasManifest: true, DeclaredVersion: version, Health: skills.HealthHealthy}
}

func TestCheck_ClassifiesAgainstIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pdf-tools":
			fmt.Fprint(w, `{"name":"pdf-tools","latest":"2.0.0"}`)
		case "/scraper":
			fmt.Fprint(w, `{"name":"scraper","latest":"1.0.0"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewChecker(srv.URL, 2*time.Second, 0, nil)
	rep := c.Check(context.Background(), []skills.Record{
		record("pdf-tools", "1.5.0"),
		record("scraper", "1.0.0"),
		record("ghost", "0.1.0"), // not in index
	})

	if rep.UpdateAvailable != 1 || rep.UpToDate != 1 || rep.Unknown != 1 {
		t.Fatalf("report = %+v", rep)
	}
	for _, res := range rep.Results {
		if res.Skill == "ghost" && res.Status != StatusUnknown {
			t.Fatalf("unreachable skill = %+v", res)
		}
	}
}

func TestCheck_NoDeclaredVersionSkipsRemote(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"latest":"1.0.0"}`)
	}))
	defer srv.Close()

	c := NewChecker(srv.URL, time.Second, 0, nil)
	rep := c.Check(context.Background(), []skills.Record{record("anon", "")})
	if rep.Unknown != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if calls.Load() != 0 {
		t.Fatalf("remote queried %d times for versionless skill", calls.Load())
	}
}

func TestCheck_RateLimitDelayBetweenRequests(t *testing.T) {
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stamps = append(stamps, time.Now())
		fmt.Fprint(w, `{"latest":"1.0.0"}`)
	}))
	defer srv.Close()

	c := NewChecker(srv.URL, time.Second, 50*time.Millisecond, nil)
	c.Check(context.Background(), []skills.Record{
		record("a", "1.0.0"),
		record("b", "1.0.0"),
	})

	if len(stamps) != 2 {
		t.Fatalf("requests = %d", len(stamps))
	}
	if gap := stamps[1].Sub(stamps[0]); gap < 40*time.Millisecond {
		t.Fatalf("requests only %v apart", gap)
	}
}

func TestCheck_VersionlessRecordsPayNoDelay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"latest":"1.0.0"}`)
	}))
	defer srv.Close()

	// With an hour-long delay, the check only finishes promptly if records
	// answered locally never wait and the single remote query is the first.
	c := NewChecker(srv.URL, time.Second, time.Hour, nil)
	start := time.Now()
	rep := c.Check(context.Background(), []skills.Record{
		record("anon-1", ""),
		record("anon-2", ""),
		record("pinned", "1.0.0"),
		record("anon-3", ""),
	})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("check took %v, delay charged to a local-only record", elapsed)
	}
	if calls.Load() != 1 {
		t.Fatalf("remote queried %d times, want 1", calls.Load())
	}
	if len(rep.Results) != 4 || rep.Unknown != 3 || rep.UpToDate != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestCheck_ContextCancelStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"latest":"1.0.0"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewChecker(srv.URL, time.Second, time.Hour, nil)
	rep := c.Check(ctx, []skills.Record{record("a", "1.0.0"), record("b", "1.0.0")})
	if len(rep.Results) > 1 {
		t.Fatalf("kept querying after cancel: %+v", rep)
	}
}

func TestCheck_MalformedIndexResponseIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{broken`)
	}))
	defer srv.Close()

	c := NewChecker(srv.URL, time.Second, 0, nil)
	rep := c.Check(context.Background(), []skills.Record{record("a", "1.0.0")})
	if rep.Unknown != 1 {
		t.Fatalf("report = %+v", rep)
	}
}
