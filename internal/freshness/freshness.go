// Package freshness compares each skill's declared version against a remote
// version index. Freshness is a nice-to-have: the whole phase is skipped
// offline, and a single unreachable lookup degrades to "unknown" rather than
// failing the run. Nothing here applies updates.
package freshness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/basket/reveille/internal/skills"
)

// Classification of one skill's freshness.
const (
	StatusUpToDate        = "up_to_date"
	StatusUpdateAvailable = "update_available"
	StatusUnknown         = "unknown"
)

// Result is one skill's comparison outcome.
type Result struct {
	Skill    string `json:"skill"`
	Declared string `json:"declared"`
	Latest   string `json:"latest,omitempty"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// Report aggregates a freshness pass.
type Report struct {
	Results         []Result `json:"results"`
	UpToDate        int      `json:"up_to_date"`
	UpdateAvailable int      `json:"update_available"`
	Unknown         int      `json:"unknown"`
}

// Checker queries a remote version index over HTTP.
type Checker struct {
	indexURL string
	client   *http.Client
	delay    time.Duration
	logger   *slog.Logger
}

// NewChecker builds a Checker. delay is inserted between remote requests so
// a large skill inventory does not hammer the index.
func NewChecker(indexURL string, timeout, delay time.Duration, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{
		indexURL: strings.TrimRight(indexURL, "/"),
		client:   &http.Client{Timeout: timeout},
		delay:    delay,
		logger:   logger,
	}
}

// indexEntry is the remote answer for one skill.
type indexEntry struct {
	Name   string `json:"name"`
	Latest string `json:"latest"`
}

// Check compares each record's declared version against the remote index.
// Records without a manifest are ignored; records without a declared version
// report unknown without a remote query.
func (c *Checker) Check(ctx context.Context, records []skills.Record) Report {
	var rep Report

	queried := false
	for _, rec := range records {
		if !rec.HasManifest {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		// The delay spaces out index requests; records answered locally
		// (no declared version) never pay it.
		if queried && rec.DeclaredVersion != "" && c.delay > 0 {
			select {
			case <-time.After(c.delay):
			case <-ctx.Done():
				return rep
			}
		}

		res := c.checkOne(ctx, rec)
		if rec.DeclaredVersion != "" {
			queried = true
		}
		rep.Results = append(rep.Results, res)
		switch res.Status {
		case StatusUpToDate:
			rep.UpToDate++
		case StatusUpdateAvailable:
			rep.UpdateAvailable++
		default:
			rep.Unknown++
		}
	}
	return rep
}

func (c *Checker) checkOne(ctx context.Context, rec skills.Record) Result {
	res := Result{Skill: rec.Name, Declared: rec.DeclaredVersion}
	if rec.DeclaredVersion == "" {
		res.Status = StatusUnknown
		res.Reason = "no declared version"
		return res
	}

	latest, err := c.lookupLatest(ctx, rec.Name)
	if err != nil {
		c.logger.Debug("version lookup failed", "skill", rec.Name, "error", err)
		res.Status = StatusUnknown
		res.Reason = err.Error()
		return res
	}
	res.Latest = latest

	if CompareVersions(rec.DeclaredVersion, latest) < 0 {
		res.Status = StatusUpdateAvailable
	} else {
		res.Status = StatusUpToDate
	}
	return res
}

func (c *Checker) lookupLatest(ctx context.Context, name string) (string, error) {
	url := c.indexURL + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("index returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("read index response: %w", err)
	}
	var entry indexEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return "", fmt.Errorf("decode index response: %w", err)
	}
	if strings.TrimSpace(entry.Latest) == "" {
		return "", fmt.Errorf("index has no version for %s", name)
	}
	return entry.Latest, nil
}

// CompareVersions orders two dotted version strings semantically: -1 when
// a < b, 0 when equal, 1 when a > b. A leading "v" is ignored; a component
// that fails to parse numerically compares as a string; missing components
// compare as zero.
func CompareVersions(a, b string) int {
	pa := splitVersion(a)
	pb := splitVersion(b)
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		var ca, cb string
		if i < len(pa) {
			ca = pa[i]
		}
		if i < len(pb) {
			cb = pb[i]
		}
		if cmp := compareComponent(ca, cb); cmp != 0 {
			return cmp
		}
	}
	return 0
}

func splitVersion(v string) []string {
	v = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "v"))
	// Pre-release suffixes compare by their dotted components too.
	v = strings.ReplaceAll(v, "-", ".")
	if v == "" {
		return nil
	}
	return strings.Split(v, ".")
}

func compareComponent(a, b string) int {
	na, aerr := parseNum(a)
	nb, berr := parseNum(b)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case aerr == nil:
		// Numeric beats non-numeric (1.2.0 > 1.2.0-rc1's "rc1").
		return 1
	case berr == nil:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func parseNum(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-numeric component %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
