// Package security scans configured directories for sensitive files and
// exposed secrets, producing a 0-100 score. Detection only: nothing is
// moved, rewritten, or deleted.
package security

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/basket/reveille/internal/config"
)

const (
	sensitiveFilePenalty = 10
	exposedKeyPenalty    = 15
)

// Finding is one matched file or content hit.
type Finding struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
	Line    int    `json:"line,omitempty"` // 0 for filename matches
}

// Report is the outcome of one scan.
type Report struct {
	Score          int       `json:"score"`
	SensitiveFiles []Finding `json:"sensitive_files,omitempty"`
	ExposedKeys    []Finding `json:"exposed_keys,omitempty"`
	Warnings       []string  `json:"warnings,omitempty"`
}

// Scanner holds compiled patterns for repeated runs.
type Scanner struct {
	cfg     config.SecurityConfig
	content []*regexp.Regexp
	logger  *slog.Logger
}

// NewScanner compiles the content patterns. An invalid pattern is dropped
// with a warning rather than failing the phase.
func NewScanner(cfg config.SecurityConfig, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{cfg: cfg, logger: logger}
	for _, p := range cfg.ContentPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Warn("invalid content pattern dropped", "pattern", p, "error", err)
			continue
		}
		s.content = append(s.content, re)
	}
	return s
}

// Scan walks each configured root to the bounded depth and scores the result.
// Scoring starts at 100 and subtracts a fixed penalty per pattern with at
// least one finding; the score is clamped to [0, 100].
func (s *Scanner) Scan(ctx context.Context) Report {
	rep := Report{Score: 100}

	perPattern := make(map[string]int)
	hitSensitive := make(map[string]bool)
	hitContent := make(map[string]bool)

	for _, root := range s.cfg.Roots {
		if ctx.Err() != nil {
			break
		}
		s.scanRoot(ctx, root, &rep, perPattern, hitSensitive, hitContent)
	}

	for range hitSensitive {
		rep.Score -= sensitiveFilePenalty
	}
	for range hitContent {
		rep.Score -= exposedKeyPenalty
	}
	if rep.Score < 0 {
		rep.Score = 0
	}

	for _, f := range rep.SensitiveFiles {
		rep.Warnings = append(rep.Warnings, "sensitive file: "+f.Path)
	}
	for _, f := range rep.ExposedKeys {
		rep.Warnings = append(rep.Warnings, "possible exposed secret in "+f.Path)
	}
	return rep
}

func (s *Scanner) scanRoot(ctx context.Context, root string, rep *Report, perPattern map[string]int, hitSensitive, hitContent map[string]bool) {
	root = filepath.Clean(root)
	rootDepth := strings.Count(root, string(filepath.Separator))

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			// Unreadable subtree: note once, keep walking siblings.
			s.logger.Debug("scan skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if strings.Count(path, string(filepath.Separator))-rootDepth >= s.cfg.MaxDepth {
				return filepath.SkipDir
			}
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}

		base := d.Name()
		for _, pat := range s.cfg.SensitivePatterns {
			ok, matchErr := filepath.Match(pat, base)
			if matchErr != nil || !ok {
				continue
			}
			if perPattern[pat] >= s.cfg.MaxPerPattern {
				continue
			}
			perPattern[pat]++
			hitSensitive[pat] = true
			rep.SensitiveFiles = append(rep.SensitiveFiles, Finding{Pattern: pat, Path: path})
			break
		}

		if s.contentCandidate(base) {
			s.scanContent(path, rep, perPattern, hitContent)
		}
		return nil
	})
}

func (s *Scanner) contentCandidate(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range s.cfg.ContentExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func (s *Scanner) scanContent(path string, rep *Report, perPattern map[string]int, hitContent map[string]bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > s.cfg.MaxContentBytes {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	lines := strings.Split(string(data), "\n")
	for _, re := range s.content {
		key := "content:" + re.String()
		for i, line := range lines {
			if perPattern[key] >= s.cfg.MaxPerPattern {
				break
			}
			if re.MatchString(line) {
				perPattern[key]++
				hitContent[key] = true
				// Record the location only; the matched text may be the secret.
				rep.ExposedKeys = append(rep.ExposedKeys, Finding{Pattern: re.String(), Path: path, Line: i + 1})
			}
		}
	}
}
