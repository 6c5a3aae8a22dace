package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/reveille/internal/otel"
)

// HealthConfig controls the resource and reachability floors for the health phase.
type HealthConfig struct {
	MinFreeDiskGB   float64 `yaml:"min_free_disk_gb"`
	MinFreeMemoryGB float64 `yaml:"min_free_memory_gb"`
	ProbeHost       string  `yaml:"probe_host"`
	ProbeTimeoutSec int     `yaml:"probe_timeout_seconds"`
}

// SecurityConfig controls the sensitive-file and exposed-secret scan.
type SecurityConfig struct {
	Roots             []string `yaml:"roots"`
	SensitivePatterns []string `yaml:"sensitive_patterns"`
	ContentPatterns   []string `yaml:"content_patterns"`
	MaxDepth          int      `yaml:"max_depth"`
	MaxPerPattern     int      `yaml:"max_per_pattern"`
	MaxContentBytes   int64    `yaml:"max_content_bytes"`
	ContentExtensions []string `yaml:"content_extensions"`
}

// SkillsConfig locates the installed skills tree and names the entry-point
// conventions the validator recognizes.
type SkillsConfig struct {
	Root        string   `yaml:"root"`
	EntryPoints []string `yaml:"entry_points"`
	// DocOnly lists skills that intentionally ship without an entry point.
	// Names on this list count as healthy rather than degraded.
	DocOnly []string `yaml:"doc_only"`
}

// FreshnessConfig controls the remote version comparison.
type FreshnessConfig struct {
	IndexURL       string `yaml:"index_url"`
	RequestTimeout int    `yaml:"request_timeout_seconds"`
	RequestDelayMS int    `yaml:"request_delay_ms"`
}

// BackupConfig locates backup artifacts and the external create-backup command.
type BackupConfig struct {
	Root            string   `yaml:"root"`
	MaxAgeHours     int      `yaml:"max_age_hours"`
	ExpectedSubdirs []string `yaml:"expected_subdirs"`
	CreateCommand   []string `yaml:"create_command"`
	CreateTimeout   int      `yaml:"create_timeout_seconds"`
}

// HotstateConfig names the persisted "hot" files the assistant process needs.
type HotstateConfig struct {
	StateFile     string `yaml:"state_file"`
	IdentityFile  string `yaml:"identity_file"`
	SessionMarker string `yaml:"session_marker"`
	KnowledgeDir  string `yaml:"knowledge_dir"`
}

// TasksConfig controls the running-process and scheduled-job report.
type TasksConfig struct {
	ProcessPatterns []string `yaml:"process_patterns"`
	JobsFile        string   `yaml:"jobs_file"`
	LookaheadHours  int      `yaml:"lookahead_hours"`
}

// BusConfig controls the notification inbox.
type BusConfig struct {
	DrainLimit int `yaml:"drain_limit"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel  string `yaml:"log_level"`
	Workspace string `yaml:"workspace"`

	Health    HealthConfig    `yaml:"health"`
	Security  SecurityConfig  `yaml:"security"`
	Skills    SkillsConfig    `yaml:"skills"`
	Freshness FreshnessConfig `yaml:"freshness"`
	Backup    BackupConfig    `yaml:"backup"`
	Hotstate  HotstateConfig  `yaml:"hotstate"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Bus       BusConfig       `yaml:"bus"`
	OTel      otel.Config     `yaml:"otel"`

	NeedsGenesis bool `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Health: HealthConfig{
			MinFreeDiskGB:   10,
			MinFreeMemoryGB: 2,
			ProbeHost:       "one.one.one.one",
			ProbeTimeoutSec: 5,
		},
		Security: SecurityConfig{
			SensitivePatterns: []string{
				"*.pem", "*.key", "id_rsa*", "id_ed25519*", ".env", ".env.*",
				"*.p12", "credentials*.json", "*.keystore",
			},
			ContentPatterns: []string{
				`(?i)api[_-]?key\s*[:=]`,
				`(?i)secret[_-]?key\s*[:=]`,
				`(?i)password\s*[:=]`,
				`AKIA[0-9A-Z]{16}`,
				`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`,
			},
			MaxDepth:          4,
			MaxPerPattern:     5,
			MaxContentBytes:   256 * 1024,
			ContentExtensions: []string{".env", ".yaml", ".yml", ".json", ".toml", ".conf", ".ini"},
		},
		Skills: SkillsConfig{
			EntryPoints: []string{"skill.go", "main.go", "run.sh", "skill.py", "index.js"},
		},
		Freshness: FreshnessConfig{
			RequestTimeout: 10,
			RequestDelayMS: 100,
		},
		Backup: BackupConfig{
			MaxAgeHours:     24,
			ExpectedSubdirs: []string{"memories", "configs"},
			CreateTimeout:   300,
		},
		Tasks: TasksConfig{
			LookaheadHours: 24,
		},
		Bus: BusConfig{
			DrainLimit: 20,
		},
	}
}

// HomeDir resolves the reveille data directory. REVEILLE_HOME overrides the
// default ~/.reveille.
func HomeDir() string {
	if override := os.Getenv("REVEILLE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".reveille")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from homeDir (created if absent), applies defaults,
// env overrides, and normalization. A missing config file is not an error; the
// defaults run fine on a fresh host.
func Load(homeDir string) (Config, error) {
	cfg := defaultConfig()
	if homeDir == "" {
		homeDir = HomeDir()
	}
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create reveille home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REVEILLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REVEILLE_SKILLS_ROOT"); v != "" {
		cfg.Skills.Root = v
	}
	if v := os.Getenv("REVEILLE_BACKUP_ROOT"); v != "" {
		cfg.Backup.Root = v
	}
}

func normalize(cfg *Config) {
	def := defaultConfig()

	if cfg.Health.MinFreeDiskGB <= 0 {
		cfg.Health.MinFreeDiskGB = def.Health.MinFreeDiskGB
	}
	if cfg.Health.MinFreeMemoryGB <= 0 {
		cfg.Health.MinFreeMemoryGB = def.Health.MinFreeMemoryGB
	}
	if strings.TrimSpace(cfg.Health.ProbeHost) == "" {
		cfg.Health.ProbeHost = def.Health.ProbeHost
	}
	if cfg.Health.ProbeTimeoutSec <= 0 {
		cfg.Health.ProbeTimeoutSec = def.Health.ProbeTimeoutSec
	}

	if len(cfg.Security.Roots) == 0 {
		cfg.Security.Roots = []string{cfg.HomeDir}
	}
	if len(cfg.Security.SensitivePatterns) == 0 {
		cfg.Security.SensitivePatterns = def.Security.SensitivePatterns
	}
	if len(cfg.Security.ContentPatterns) == 0 {
		cfg.Security.ContentPatterns = def.Security.ContentPatterns
	}
	if cfg.Security.MaxDepth <= 0 {
		cfg.Security.MaxDepth = def.Security.MaxDepth
	}
	if cfg.Security.MaxPerPattern <= 0 {
		cfg.Security.MaxPerPattern = def.Security.MaxPerPattern
	}
	if cfg.Security.MaxContentBytes <= 0 {
		cfg.Security.MaxContentBytes = def.Security.MaxContentBytes
	}
	if len(cfg.Security.ContentExtensions) == 0 {
		cfg.Security.ContentExtensions = def.Security.ContentExtensions
	}

	if strings.TrimSpace(cfg.Skills.Root) == "" {
		cfg.Skills.Root = filepath.Join(cfg.HomeDir, "skills")
	}
	if len(cfg.Skills.EntryPoints) == 0 {
		cfg.Skills.EntryPoints = def.Skills.EntryPoints
	}

	if cfg.Freshness.RequestTimeout <= 0 {
		cfg.Freshness.RequestTimeout = def.Freshness.RequestTimeout
	}
	if cfg.Freshness.RequestDelayMS <= 0 {
		cfg.Freshness.RequestDelayMS = def.Freshness.RequestDelayMS
	}

	if strings.TrimSpace(cfg.Backup.Root) == "" {
		cfg.Backup.Root = filepath.Join(cfg.HomeDir, "backups")
	}
	if cfg.Backup.MaxAgeHours <= 0 {
		cfg.Backup.MaxAgeHours = def.Backup.MaxAgeHours
	}
	if len(cfg.Backup.ExpectedSubdirs) == 0 {
		cfg.Backup.ExpectedSubdirs = def.Backup.ExpectedSubdirs
	}
	if cfg.Backup.CreateTimeout <= 0 {
		cfg.Backup.CreateTimeout = def.Backup.CreateTimeout
	}

	if strings.TrimSpace(cfg.Hotstate.StateFile) == "" {
		cfg.Hotstate.StateFile = filepath.Join(cfg.HomeDir, "state.json")
	}
	if strings.TrimSpace(cfg.Hotstate.IdentityFile) == "" {
		cfg.Hotstate.IdentityFile = filepath.Join(cfg.HomeDir, "identity.yaml")
	}
	if strings.TrimSpace(cfg.Hotstate.SessionMarker) == "" {
		cfg.Hotstate.SessionMarker = filepath.Join(cfg.HomeDir, "session.active")
	}
	if strings.TrimSpace(cfg.Hotstate.KnowledgeDir) == "" {
		cfg.Hotstate.KnowledgeDir = filepath.Join(cfg.HomeDir, "knowledge")
	}

	if strings.TrimSpace(cfg.Tasks.JobsFile) == "" {
		cfg.Tasks.JobsFile = filepath.Join(cfg.HomeDir, "jobs.yaml")
	}
	if cfg.Tasks.LookaheadHours <= 0 {
		cfg.Tasks.LookaheadHours = def.Tasks.LookaheadHours
	}

	if cfg.Bus.DrainLimit <= 0 {
		cfg.Bus.DrainLimit = def.Bus.DrainLimit
	}

	if strings.TrimSpace(cfg.Workspace) == "" {
		cfg.Workspace = filepath.Join(cfg.HomeDir, "workspace")
	}
}

// InboxDir returns the notification inbox directory.
func (c Config) InboxDir() string {
	return filepath.Join(c.HomeDir, "inbox")
}

// StateDir returns the run-state root: the last-run record plus the per-run
// audit reports live under it.
func (c Config) StateDir() string {
	return filepath.Join(c.HomeDir, "state")
}

// Fingerprint returns a stable hash of the settings that change run behavior.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|skills=%s|backup=%s|probe=%s|roots=%v",
		c.LogLevel, c.Skills.Root, c.Backup.Root, c.Health.ProbeHost, c.Security.Roots)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
