// Package taskreport summarizes what the assistant is currently running and
// what is scheduled next: live processes matched against configured name
// patterns, and cron-scheduled jobs firing within the lookahead window.
package taskreport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/basket/reveille/internal/config"
)

// Process is one live process matched by a configured pattern.
type Process struct {
	PID           int     `json:"pid"`
	Command       string  `json:"command"`
	Pattern       string  `json:"pattern"`
	UptimeSeconds float64 `json:"uptime_seconds,omitempty"`
}

// Job is one scheduled job with its next fire time.
type Job struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
	InWindow bool      `json:"in_window"`
}

// Report is the task picture for one run.
type Report struct {
	Processes []Process `json:"processes"`
	Jobs      []Job     `json:"jobs"`
	Upcoming  int       `json:"upcoming"`
	Malformed []string  `json:"malformed,omitempty"`
}

type jobsFile struct {
	Jobs []struct {
		Name     string `yaml:"name"`
		Schedule string `yaml:"schedule"`
	} `yaml:"jobs"`
}

// Reporter builds task reports from the process table and the jobs file.
type Reporter struct {
	cfg    config.TasksConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewReporter(cfg config.TasksConfig, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{cfg: cfg, logger: logger, now: time.Now}
}

// Build assembles the report. An unreadable process table or jobs file
// degrades the report rather than failing it.
func (r *Reporter) Build(ctx context.Context) Report {
	var rep Report

	procs, err := enumerateProcesses()
	if err != nil {
		r.logger.Warn("process enumeration unavailable", "error", err)
	} else {
		rep.Processes = r.matchProcesses(procs)
	}

	jobs, malformed := r.loadJobs(ctx)
	rep.Jobs = jobs
	rep.Malformed = malformed
	for _, j := range jobs {
		if j.InWindow {
			rep.Upcoming++
		}
	}
	return rep
}

func (r *Reporter) matchProcesses(procs []procInfo) []Process {
	var out []Process
	now := r.now()
	for _, p := range procs {
		for _, pat := range r.cfg.ProcessPatterns {
			if pat != "" && strings.Contains(p.command, pat) {
				proc := Process{PID: p.pid, Command: p.command, Pattern: pat}
				if !p.started.IsZero() {
					proc.UptimeSeconds = now.Sub(p.started).Seconds()
				}
				out = append(out, proc)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// loadJobs parses the jobs file and computes each job's next fire time.
// Malformed schedules are flagged and excluded, never fatal.
func (r *Reporter) loadJobs(ctx context.Context) ([]Job, []string) {
	if r.cfg.JobsFile == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(r.cfg.JobsFile)
	if err != nil {
		return nil, nil
	}
	var file jobsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		r.logger.Warn("jobs file is not valid yaml", "path", r.cfg.JobsFile, "error", err)
		return nil, []string{fmt.Sprintf("jobs file: %v", err)}
	}

	now := r.now()
	horizon := now.Add(time.Duration(r.cfg.LookaheadHours) * time.Hour)

	var jobs []Job
	var malformed []string
	for _, entry := range file.Jobs {
		if ctx.Err() != nil {
			break
		}
		sched, err := cron.ParseStandard(entry.Schedule)
		if err != nil {
			malformed = append(malformed, fmt.Sprintf("%s: %v", entry.Name, err))
			r.logger.Warn("job has malformed schedule", "job", entry.Name, "schedule", entry.Schedule)
			continue
		}
		next := sched.Next(now)
		jobs = append(jobs, Job{
			Name:     entry.Name,
			Schedule: entry.Schedule,
			NextRun:  next,
			InWindow: !next.After(horizon),
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].NextRun.Before(jobs[j].NextRun) })
	return jobs, malformed
}

type procInfo struct {
	pid     int
	command string
	started time.Time
}
