// Package health samples host resources before the assistant resumes work.
// Every check is advisory: a probe below its floor yields warn, never fail.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/basket/reveille/internal/config"
)

// Check is one sampled resource with its verdict.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok" or "warn"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Report aggregates the disk, memory, and reachability checks.
type Report struct {
	Checks     []Check `json:"checks"`
	FreeDiskGB float64 `json:"free_disk_gb"`
	FreeMemGB  float64 `json:"free_mem_gb"`
	Reachable  bool    `json:"reachable"`
}

// Warnings counts checks below their floor.
func (r Report) Warnings() int {
	n := 0
	for _, c := range r.Checks {
		if c.Status == "warn" {
			n++
		}
	}
	return n
}

// Sampler hooks let tests substitute host measurements.
var (
	freeDiskBytes   = realFreeDiskBytes
	freeMemoryBytes = realFreeMemoryBytes
)

const bytesPerGB = 1 << 30

// Probe runs all health checks against the configured floors.
func Probe(ctx context.Context, cfg config.HealthConfig, statRoot string, logger *slog.Logger) Report {
	if logger == nil {
		logger = slog.Default()
	}
	var rep Report

	rep.Checks = append(rep.Checks, checkDisk(cfg, statRoot, &rep))
	rep.Checks = append(rep.Checks, checkMemory(cfg, &rep))
	rep.Checks = append(rep.Checks, checkReachability(ctx, cfg, &rep))

	for _, c := range rep.Checks {
		if c.Status == "warn" {
			logger.Warn("health check below floor", "check", c.Name, "message", c.Message)
		}
	}
	return rep
}

func checkDisk(cfg config.HealthConfig, statRoot string, rep *Report) Check {
	free, err := freeDiskBytes(statRoot)
	if err != nil {
		return Check{Name: "disk", Status: "warn", Message: fmt.Sprintf("free space unavailable: %v", err)}
	}
	rep.FreeDiskGB = float64(free) / bytesPerGB
	if rep.FreeDiskGB < cfg.MinFreeDiskGB {
		return Check{
			Name:    "disk",
			Status:  "warn",
			Message: fmt.Sprintf("%.1f GB free, below %.1f GB floor", rep.FreeDiskGB, cfg.MinFreeDiskGB),
		}
	}
	return Check{Name: "disk", Status: "ok", Message: fmt.Sprintf("%.1f GB free", rep.FreeDiskGB)}
}

func checkMemory(cfg config.HealthConfig, rep *Report) Check {
	free, err := freeMemoryBytes()
	if err != nil {
		return Check{Name: "memory", Status: "warn", Message: fmt.Sprintf("free memory unavailable: %v", err)}
	}
	rep.FreeMemGB = float64(free) / bytesPerGB
	if rep.FreeMemGB < cfg.MinFreeMemoryGB {
		return Check{
			Name:    "memory",
			Status:  "warn",
			Message: fmt.Sprintf("%.1f GB free, below %.1f GB floor", rep.FreeMemGB, cfg.MinFreeMemoryGB),
		}
	}
	return Check{Name: "memory", Status: "ok", Message: fmt.Sprintf("%.1f GB free", rep.FreeMemGB)}
}

func checkReachability(ctx context.Context, cfg config.HealthConfig, rep *Report) Check {
	timeout := time.Duration(cfg.ProbeTimeoutSec) * time.Second
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, cfg.ProbeHost)
	latency := time.Since(start)

	if err != nil {
		return Check{
			Name:    "network",
			Status:  "warn",
			Message: fmt.Sprintf("cannot resolve %s: %v", cfg.ProbeHost, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}
	rep.Reachable = true
	return Check{
		Name:    "network",
		Status:  "ok",
		Message: fmt.Sprintf("resolved %s (%d addresses, %dms)", cfg.ProbeHost, len(addrs), latency.Milliseconds()),
	}
}

// Online reports whether the probe host resolves within the configured
// timeout. Network-dependent phases use this as their connectivity gate.
func Online(ctx context.Context, cfg config.HealthConfig) bool {
	timeout := time.Duration(cfg.ProbeTimeoutSec) * time.Second
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := net.DefaultResolver.LookupHost(lookupCtx, cfg.ProbeHost)
	return err == nil
}
