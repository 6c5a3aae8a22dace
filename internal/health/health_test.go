package health

import (
	"context"
	"errors"
	"testing"

	"github.com/basket/reveille/internal/config"
)

func withSamplers(t *testing.T, disk, mem uint64, diskErr, memErr error) {
	t.Helper()
	origDisk, origMem := freeDiskBytes, freeMemoryBytes
	freeDiskBytes = func(string) (uint64, error) { return disk, diskErr }
	freeMemoryBytes = func() (uint64, error) { return mem, memErr }
	t.Cleanup(func() {
		freeDiskBytes, freeMemoryBytes = origDisk, origMem
	})
}

func testCfg() config.HealthConfig {
	return config.HealthConfig{
		MinFreeDiskGB:   10,
		MinFreeMemoryGB: 2,
		ProbeHost:       "localhost",
		ProbeTimeoutSec: 2,
	}
}

func findCheck(t *testing.T, rep Report, name string) Check {
	t.Helper()
	for _, c := range rep.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found in %+v", name, rep.Checks)
	return Check{}
}

func TestProbe_AboveFloors(t *testing.T) {
	withSamplers(t, 50*bytesPerGB, 8*bytesPerGB, nil, nil)
	rep := Probe(context.Background(), testCfg(), "/", nil)

	if c := findCheck(t, rep, "disk"); c.Status != "ok" {
		t.Fatalf("disk = %+v", c)
	}
	if c := findCheck(t, rep, "memory"); c.Status != "ok" {
		t.Fatalf("memory = %+v", c)
	}
	if rep.FreeDiskGB != 50 {
		t.Fatalf("free disk = %v", rep.FreeDiskGB)
	}
}

func TestProbe_BelowFloorsWarnsNeverFails(t *testing.T) {
	withSamplers(t, 1*bytesPerGB, 512*1024*1024, nil, nil)
	rep := Probe(context.Background(), testCfg(), "/", nil)

	for _, name := range []string{"disk", "memory"} {
		c := findCheck(t, rep, name)
		if c.Status != "warn" {
			t.Fatalf("%s status = %q, want warn", name, c.Status)
		}
	}
	if rep.Warnings() < 2 {
		t.Fatalf("warnings = %d", rep.Warnings())
	}
}

func TestProbe_SamplerErrorIsWarn(t *testing.T) {
	withSamplers(t, 0, 0, errors.New("statfs denied"), errors.New("sysinfo denied"))
	rep := Probe(context.Background(), testCfg(), "/", nil)

	if c := findCheck(t, rep, "disk"); c.Status != "warn" {
		t.Fatalf("disk = %+v", c)
	}
	if c := findCheck(t, rep, "memory"); c.Status != "warn" {
		t.Fatalf("memory = %+v", c)
	}
}

func TestProbe_UnresolvableHostWarns(t *testing.T) {
	withSamplers(t, 50*bytesPerGB, 8*bytesPerGB, nil, nil)
	cfg := testCfg()
	cfg.ProbeHost = "definitely-not-a-real-host.invalid"
	rep := Probe(context.Background(), cfg, "/", nil)

	if c := findCheck(t, rep, "network"); c.Status != "warn" {
		t.Fatalf("network = %+v", c)
	}
	if rep.Reachable {
		t.Fatal("reachable should be false")
	}
}

func TestOnline_InvalidHost(t *testing.T) {
	cfg := testCfg()
	cfg.ProbeHost = "definitely-not-a-real-host.invalid"
	if Online(context.Background(), cfg) {
		t.Fatal("expected offline for invalid host")
	}
}
