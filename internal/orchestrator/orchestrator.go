// Package orchestrator sequences the wake-up phases: health, security,
// skill registry, freshness, backup, working state, workspace sync, the
// notification bus, and the task report, then folds everything into a
// summary. Phase ordering and quick-mode membership live in a single phase
// table rather than in control flow.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/reveille/internal/backup"
	"github.com/basket/reveille/internal/bus"
	"github.com/basket/reveille/internal/config"
	"github.com/basket/reveille/internal/freshness"
	"github.com/basket/reveille/internal/health"
	"github.com/basket/reveille/internal/hotstate"
	"github.com/basket/reveille/internal/otel"
	"github.com/basket/reveille/internal/security"
	"github.com/basket/reveille/internal/shared"
	"github.com/basket/reveille/internal/skills"
	"github.com/basket/reveille/internal/statestore"
	"github.com/basket/reveille/internal/taskreport"
)

// Run modes.
const (
	ModeNormal = "normal"
	ModeQuick  = "quick"
)

// Phase statuses.
const (
	StatusOK      = "ok"
	StatusWarn    = "warn"
	StatusFail    = "fail"
	StatusSkipped = "skipped"
)

// Phase identifiers, in pipeline order.
const (
	PhaseHealth    = "health"
	PhaseSecurity  = "security"
	PhaseRegistry  = "registry"
	PhaseFreshness = "freshness"
	PhaseBackup    = "backup"
	PhaseHotstate  = "hotstate"
	PhaseSync      = "sync"
	PhaseBus       = "bus"
	PhaseTasks     = "tasks"
	PhaseSummary   = "summary"
)

// PhaseResult is the outcome of one phase. Every non-fatal error below the
// orchestrator is converted into one of these at the phase boundary.
type PhaseResult struct {
	PhaseID         string    `json:"phase_id"`
	Status          string    `json:"status"`
	Message         string    `json:"message,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Details         any       `json:"details,omitempty"`
}

// RunReport is the full outcome of one orchestrator invocation.
type RunReport struct {
	RunID           string                `json:"run_id"`
	Mode            string                `json:"mode"`
	Version         string                `json:"version"`
	StartedAt       time.Time             `json:"started_at"`
	DurationSeconds float64               `json:"duration_seconds"`
	Phases          []PhaseResult         `json:"phases"`
	Summary         Summary               `json:"summary"`
	PreviousRun     *statestore.RunRecord `json:"previous_run,omitempty"`
}

// phase is one row of the pipeline table. quick marks membership in the
// reduced quick-mode subset; network marks phases that must short-circuit to
// skipped when the host is offline. after lists phases whose output this one
// consumes; scheduleOrder places every dependency ahead of its consumer, and a
// skipped dependency leaves its slot empty but never blocks.
type phase struct {
	id      string
	after   []string
	quick   bool
	network bool
	run     func(ctx context.Context, st *runState) PhaseResult
}

// runState carries intermediate phase outputs forward. A skipped upstream
// phase leaves its slot zero-valued; downstream phases must tolerate that.
type runState struct {
	mode      string
	health    health.Report
	security  security.Report
	skills    skills.Summary
	freshness freshness.Report
	backup    backup.Report
	hotstate  hotstate.Report
	tasks     taskreport.Report
	drained   bus.DrainResult
	syncState string
}

// Options selects the mode and the phases to bypass. The summary phase
// always runs even when named in Skip.
type Options struct {
	Mode string
	Skip map[string]bool
}

// Orchestrator wires the phase implementations together.
type Orchestrator struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *statestore.Store
	inbox    *bus.Bus
	provider *otel.Provider
	metrics  *otel.Metrics
	version  string

	now    func() time.Time
	online func(ctx context.Context) bool
	gitBin string
}

// New opens the state store and the notification inbox. A state root that
// cannot be created or written is the only fatal condition.
func New(cfg config.Config, logger *slog.Logger, provider *otel.Provider, version string) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := statestore.Open(cfg.StateDir())
	if err != nil {
		return nil, err
	}
	inbox, err := bus.New(cfg.InboxDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", statestore.ErrInaccessible, err)
	}
	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		inbox:    inbox,
		provider: provider,
		metrics:  metrics,
		version:  version,
		now:      time.Now,
		gitBin:   "git",
	}
	o.online = func(ctx context.Context) bool { return health.Online(ctx, cfg.Health) }
	return o, nil
}

func (o *Orchestrator) phases() []phase {
	return []phase{
		{id: PhaseHealth, quick: true, run: o.runHealth},
		{id: PhaseSecurity, run: o.runSecurity},
		{id: PhaseRegistry, run: o.runRegistry},
		{id: PhaseFreshness, after: []string{PhaseRegistry, PhaseHealth}, network: true, run: o.runFreshness},
		{id: PhaseBackup, quick: true, run: o.runBackup},
		{id: PhaseHotstate, quick: true, run: o.runHotstate},
		{id: PhaseSync, run: o.runSync},
		{id: PhaseBus, after: []string{PhaseBackup}, run: o.runBus},
		{id: PhaseTasks, run: o.runTasks},
	}
}

// scheduleOrder sorts the phase table so every phase runs after the phases it
// lists in after. Table order is preserved between phases with no constraint.
// A cycle or a dependency on an unknown phase cannot drop work: the phases
// involved run last, in table order.
func scheduleOrder(table []phase) []phase {
	placed := make(map[string]bool, len(table))
	out := make([]phase, 0, len(table))
	remaining := table
	for len(remaining) > 0 {
		var deferred []phase
		for _, p := range remaining {
			ready := true
			for _, dep := range p.after {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				out = append(out, p)
				placed[p.id] = true
			} else {
				deferred = append(deferred, p)
			}
		}
		if len(deferred) == len(remaining) {
			return append(out, deferred...)
		}
		remaining = deferred
	}
	return out
}

// Run executes the pipeline. It returns an error only when the run record
// cannot be persisted; every phase outcome lands in the report instead.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (RunReport, error) {
	if opts.Mode == "" {
		opts.Mode = ModeNormal
	}
	runID := shared.NewTraceID()
	ctx = shared.WithRunID(ctx, runID)
	ctx = shared.WithTraceID(ctx, runID)
	logger := o.logger.With("trace_id", runID, "run_id", runID)

	start := o.now()
	rep := RunReport{
		RunID:     runID,
		Mode:      opts.Mode,
		Version:   o.version,
		StartedAt: start,
	}

	prev, found, err := o.store.Load()
	if err != nil {
		logger.Warn("previous run record unreadable", "error", err)
	}
	if found {
		rep.PreviousRun = &prev
	}

	ctx, runSpan := otel.StartSpan(ctx, o.provider.Tracer, "reveille.run",
		otel.AttrRunID.String(runID), otel.AttrMode.String(opts.Mode))
	defer runSpan.End()

	logger.Info("wake-up run starting", "mode", opts.Mode)

	st := runState{mode: opts.Mode}
	online := false
	onlineKnown := false
	for _, p := range scheduleOrder(o.phases()) {
		// Interruption between phases is honored; a phase in progress
		// runs to its own timeout.
		if ctx.Err() != nil {
			rep.Phases = append(rep.Phases, skippedResult(p.id, "run interrupted", o.now()))
			continue
		}
		if opts.Skip[p.id] {
			rep.Phases = append(rep.Phases, skippedResult(p.id, "skipped by request", o.now()))
			continue
		}
		if opts.Mode == ModeQuick && !p.quick {
			rep.Phases = append(rep.Phases, skippedResult(p.id, "not part of quick mode", o.now()))
			continue
		}
		if p.network {
			if !onlineKnown {
				online = o.online(ctx)
				onlineKnown = true
			}
			if !online {
				rep.Phases = append(rep.Phases, skippedResult(p.id, "host is offline", o.now()))
				continue
			}
		}
		rep.Phases = append(rep.Phases, o.execute(ctx, logger, p, &st))
	}

	summary := o.execute(ctx, logger, phase{id: PhaseSummary, quick: true, run: func(ctx context.Context, st *runState) PhaseResult {
		rep.Summary = o.buildSummary(&rep, st)
		return PhaseResult{Status: StatusOK, Details: rep.Summary}
	}}, &st)
	rep.Phases = append(rep.Phases, summary)

	rep.DurationSeconds = o.now().Sub(start).Seconds()
	o.metrics.RunDuration.Record(ctx, rep.DurationSeconds,
		metric.WithAttributes(otel.AttrMode.String(opts.Mode)))

	// The record is written regardless of phase outcomes; last write wins.
	record := statestore.RunRecord{
		RunID:           runID,
		StartTime:       start,
		Mode:            opts.Mode,
		DurationSeconds: rep.DurationSeconds,
		Version:         o.version,
	}
	if err := o.store.Save(record); err != nil {
		return rep, fmt.Errorf("persist run record: %w", err)
	}

	logger.Info("wake-up run finished",
		"duration_seconds", rep.DurationSeconds,
		"alerts", len(rep.Summary.Alerts))
	return rep, nil
}

// execute runs one phase inside its own span, converts panics into a fail
// result, and writes the phase audit file.
func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, p phase, st *runState) (res PhaseResult) {
	ctx = shared.WithPhaseID(ctx, p.id)
	ctx, span := otel.StartSpan(ctx, o.provider.Tracer, "reveille.phase."+p.id,
		otel.AttrPhaseID.String(p.id))
	start := o.now()

	defer func() {
		if r := recover(); r != nil {
			res = PhaseResult{Status: StatusFail, Message: fmt.Sprintf("phase panicked: %v", r)}
			logger.Error("phase panicked", "phase", p.id, "panic", fmt.Sprint(r))
		}
		res.PhaseID = p.id
		res.StartedAt = start
		res.DurationSeconds = o.now().Sub(start).Seconds()

		span.SetAttributes(otel.AttrPhaseStatus.String(res.Status))
		span.End()
		o.metrics.PhaseDuration.Record(ctx, res.DurationSeconds,
			metric.WithAttributes(otel.AttrPhaseID.String(p.id)))
		o.metrics.PhaseOutcomes.Add(ctx, 1,
			metric.WithAttributes(otel.AttrPhaseID.String(p.id), otel.AttrPhaseStatus.String(res.Status)))

		if res.Details != nil {
			if err := o.store.WritePhaseReport(shared.RunID(ctx), p.id, res.Details); err != nil {
				logger.Warn("phase audit write failed", "phase", p.id, "error", err)
			}
		}
		logger.Info("phase finished", "phase", p.id, "status", res.Status,
			"duration_seconds", res.DurationSeconds)
	}()

	return p.run(ctx, st)
}

func skippedResult(id, reason string, at time.Time) PhaseResult {
	return PhaseResult{PhaseID: id, Status: StatusSkipped, Reason: reason, StartedAt: at}
}
