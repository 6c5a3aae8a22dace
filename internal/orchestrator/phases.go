package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/reveille/internal/backup"
	"github.com/basket/reveille/internal/bus"
	"github.com/basket/reveille/internal/freshness"
	"github.com/basket/reveille/internal/health"
	"github.com/basket/reveille/internal/hotstate"
	"github.com/basket/reveille/internal/otel"
	"github.com/basket/reveille/internal/security"
	"github.com/basket/reveille/internal/shared"
	"github.com/basket/reveille/internal/skills"
	"github.com/basket/reveille/internal/taskreport"
)

func (o *Orchestrator) runHealth(ctx context.Context, st *runState) PhaseResult {
	st.health = health.Probe(ctx, o.cfg.Health, o.cfg.HomeDir, o.logger)
	res := PhaseResult{Status: StatusOK, Details: st.health}
	if n := st.health.Warnings(); n > 0 {
		res.Status = StatusWarn
		res.Message = fmt.Sprintf("%d health checks below floor", n)
	}
	return res
}

func (o *Orchestrator) runSecurity(ctx context.Context, st *runState) PhaseResult {
	st.security = security.NewScanner(o.cfg.Security, o.logger).Scan(ctx)
	o.metrics.SecurityScore.Record(ctx, int64(st.security.Score))

	res := PhaseResult{Status: StatusOK, Details: st.security}
	if st.security.Score < 70 {
		res.Status = StatusWarn
		res.Message = fmt.Sprintf("security score %d", st.security.Score)
	}
	return res
}

func (o *Orchestrator) runRegistry(ctx context.Context, st *runState) PhaseResult {
	validator := skills.NewValidator(o.cfg.Skills.Root, o.cfg.Skills.EntryPoints, o.cfg.Skills.DocOnly, o.logger)
	summary, err := validator.Validate(ctx)
	st.skills = summary

	res := PhaseResult{Status: StatusOK, Details: summary}
	switch {
	case err != nil:
		res.Status = StatusWarn
		res.Message = fmt.Sprintf("registry scan incomplete: %v", err)
	case summary.Broken > 0:
		res.Status = StatusWarn
		res.Message = fmt.Sprintf("%d broken skills: %s", summary.Broken, strings.Join(summary.BrokenNames, ", "))
	}
	if summary.Broken > 0 {
		o.metrics.BrokenSkills.Add(ctx, int64(summary.Broken))
	}
	return res
}

func (o *Orchestrator) runFreshness(ctx context.Context, st *runState) PhaseResult {
	if o.cfg.Freshness.IndexURL == "" {
		return PhaseResult{Status: StatusSkipped, Reason: "no version index configured"}
	}
	checker := freshness.NewChecker(
		o.cfg.Freshness.IndexURL,
		time.Duration(o.cfg.Freshness.RequestTimeout)*time.Second,
		time.Duration(o.cfg.Freshness.RequestDelayMS)*time.Millisecond,
		o.logger,
	)
	spanCtx, span := otel.StartClientSpan(ctx, o.provider.Tracer, "reveille.freshness.index")
	st.freshness = checker.Check(spanCtx, st.skills.Records)
	span.End()

	res := PhaseResult{Status: StatusOK, Details: st.freshness}
	if st.freshness.UpdateAvailable > 0 {
		res.Status = StatusWarn
		res.Message = fmt.Sprintf("%d skill updates available", st.freshness.UpdateAvailable)
	}
	return res
}

func (o *Orchestrator) runBackup(ctx context.Context, st *runState) PhaseResult {
	verifier := backup.NewVerifier(o.cfg.Backup, o.logger)
	st.backup = verifier.Verify(ctx)

	res := PhaseResult{Status: StatusOK}
	switch {
	case st.backup.NeedsBackup:
		res.Status = StatusWarn
		res.Message = "no backup exists"
	case !st.backup.Valid:
		res.Status = StatusWarn
		res.Message = fmt.Sprintf("latest backup invalid (age %.1fh)", st.backup.AgeHours)
	}

	// Creation is only triggered outside quick mode; the external command
	// is idempotent so a redundant trigger is harmless.
	if st.mode == ModeNormal && res.Status == StatusWarn && len(o.cfg.Backup.CreateCommand) > 0 {
		st.backup.Triggered = true
		if err := verifier.TriggerCreate(ctx); err != nil {
			st.backup.TriggerErr = err.Error()
			o.logger.Warn("backup trigger failed", "error", err)
		} else if _, err := o.inbox.Publish(ctx, bus.Message{
			Type: bus.TypeBackupRequested,
			From: "reveille",
			Payload: map[string]any{
				"run_id": shared.RunID(ctx),
				"reason": res.Message,
			},
		}); err != nil {
			o.logger.Warn("backup.requested publish failed", "error", err)
		}
	}
	res.Details = st.backup
	return res
}

func (o *Orchestrator) runHotstate(ctx context.Context, st *runState) PhaseResult {
	st.hotstate = hotstate.NewChecker(o.cfg.Hotstate, o.logger).Check(ctx)

	res := PhaseResult{Status: StatusOK, Details: st.hotstate}
	if st.hotstate.MissingCount > 0 {
		res.Status = StatusWarn
		res.Message = fmt.Sprintf("%d working-state artifacts missing", st.hotstate.MissingCount)
	}
	return res
}

// runSync checks whether the assistant workspace has uncommitted changes.
// A missing workspace or git binary degrades to skipped, never warn.
func (o *Orchestrator) runSync(ctx context.Context, st *runState) PhaseResult {
	if o.cfg.Workspace == "" {
		return PhaseResult{Status: StatusSkipped, Reason: "no workspace configured"}
	}
	if _, err := exec.LookPath(o.gitBin); err != nil {
		return PhaseResult{Status: StatusSkipped, Reason: "git not available"}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(cmdCtx, o.gitBin, "-C", o.cfg.Workspace, "status", "--porcelain").Output()
	if err != nil {
		return PhaseResult{Status: StatusSkipped, Reason: "workspace is not a git repository"}
	}

	dirty := 0
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(line) != "" {
			dirty++
		}
	}
	ahead, behind := o.upstreamDivergence(cmdCtx)
	details := map[string]any{
		"dirty_files": dirty,
		"ahead":       ahead,
		"behind":      behind,
		"workspace":   o.cfg.Workspace,
	}
	if dirty > 0 {
		st.syncState = "dirty"
		return PhaseResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d uncommitted changes in workspace", dirty),
			Details: details,
		}
	}
	st.syncState = "clean"
	return PhaseResult{Status: StatusOK, Details: details}
}

// upstreamDivergence reports ahead/behind counts against the tracked branch.
// Best-effort: no upstream configured reports 0/0.
func (o *Orchestrator) upstreamDivergence(ctx context.Context) (int, int) {
	out, err := exec.CommandContext(ctx, o.gitBin, "-C", o.cfg.Workspace,
		"rev-list", "--count", "--left-right", "@{upstream}...HEAD").Output()
	if err != nil {
		return 0, 0
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) != 2 {
		return 0, 0
	}
	var behind, ahead int
	fmt.Sscanf(fields[0], "%d", &behind)
	fmt.Sscanf(fields[1], "%d", &ahead)
	return ahead, behind
}

func (o *Orchestrator) runBus(ctx context.Context, st *runState) PhaseResult {
	drained, err := o.inbox.Drain(ctx, o.cfg.Bus.DrainLimit)
	if err != nil {
		return PhaseResult{Status: StatusWarn, Message: fmt.Sprintf("inbox drain failed: %v", err)}
	}
	st.drained = drained
	o.metrics.Notifications.Add(ctx, int64(len(drained.Messages)),
		metric.WithAttributes(otel.AttrRunID.String(shared.RunID(ctx))))

	res := PhaseResult{Status: StatusOK, Details: drained}
	if len(drained.Malformed) > 0 {
		res.Status = StatusWarn
		res.Message = fmt.Sprintf("%d malformed notification files", len(drained.Malformed))
	}

	if _, err := o.inbox.Publish(ctx, bus.Message{
		Type: bus.TypeWakeReady,
		From: "reveille",
		Payload: map[string]any{
			"run_id": shared.RunID(ctx),
			"mode":   st.mode,
		},
	}); err != nil {
		res.Status = StatusWarn
		res.Message = fmt.Sprintf("wake.ready publish failed: %v", err)
	}
	return res
}

func (o *Orchestrator) runTasks(ctx context.Context, st *runState) PhaseResult {
	st.tasks = taskreport.NewReporter(o.cfg.Tasks, o.logger).Build(ctx)

	res := PhaseResult{Status: StatusOK, Details: st.tasks}
	if len(st.tasks.Malformed) > 0 {
		res.Status = StatusWarn
		res.Message = fmt.Sprintf("%d malformed job entries", len(st.tasks.Malformed))
	}
	return res
}
