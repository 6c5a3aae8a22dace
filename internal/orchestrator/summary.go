package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// Summary is the aggregate view a human reads first. Alerts are kept apart
// from routine status lines so actionable items cannot hide in noise.
type Summary struct {
	Tally          map[string]int `json:"tally"`
	SecurityScore  int            `json:"security_score"`
	HealthyRatio   float64        `json:"healthy_skill_ratio"`
	BackupFresh    bool           `json:"backup_fresh"`
	NeedsBackup    bool           `json:"needs_backup"`
	Notifications  int            `json:"notifications"`
	RunningTasks   int            `json:"running_tasks"`
	ScheduledTasks int            `json:"scheduled_tasks"`
	WorkspaceState string         `json:"workspace_state,omitempty"`
	Uptime         string         `json:"uptime"`
	FirstRun       bool           `json:"first_run,omitempty"`
	Alerts         []string       `json:"alerts,omitempty"`
}

func (o *Orchestrator) buildSummary(rep *RunReport, st *runState) Summary {
	s := Summary{
		Tally:          map[string]int{},
		SecurityScore:  st.security.Score,
		BackupFresh:    st.backup.Valid,
		NeedsBackup:    st.backup.NeedsBackup,
		Notifications:  st.drained.Total,
		RunningTasks:   len(st.tasks.Processes),
		ScheduledTasks: st.tasks.Upcoming,
		WorkspaceState: st.syncState,
	}
	for _, p := range rep.Phases {
		s.Tally[p.Status]++
	}

	total := len(st.skills.Records)
	if total > 0 {
		s.HealthyRatio = float64(st.skills.Healthy) / float64(total)
	}

	if rep.PreviousRun != nil {
		s.Uptime = FormatUptime(o.now().Sub(rep.PreviousRun.StartTime))
	} else {
		s.FirstRun = true
		s.Uptime = "first recorded run"
	}

	if ran(rep, PhaseSecurity) && st.security.Score < 70 {
		s.Alerts = append(s.Alerts, fmt.Sprintf("security score below 70 (currently %d)", st.security.Score))
	}
	if st.skills.Broken > 0 {
		s.Alerts = append(s.Alerts, fmt.Sprintf("%d skills broken: %s", st.skills.Broken, strings.Join(st.skills.BrokenNames, ", ")))
	}
	if ran(rep, PhaseBackup) {
		if st.backup.NeedsBackup {
			s.Alerts = append(s.Alerts, "no backup exists")
		} else if st.backup.Stale {
			s.Alerts = append(s.Alerts, fmt.Sprintf("backup stale (%.1fh old)", st.backup.AgeHours))
		}
	}
	return s
}

func ran(rep *RunReport, phaseID string) bool {
	for _, p := range rep.Phases {
		if p.PhaseID == phaseID {
			return p.Status != StatusSkipped
		}
	}
	return false
}

// FormatUptime renders an elapsed duration as "N days, N hours, N minutes".
// Zero leading components are omitted; the minutes component always renders.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, pluralize(days, "day"))
	}
	if hours > 0 || days > 0 {
		parts = append(parts, pluralize(hours, "hour"))
	}
	parts = append(parts, pluralize(minutes, "minute"))
	return strings.Join(parts, ", ")
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %s", n, unit+"s")
}
