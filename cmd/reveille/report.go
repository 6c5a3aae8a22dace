package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"

	"github.com/basket/reveille/internal/config"
	"github.com/basket/reveille/internal/orchestrator"
	"github.com/basket/reveille/internal/statestore"
)

var (
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleFail    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHeader  = lipgloss.NewStyle().Bold(true)
	styleAlert   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func colorize(status string, colored bool) string {
	if !colored {
		return status
	}
	switch status {
	case orchestrator.StatusOK:
		return styleOK.Render(status)
	case orchestrator.StatusWarn:
		return styleWarn.Render(status)
	case orchestrator.StatusFail:
		return styleFail.Render(status)
	case orchestrator.StatusSkipped:
		return styleSkipped.Render(status)
	}
	return status
}

// renderRunReport prints the human-readable run report: a headline, a phase
// table, and the alerts block kept visually apart from routine lines.
func renderRunReport(w io.Writer, rep orchestrator.RunReport) {
	colored := false
	if f, ok := w.(*os.File); ok {
		colored = isatty.IsTerminal(f.Fd())
	}

	header := fmt.Sprintf("reveille %s run %s (%s mode, %.1fs)",
		rep.Version, rep.RunID, rep.Mode, rep.DurationSeconds)
	if colored {
		header = styleHeader.Render(header)
	}
	fmt.Fprintln(w, header)
	fmt.Fprintf(w, "since last start: %s\n\n", rep.Summary.Uptime)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Phase", "Status", "Duration", "Note"})
	for _, p := range rep.Phases {
		note := p.Message
		if p.Status == orchestrator.StatusSkipped {
			note = p.Reason
		}
		t.AppendRow(table.Row{
			p.PhaseID,
			colorize(p.Status, colored),
			fmt.Sprintf("%.2fs", p.DurationSeconds),
			note,
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()

	s := rep.Summary
	fmt.Fprintf(w, "\nsecurity score %d | healthy skills %.0f%% | notifications %d | running %d | scheduled %d\n",
		s.SecurityScore, s.HealthyRatio*100, s.Notifications, s.RunningTasks, s.ScheduledTasks)

	if len(s.Alerts) > 0 {
		title := "ALERTS"
		if colored {
			title = styleAlert.Render(title)
		}
		fmt.Fprintf(w, "\n%s\n", title)
		for _, a := range s.Alerts {
			fmt.Fprintf(w, "  ! %s\n", a)
		}
	}
}

// runReportCommand shows the last recorded run and its audit files.
func runReportCommand(home string, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: reveille report")
		return 2
	}

	cfg, err := config.Load(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	store, err := statestore.Open(cfg.StateDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "state store: %v\n", err)
		return 1
	}
	rec, found, err := store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load run record: %v\n", err)
		return 1
	}
	if !found {
		fmt.Println("no runs recorded yet")
		return 0
	}

	fmt.Printf("last run %s (%s mode, %s)\n", rec.RunID, rec.Mode, rec.StartTime.Format(time.RFC3339))
	fmt.Printf("duration %.1fs, version %s\n", rec.DurationSeconds, rec.Version)
	fmt.Printf("elapsed since start: %s\n", orchestrator.FormatUptime(time.Since(rec.StartTime)))

	auditDir := filepath.Join(cfg.StateDir(), "runs", rec.RunID)
	entries, err := os.ReadDir(auditDir)
	if err != nil {
		return 0
	}
	fmt.Println("\nphase reports:")
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		fmt.Printf("  %s\n", filepath.Join(auditDir, ent.Name()))
	}
	return 0
}
