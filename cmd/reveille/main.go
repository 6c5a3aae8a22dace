package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/basket/reveille/internal/config"
	"github.com/basket/reveille/internal/orchestrator"
	otelPkg "github.com/basket/reveille/internal/otel"
	"github.com/basket/reveille/internal/statestore"
	"github.com/basket/reveille/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

WAKE-UP RUN (default):
  %s                          Run the full wake-up pipeline
  %s -quick                   Run the reduced quick subset
  %s -skip security,sync      Bypass named phases
  %s -json                    Emit the run report as JSON

SUBCOMMANDS:
  %s inbox publish            Publish a notification message
                              Flags: -type <t> -from <f> [-payload <json>]
  %s inbox drain              List inbox messages without consuming them
                              Flags: [-limit <n>] [-archive] [-json]
  %s inbox watch              Stream new inbox messages until interrupted
  %s report                   Show the last recorded run
  %s version                  Print the version
  %s help                     Print this help

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  REVEILLE_HOME           Data directory (default: ~/.reveille)
  REVEILLE_LOG_LEVEL      Log level override (debug, info, warn, error)
  REVEILLE_SKILLS_ROOT    Skills root override
  REVEILLE_BACKUP_ROOT    Backup root override
`)
}

func main() {
	quick := flag.Bool("quick", false, "run the reduced quick subset of phases")
	skip := flag.String("skip", "", "comma-separated phase ids to bypass")
	jsonOut := flag.Bool("json", false, "emit the run report as JSON on stdout")
	verbose := flag.Bool("verbose", false, "mirror structured logs to stdout")
	home := flag.String("home", "", "data directory (overrides REVEILLE_HOME)")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "version":
			fmt.Printf("reveille %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
			os.Exit(0)
		case "inbox":
			os.Exit(runInboxCommand(ctx, *home, args[1:]))
		case "report":
			os.Exit(runReportCommand(*home, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	os.Exit(runWake(ctx, *home, *quick, *skip, *jsonOut, *verbose))
}

func runWake(ctx context.Context, home string, quick bool, skip string, jsonOut, verbose bool) int {
	cfg, err := config.Load(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	// Logs go to the log file; stdout carries the report. -verbose mirrors
	// logs to stdout but never when -json keeps stdout machine-readable.
	quiet := !verbose || jsonOut
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		return 1
	}
	defer closer.Close()
	logger.Info("config loaded", "home", cfg.HomeDir, "fingerprint", cfg.Fingerprint(), "genesis", cfg.NeedsGenesis)

	provider, err := otelPkg.Init(ctx, cfg.OTel, Version)
	if err != nil {
		logger.Warn("otel init failed, continuing without telemetry", "error", err)
		provider, _ = otelPkg.Init(ctx, otelPkg.Config{}, Version)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	orch, err := orchestrator.New(cfg, logger, provider, Version)
	if err != nil {
		if errors.Is(err, statestore.ErrInaccessible) {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		return 1
	}

	opts := orchestrator.Options{Mode: orchestrator.ModeNormal, Skip: parseSkipSet(skip)}
	if quick {
		opts.Mode = orchestrator.ModeQuick
	}

	rep, err := orch.Run(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return 1
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
			return 1
		}
		return 0
	}

	renderRunReport(os.Stdout, rep)
	return 0
}

func parseSkipSet(s string) map[string]bool {
	skip := map[string]bool{}
	for _, id := range strings.Split(s, ",") {
		id = strings.TrimSpace(strings.ToLower(id))
		if id != "" {
			skip[id] = true
		}
	}
	return skip
}
