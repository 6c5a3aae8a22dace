package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/basket/reveille/internal/bus"
	"github.com/basket/reveille/internal/config"
	"github.com/basket/reveille/internal/telemetry"
)

func runInboxCommand(ctx context.Context, home string, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: reveille inbox <publish|drain|watch>")
		return 2
	}

	cfg, err := config.Load(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		return 1
	}
	defer closer.Close()

	inbox, err := bus.New(cfg.InboxDir(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inbox: %v\n", err)
		return 1
	}

	switch args[0] {
	case "publish":
		return runInboxPublish(ctx, inbox, args[1:])
	case "drain":
		return runInboxDrain(ctx, inbox, args[1:])
	case "watch":
		return runInboxWatch(ctx, inbox, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown inbox action %q\n", args[0])
		return 2
	}
}

func runInboxPublish(ctx context.Context, inbox *bus.Bus, args []string) int {
	fs := flag.NewFlagSet("inbox publish", flag.ContinueOnError)
	msgType := fs.String("type", "", "message type (required)")
	from := fs.String("from", "cli", "message sender")
	payload := fs.String("payload", "", "JSON object payload")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *msgType == "" {
		fmt.Fprintln(os.Stderr, "inbox publish: -type is required")
		return 2
	}

	msg := bus.Message{Type: *msgType, From: *from}
	if *payload != "" {
		if err := json.Unmarshal([]byte(*payload), &msg.Payload); err != nil {
			fmt.Fprintf(os.Stderr, "inbox publish: payload is not a JSON object: %v\n", err)
			return 2
		}
	}

	id, err := inbox.Publish(ctx, msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publish: %v\n", err)
		return 1
	}
	fmt.Println(id)
	return 0
}

func runInboxDrain(ctx context.Context, inbox *bus.Bus, args []string) int {
	fs := flag.NewFlagSet("inbox drain", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum messages to show")
	archive := fs.Bool("archive", false, "move listed messages into the archive")
	jsonOut := fs.Bool("json", false, "emit messages as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	result, err := inbox.Drain(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drain: %v\n", err)
		return 1
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 1
		}
	} else {
		fmt.Printf("%d messages (%d shown, %d malformed)\n",
			result.Total, len(result.Messages), len(result.Malformed))
		for _, m := range result.Messages {
			printMessage(os.Stdout, m)
		}
		for _, name := range result.Malformed {
			fmt.Printf("  malformed: %s\n", name)
		}
	}

	if *archive && len(result.Files) > 0 {
		if err := inbox.Archive(result.Files); err != nil {
			fmt.Fprintf(os.Stderr, "archive: %v\n", err)
			return 1
		}
	}
	return 0
}

func runInboxWatch(ctx context.Context, inbox *bus.Bus, w io.Writer) int {
	msgs, err := inbox.Watch(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}
	fmt.Fprintln(w, "watching inbox (interrupt to stop)")
	for m := range msgs {
		printMessage(w, m)
	}
	return 0
}

func printMessage(w io.Writer, m bus.Message) {
	fmt.Fprintf(w, "  %s  %-24s from %s", m.Timestamp.Format(time.RFC3339), m.Type, m.From)
	if len(m.Payload) > 0 {
		if raw, err := json.Marshal(m.Payload); err == nil {
			fmt.Fprintf(w, "  %s", raw)
		}
	}
	fmt.Fprintln(w)
}
