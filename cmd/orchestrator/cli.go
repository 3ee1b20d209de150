package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/orchestrator/internal/adapter/postgres"
	"github.com/Strob0t/orchestrator/internal/config"
	"github.com/Strob0t/orchestrator/internal/domain/handoff"
	"github.com/Strob0t/orchestrator/internal/logger"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: orchestrator [command] [options]

Commands:
  serve        Run the HTTP and WebSocket API (default)
  migrate      Apply, roll back or inspect postgres migrations
  workflows    List registered workflows
  handoffs     List the handoffs of a workflow
  snapshot     Print the persisted snapshot as JSON
  help         Show this help message

Examples:
  orchestrator migrate
  orchestrator migrate --down 1
  orchestrator workflows --json
  orchestrator handoffs --feature invoice-export --active
`)
}

// cliSetup loads config and routes logs to stderr so stdout stays clean.
func cliSetup() (*config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Logging.Async = false
	if cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}
	log, closer := logger.NewWithWriter(cfg.Logging, os.Stderr)
	slog.SetDefault(log)
	return cfg, closer.Close, nil
}

// loadServices opens the configured storage and restores the services
// without starting the API.
func loadServices(ctx context.Context) (*services, func(), error) {
	cfg, closeLog, err := cliSetup()
	if err != nil {
		return nil, nil, err
	}
	in, err := openInfra(ctx, cfg, false)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	svc := newServices(ctx, cfg, in, nil, nil)
	return svc, func() { in.close(); closeLog() }, nil
}

// useJSON reports whether output should be JSON: when asked for, or when
// stdout is not a terminal.
func useJSON(forced bool) bool {
	return forced || !term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Int("down", 0, "roll back this many migrations")
	status := fs.Bool("status", false, "print the current schema version")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, closeLog, err := cliSetup()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := context.Background()
	switch {
	case *status:
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("migration version: %w", err)
		}
		fmt.Printf("schema version: %d\n", v)
		return nil
	case *down > 0:
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *down); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *down)
		return nil
	case *down < 0:
		return errors.New("--down must be positive")
	}

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Migrations applied")
	return nil
}

func runWorkflows(args []string) error {
	fs := flag.NewFlagSet("workflows", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	svc, cleanup, err := loadServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	workflows := svc.workflows.List(ctx)
	if useJSON(*asJSON) {
		return printJSON(os.Stdout, workflows)
	}
	if len(workflows) == 0 {
		fmt.Println("No workflows found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tAGENTS\tQUALITY\tUPDATED")
	for i := range workflows {
		wf := &workflows[i]
		agents := make([]string, len(wf.Agents))
		for j, a := range wf.Agents {
			agents[j] = fmt.Sprintf("%s:%s", a.ID, a.Status)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			wf.ID, wf.Name, strings.Join(agents, " "), wf.OverallQuality(), wf.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runHandoffs(args []string) error {
	fs := flag.NewFlagSet("handoffs", flag.ContinueOnError)
	feature := fs.String("feature", "", "feature workflow id (required)")
	active := fs.Bool("active", false, "only pending handoffs")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *feature == "" {
		return errors.New("--feature is required")
	}

	ctx := context.Background()
	svc, cleanup, err := loadServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var records []handoff.Record
	if *active {
		records = svc.handoffs.ListActive(*feature)
	} else {
		records = svc.handoffs.List(*feature)
	}

	if useJSON(*asJSON) {
		return printJSON(os.Stdout, records)
	}
	if len(records) == 0 {
		fmt.Println("No handoffs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFROM\tTO\tSTATUS\tCREATED\tERRORS")
	for i := range records {
		h := &records[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			h.ID, h.FromAgent, h.ToAgent, h.Status, h.CreatedAt.Format("2006-01-02 15:04:05"), strings.Join(h.ValidationErrors, "; "))
	}
	return w.Flush()
}

func runSnapshot(args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	svc, cleanup, err := loadServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	return printJSON(os.Stdout, svc.store.Load(ctx))
}
