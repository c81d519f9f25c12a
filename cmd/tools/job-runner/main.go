// Package main implements the job-runner CLI for invoking scheduled jobs
// directly, outside their normal cadence.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging: re-running a month-end rollup after an incident, or
// materializing summaries for a specific historical month.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=rollup_monthly
//	go run ./cmd/tools/job-runner --task=rollup_monthly --reference-time=2026-07-15T00:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=rollup_monthly
//	go run ./cmd/tools/job-runner --list
//
// The tool reads DATABASE_URL from environment variables (or a .env file via
// godotenv). In --dry-run mode, it prints the constructed payload without
// executing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pulsemetrics/internal/billing"
	"pulsemetrics/internal/config"
	"pulsemetrics/internal/db"
	"pulsemetrics/internal/scheduler"
	"pulsemetrics/internal/types"
	"pulsemetrics/internal/usage"
)

// taskRollupMonthly materializes the previous month's usage summaries.
const taskRollupMonthly = "rollup_monthly"

// validTasks maps task names to their descriptions for --list.
var validTasks = map[string]string{
	taskRollupMonthly: "Materialize last month's usage summaries into monthly_usage_summary",
}

// jobPayload is what --dry-run prints and what Run receives.
type jobPayload struct {
	Task string `json:"task"`
	// ReferenceTime overrides "now" for deterministic re-runs and
	// backfilling. Zero means the current time.
	ReferenceTime time.Time `json:"reference_time,omitempty"`
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("job-runner", flag.ContinueOnError)
	fs.SetOutput(out)
	taskFlag := fs.String("task", "", "task to execute (see --list)")
	refTimeFlag := fs.String("reference-time", "", "RFC3339 reference time overriding now")
	dryRun := fs.Bool("dry-run", false, "print the payload without executing")
	list := fs.Bool("list", false, "list available tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *list {
		printTasks(out)
		return nil
	}

	if *taskFlag == "" {
		return fmt.Errorf("--task is required (use --list to see available tasks)")
	}
	if _, ok := validTasks[*taskFlag]; !ok {
		return fmt.Errorf("unknown task %q (use --list to see available tasks)", *taskFlag)
	}

	payload := jobPayload{Task: *taskFlag}
	if *refTimeFlag != "" {
		ref, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			return fmt.Errorf("invalid --reference-time: %w", err)
		}
		payload.ReferenceTime = ref.UTC()
	}

	if *dryRun {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return execute(ctx, payload)
}

func printTasks(out io.Writer) {
	names := make([]string, 0, len(validTasks))
	for name := range validTasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%-20s %s\n", name, validTasks[name])
	}
}

// execute connects the database and dispatches the task.
func execute(ctx context.Context, payload jobPayload) error {
	// Local convenience; a missing .env is not an error.
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	pool, err := db.NewPool(ctx, config.DatabaseConfig{
		URL:               types.SecretString(databaseURL),
		MaxConns:          2,
		MinConns:          1,
		MaxConnLifetime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	switch payload.Task {
	case taskRollupMonthly:
		usageSvc := usage.NewService(
			store.DailyUsage,
			store,
			store.Monthly,
			billing.NewStaticPlanCatalog(),
			logger,
		)

		opts := []scheduler.RollupOption{}
		if !payload.ReferenceTime.IsZero() {
			ref := payload.ReferenceTime
			opts = append(opts, scheduler.WithClock(func() time.Time { return ref }))
		}

		job := scheduler.NewMonthlyRollup(store.DailyUsage, usageSvc, store.Monthly, logger, opts...)
		return job.Run(ctx)
	default:
		return fmt.Errorf("unknown task %q", payload.Task)
	}
}
