// ledger-rebuild recomputes the daily requirement ledger for a date range
// from the approved purchase requests, overwriting drifted slots.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//     go run ./cmd/ledger-rebuild --from 2026-08-31 --to 2026-09-04
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/workflow"
)

func main() {
	fromStr := flag.String("from", "", "Required: range start (YYYY-MM-DD)")
	toStr := flag.String("to", "", "Required: range end (YYYY-MM-DD)")
	flag.Parse()

	if strings.TrimSpace(*fromStr) == "" || strings.TrimSpace(*toStr) == "" {
		fmt.Fprintln(os.Stderr, "--from and --to are required")
		os.Exit(1)
	}
	from, err := time.Parse("2006-01-02", strings.TrimSpace(*fromStr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid from date: %v\n", err)
		os.Exit(1)
	}
	to, err := time.Parse("2006-01-02", strings.TrimSpace(*toStr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid to date: %v\n", err)
		os.Exit(1)
	}
	if to.Before(from) {
		fmt.Fprintln(os.Stderr, "--to must not be before --from")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	logger := config.GetLogger()

	ctx := context.Background()
	if err := workflow.RebuildDailyRequirements(ctx, db, logger, from, to); err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
		os.Exit(1)
	}

	report, err := workflow.QueryDailyRequirements(ctx, from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild succeeded but summary query failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("rebuilt %s..%s: %d categories, grand total %d\n",
		report.StartDate, report.EndDate, len(report.Categories), report.GrandTotal)
}
