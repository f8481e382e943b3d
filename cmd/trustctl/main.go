package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jdogg9/agent-admission-sidecar/internal/trace"
	"github.com/Jdogg9/agent-admission-sidecar/internal/trust"
)

var (
	dbPath    string
	traceID   string
	stepTypes string
	limit     int
	expected  string
)

func main() {
	root := &cobra.Command{
		Use:   "trustctl",
		Short: "Offline inspection of the admission audit trail",
		Long: `trustctl reads the trace database directly and prints sanitized
audit events, per-trace reports, and hash-chain verifications.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "./data/trace.db", "path to the trace database")

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "List recent audit events, newest first",
		RunE:  runEvents,
	}
	eventsCmd.Flags().StringVar(&traceID, "trace", "", "filter by trace id")
	eventsCmd.Flags().StringVar(&stepTypes, "type", "", "filter by step type (comma-separated)")
	eventsCmd.Flags().IntVar(&limit, "limit", 0, "maximum events to return")

	reportCmd := &cobra.Command{
		Use:   "report <trace-id>",
		Short: "Print one trace with its chained events",
		Args:  cobra.ExactArgs(1),
		RunE:  runReport,
	}

	verifyCmd := &cobra.Command{
		Use:   "verify <trace-id>",
		Short: "Recompute a trace's hash chain",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
	verifyCmd.Flags().StringVar(&expected, "expected", "", "expected head chain hash")

	root.AddCommand(eventsCmd, reportCmd, verifyCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func withPanel(fn func(ctx context.Context, panel *trust.Panel) error) error {
	store, err := trace.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open trace db: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return fn(ctx, trust.NewPanel(store))
}

func runEvents(cmd *cobra.Command, _ []string) error {
	return withPanel(func(ctx context.Context, panel *trust.Panel) error {
		q := trace.StepQuery{TraceID: traceID, Limit: limit}
		if stepTypes != "" {
			q.StepTypes = strings.Split(stepTypes, ",")
		}

		events, err := panel.ListEvents(ctx, q)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"total":  len(events),
			"events": events,
		})
	})
}

func runReport(cmd *cobra.Command, args []string) error {
	return withPanel(func(ctx context.Context, panel *trust.Panel) error {
		report, err := panel.TraceReport(ctx, args[0])
		if err != nil {
			return err
		}
		if report == nil {
			return fmt.Errorf("trace not found: %s", args[0])
		}
		return printJSON(cmd, report)
	})
}

func runVerify(cmd *cobra.Command, args []string) error {
	return withPanel(func(ctx context.Context, panel *trust.Panel) error {
		verification, err := panel.VerifyChain(ctx, args[0], expected)
		if err != nil {
			return err
		}
		if verification == nil {
			return fmt.Errorf("trace not found: %s", args[0])
		}
		if err := printJSON(cmd, verification); err != nil {
			return err
		}
		if !verification.Valid {
			return fmt.Errorf("chain verification failed")
		}
		return nil
	})
}

func printJSON(cmd *cobra.Command, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
