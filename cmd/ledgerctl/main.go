package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"charity_ledger/internal/app"
	"charity_ledger/internal/services"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tools for the donation ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(recalcCmd())
	rootCmd.AddCommand(auditRefundWindowCmd())
	rootCmd.AddCommand(scheduleTaskCmd())
	rootCmd.AddCommand(notifyTestCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openLedger() (*app.App, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	return app.Open(cfg)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sweepCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Complete due recurring occurrences now",
		Long: `Run the recurring donation sweep once, outside the worker.
Overlapping with a running worker is safe: every occurrence is claimed before it is processed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = t.UTC()
			}

			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			processed, err := ledger.Recurring.RunRecurringSweep(cmd.Context(), now)
			fmt.Printf("Processed %d occurrence(s)\n", processed)

			var sweepErr *services.SweepError
			if errors.As(err, &sweepErr) {
				for _, f := range sweepErr.Failures {
					fmt.Printf("  donation %d: %v\n", f.DonationID, f.Err)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Sweep as of this RFC3339 time instead of now")
	return cmd
}

func recalcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recalc [charity-id...]",
		Short: "Recompute campaign and charity totals from donations",
		Long: `Recompute aggregates for the given charities, or for every charity when none are given.
Drifted totals are reported and repaired. A consistency error stops the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			var ids []uint
			for _, a := range args {
				id, err := strconv.ParseUint(a, 10, 32)
				if err != nil {
					return fmt.Errorf("invalid charity id %q", a)
				}
				ids = append(ids, uint(id))
			}
			if len(ids) == 0 {
				if err := ledger.DB.WithContext(cmd.Context()).Table("charities").
					Where("deleted_at IS NULL").Order("id").Pluck("id", &ids).Error; err != nil {
					return fmt.Errorf("failed to list charities: %w", err)
				}
			}

			reports := make([]*services.RepairReport, 0, len(ids))
			for _, id := range ids {
				report, err := ledger.Aggregates.RepairCharity(cmd.Context(), id, time.Now().UTC())
				if err != nil {
					return fmt.Errorf("charity %d: %w", id, err)
				}
				reports = append(reports, report)
			}
			return printJSON(reports)
		},
	}
}

func auditRefundWindowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit-refund-window",
		Short: "List donations whose refund eligibility differs between donated_at and created_at",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			divergences, err := ledger.Refunds.RefundWindowDivergences(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			if len(divergences) == 0 {
				fmt.Println("No divergent donations")
				return nil
			}
			return printJSON(divergences)
		},
	}
}
