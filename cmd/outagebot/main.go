// Command outagebot watches the outage schedule source and notifies
// subscribers when a queue's schedule changes.
//
// Usage:
//
//	outagebot run --config ./config.yaml
//	outagebot check --dry-run
//	outagebot history --limit 5
//	outagebot fetch
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"outagebot/internal/app"
	"outagebot/internal/config"
)

func main() {
	config.LoadDotEnv(".env")

	var cfgPath string
	root := &cobra.Command{
		Use:           "outagebot",
		Short:         "Outage schedule watcher and Telegram notifier",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml)")

	root.AddCommand(runCmd(&cfgPath))
	root.AddCommand(checkCmd(&cfgPath))
	root.AddCommand(historyCmd(&cfgPath))
	root.AddCommand(fetchCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot, the scheduler and the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := a.Start(ctx); err != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopUnknown
			select {
			case sig := <-sigCh:
				reason = app.StopReasonFromSignal(sig)
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
}

func checkCmd(cfgPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one ingestion cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := app.OpenTools(*cfgPath, dryRun)
			if err != nil {
				return err
			}
			defer t.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			rep := t.Pipeline.RunCycle(ctx)
			return printJSON(rep)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log notifications instead of sending them")
	return cmd
}

func historyCmd(cfgPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent schedule changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be > 0")
			}
			t, err := app.OpenTools(*cfgPath, true)
			if err != nil {
				return err
			}
			defer t.Close()

			recs, err := t.Store.RecentHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(recs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of records")
	return cmd
}

func fetchCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the source and print the normalized mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := app.OpenTools(*cfgPath, true)
			if err != nil {
				return err
			}
			defer t.Close()

			raw, err := t.Source.FetchDetailed(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(raw)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
