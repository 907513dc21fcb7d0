// Command conveyor is the operational companion to the conveyor library:
// it inspects queues and dead letters, cancels and replays jobs, and runs
// the shared maintenance loops (delayed promotion, lease reaping,
// recurring firing) against a Postgres or Redis store.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	rootCmd := &cobra.Command{
		Use:           "conveyor",
		Short:         "Inspect and maintain a conveyor job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(statsCmd(cfg))
	rootCmd.AddCommand(queuesCmd(cfg))
	rootCmd.AddCommand(jobsCmd(cfg))
	rootCmd.AddCommand(dlqCmd(cfg))
	rootCmd.AddCommand(maintainCmd(cfg, logger))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "conveyor:", err)
		os.Exit(1)
	}
}

// printJSON renders any value as indented JSON on stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
