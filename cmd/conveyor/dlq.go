package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/id"
)

func dlqCmd(cfg config) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered jobs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letter entries, newest failure first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queueName, _ := cmd.Flags().GetString("queue")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.ListDLQ(ctx, dlq.ListOpts{Queue: queueName, Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	listCmd.Flags().String("queue", "", "filter by queue")
	listCmd.Flags().Int("limit", 50, "maximum number of entries to return")

	replayCmd := &cobra.Command{
		Use:   "replay <entry-id>",
		Short: "Re-enqueue a dead-lettered job as a fresh job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := id.ParseDLQID(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			j, err := dlq.NewService(s, s).Replay(ctx, entryID)
			if err != nil {
				return err
			}
			fmt.Println("replayed as", j.ID)
			return nil
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove old dead letter entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")

			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.PurgeDLQ(ctx, time.Now().UTC().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("purged %d entries\n", n)
			return nil
		},
	}
	purgeCmd.Flags().Duration("older-than", 7*24*time.Hour, "only remove entries that failed before this age")

	dlqCmd.AddCommand(listCmd)
	dlqCmd.AddCommand(replayCmd)
	dlqCmd.AddCommand(purgeCmd)
	return dlqCmd
}
