package main

import (
	"github.com/spf13/cobra"

	"github.com/conveyorhq/conveyor/stats"
)

func statsCmd(cfg config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [queue]",
		Short: "Show per-queue job counts and health",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			collector := stats.NewCollector(s)
			if len(args) == 1 {
				qs, err := collector.QueueStats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(qs)
			}

			all, err := collector.AllQueueStats(ctx)
			if err != nil {
				return err
			}
			health := collector.Health(ctx)
			return printJSON(map[string]any{
				"health": health,
				"queues": all,
			})
		},
	}
}

func queuesCmd(cfg config) *cobra.Command {
	queuesCmd := &cobra.Command{
		Use:   "queues",
		Short: "Manage queues",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all queues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			queues, err := s.ListQueues(ctx)
			if err != nil {
				return err
			}
			return printJSON(queues)
		},
	}

	pauseCmd := &cobra.Command{
		Use:   "pause <name>",
		Short: "Pause a queue (claims stop, enqueues continue)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.SetQueuePaused(ctx, args[0], true)
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <name>",
		Short: "Resume a paused queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.SetQueuePaused(ctx, args[0], false)
		},
	}

	queuesCmd.AddCommand(listCmd)
	queuesCmd.AddCommand(pauseCmd)
	queuesCmd.AddCommand(resumeCmd)
	return queuesCmd
}
