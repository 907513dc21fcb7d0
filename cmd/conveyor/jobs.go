package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

func jobsCmd(cfg config) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage jobs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs by state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, _ := cmd.Flags().GetString("state")
			queueName, _ := cmd.Flags().GetString("queue")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			jobs, err := s.ListJobsByState(ctx, job.State(state), job.ListOpts{
				Queue: queueName,
				Limit: limit,
			})
			if err != nil {
				return err
			}
			return printJSON(jobs)
		},
	}
	listCmd.Flags().String("state", string(job.StateWaiting), "job state to list (waiting, delayed, active, completed, failed, dead, cancelled)")
	listCmd.Flags().String("queue", "", "filter by queue")
	listCmd.Flags().Int("limit", 50, "maximum number of jobs to return")

	cancelCmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a waiting or delayed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.CancelJob(ctx, jobID); err != nil {
				return err
			}
			fmt.Println("cancelled", jobID)
			return nil
		},
	}

	cleanCmd := &cobra.Command{
		Use:   "clean <queue>",
		Short: "Remove old terminal jobs from a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, _ := cmd.Flags().GetString("state")
			olderThan, _ := cmd.Flags().GetDuration("older-than")

			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.CleanJobs(ctx, args[0], job.State(state), time.Now().UTC().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("removed %d jobs\n", n)
			return nil
		},
	}
	cleanCmd.Flags().String("state", string(job.StateCompleted), "state to clean (completed, dead, cancelled)")
	cleanCmd.Flags().Duration("older-than", 24*time.Hour, "only remove jobs last updated before this age")

	jobsCmd.AddCommand(listCmd)
	jobsCmd.AddCommand(cancelCmd)
	jobsCmd.AddCommand(cleanCmd)
	return jobsCmd
}
