package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lawsim/worker"
)

var jobPayload string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run or enqueue background jobs",
	Long: `Operate the background job queue.

Available subcommands:
  run     - Execute one job synchronously in this process
  enqueue - Push a job onto the shared Redis queue
  list    - List registered job types and the shared queue backlog`,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <type>",
	Short: "Execute one job synchronously",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRun,
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <type>",
	Short: "Push a job onto the queue for the running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsEnqueue,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered job types",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.wire(cmd.Context()); err != nil {
			return err
		}
		return writeJobList(cmd.Context(), cmd.OutOrStdout(), a.runner.Types(), a.queue)
	},
}

// writeJobList prints one registered type per line. A Redis queue is shared
// with the running server, so its backlog is printed too.
func writeJobList(ctx context.Context, w io.Writer, types []string, queue worker.Queue) error {
	for _, t := range types {
		fmt.Fprintln(w, t)
	}
	rq, ok := queue.(*worker.RedisQueue)
	if !ok {
		return nil
	}
	pending, err := rq.Pending(ctx)
	if err != nil {
		return fmt.Errorf("count pending jobs: %w", err)
	}
	fmt.Fprintf(w, "pending: %d\n", pending)
	return nil
}

func init() {
	for _, c := range []*cobra.Command{jobsRunCmd, jobsEnqueueCmd} {
		c.Flags().StringVar(&jobPayload, "payload", "", "job payload as JSON")
	}
	jobsCmd.AddCommand(jobsRunCmd, jobsEnqueueCmd, jobsListCmd)
}

func parsePayload() (json.RawMessage, error) {
	if jobPayload == "" {
		return nil, nil
	}
	if !json.Valid([]byte(jobPayload)) {
		return nil, fmt.Errorf("--payload is not valid JSON")
	}
	return json.RawMessage(jobPayload), nil
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload()
	if err != nil {
		return err
	}
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.wire(cmd.Context()); err != nil {
		return err
	}

	job, err := worker.NewJob(args[0], payload, 1)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := a.runner.RunOnce(cmd.Context(), job); err != nil {
		return fmt.Errorf("job %s failed: %w", job.Type, err)
	}
	logrus.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"type":     job.Type,
		"duration": time.Since(start).String(),
	}).Info("job finished")
	return nil
}

func runJobsEnqueue(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload()
	if err != nil {
		return err
	}
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()
	if a.redis == nil {
		return fmt.Errorf("enqueue needs REDIS_ENABLED=true; use 'jobs run' without Redis")
	}
	if err := a.wire(cmd.Context()); err != nil {
		return err
	}

	job, err := a.runner.Enqueue(cmd.Context(), args[0], payload)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), job.ID)
	return nil
}
