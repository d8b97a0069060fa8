package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sbenjam1n/surveyflow/internal/queue"
	"github.com/sbenjam1n/surveyflow/internal/worker"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue management",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queued completions in Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := requireQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		ctx := context.Background()
		length, pending, err := q.Status(ctx)
		if err != nil {
			return fmt.Errorf("queue status: %w", err)
		}

		fmt.Printf("Queue Status:\n")
		fmt.Printf("  %s: %d message(s), %d unacknowledged\n", queue.StreamCompletions, length, pending)
		return nil
	},
}

var queuePausedCmd = &cobra.Command{
	Use:   "paused <id>",
	Short: "Report whether a survey currently holds back competing flows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := requireQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		paused, err := q.IsPaused(context.Background(), args[0])
		if err != nil {
			return err
		}
		if paused {
			fmt.Printf("%s is open; competing flows are paused\n", args[0])
		} else {
			fmt.Printf("%s is not open\n", args[0])
		}
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Background workers",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Archive completions from Redis into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		consumers, _ := cmd.Flags().GetInt("consumers")
		if consumers < 1 {
			return fmt.Errorf("--consumers must be at least 1")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		q, err := requireQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		log := newLogger()
		defer log.Sync()

		host, _ := os.Hostname()
		fmt.Printf("Archiver running with %d consumer(s). Press Ctrl+C to stop.\n", consumers)

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < consumers; i++ {
			name := fmt.Sprintf("%s-%d-%d", host, os.Getpid(), i+1)
			a := worker.New(q, st, name, log)
			g.Go(func() error {
				return a.Run(gctx)
			})
		}
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queuePausedCmd)

	workerRunCmd.Flags().Int("consumers", 1, "Number of concurrent stream consumers")
	workerCmd.AddCommand(workerRunCmd)
}
