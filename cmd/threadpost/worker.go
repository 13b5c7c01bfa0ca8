package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/threadpost/internal/queue"
	"github.com/spf13/cobra"
)

func workerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued account runs from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}

			q := queue.NewQueue(eng.orch, eng.runner, a.log("queue"))
			server := asynq.NewServer(asynq.RedisClientOpt{Addr: a.cfg.RedisURI}, asynq.Config{
				// account runs are serialised by the run lock
				Concurrency: 1,
				Logger:      a.log("asynq"),
			})

			a.log("queue").WithField("redis", a.cfg.RedisURI).Info("starting the asynq server")
			if err := server.Start(q.NewServeMux()); err != nil {
				return err
			}
			<-ctx.Done()
			server.Shutdown()
			return nil
		},
	}
}
