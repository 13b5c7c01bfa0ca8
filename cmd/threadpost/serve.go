package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/threadpost/internal/api"
	"github.com/spf13/cobra"
)

func serveCommand(a *app) *cobra.Command {
	var withQueue bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the credential refresh and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log := a.log("server")

			eng, err := newEngine(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			release, err := claimScheduler(a, eng)
			if err != nil {
				return err
			}
			defer release()

			c, err := startTokenRefresh(a, eng)
			if err != nil {
				return err
			}
			defer c.Stop()

			deps := api.Deps{
				SecretKey:    a.cfg.SecretKey,
				Location:     eng.loc,
				Orchestrator: eng.orch,
				Sync:         eng.sync,
				Runner:       eng.runner,
				Status:       eng.runner,
				Runs:         eng.ledger,
				Log:          a.log("api"),
			}
			if withQueue {
				client := asynq.NewClient(asynq.RedisClientOpt{Addr: a.cfg.RedisURI})
				defer client.Close()
				deps.Enqueuer = client
			}
			srv := api.NewApp(deps)

			if err := eng.runner.Start(ctx); err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Listen(a.cfg.ListenAddr)
			}()
			log.WithField("addr", a.cfg.ListenAddr).Info("server is running")

			select {
			case <-ctx.Done():
			case err = <-errCh:
				log.WithError(err).Error("http server stopped")
			}

			log.Info("shutting down server")
			if serr := srv.ShutdownWithTimeout(10 * time.Second); serr != nil {
				log.WithError(serr).Error("failed to shut down http server")
			}
			eng.runner.Stop()
			log.Info("server shutdown complete")
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withQueue, "queue", false, "accept delayed posts through the Redis task queue")
	return cmd
}
