package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	job "github.com/maheshrc27/threadpost/internal/jobs"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/internal/repository"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"
)

func schedulerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run or inspect the hourly posting scheduler",
	}
	cmd.AddCommand(schedulerStartCommand(a))
	cmd.AddCommand(schedulerStatusCommand(a))
	cmd.AddCommand(schedulerStopCommand(a))
	return cmd
}

func schedulerStartCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the scheduler in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

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

			if err := eng.runner.Start(ctx); err != nil {
				return err
			}
			a.log("scheduler").WithField("hour_slots", a.cfg.Schedule.HourSlots).Info("scheduler started")

			<-ctx.Done()
			eng.runner.Stop()
			a.log("scheduler").Info("scheduler stopped")
			return nil
		},
	}
}

// claimScheduler records this process as the running scheduler. It fails
// when another live scheduler already holds the state file.
func claimScheduler(a *app, eng *engine) (func(), error) {
	path := a.cfg.SchedulerStateFile()
	if st, err := job.ReadSchedulerState(path); err == nil {
		return nil, fmt.Errorf("scheduler already running with pid %d", st.PID)
	} else if !errors.Is(err, job.ErrSchedulerNotRunning) {
		return nil, err
	}

	err := job.WriteSchedulerState(path, job.SchedulerState{
		PID:       os.Getpid(),
		StartedAt: time.Now().In(eng.loc),
		HourSlots: a.cfg.Schedule.HourSlots,
	})
	if err != nil {
		return nil, fmt.Errorf("write scheduler state: %w", err)
	}
	return func() {
		if err := job.RemoveSchedulerState(path); err != nil {
			a.log("scheduler").WithError(err).Warn("failed to remove scheduler state")
		}
	}, nil
}

// startTokenRefresh schedules credential refresh when enabled. The returned
// cron is always safe to Stop.
func startTokenRefresh(a *app, eng *engine) (*cron.Cron, error) {
	c := cron.New()
	if a.cfg.Schedule.RefreshTokens {
		refresh := job.NewTokenRefreshJob(eng.accounts, eng.threads, a.log("token_refresh"))
		if err := refresh.Schedule(c, a.cfg.Schedule.RefreshEvery); err != nil {
			return nil, err
		}
	}
	c.Start()
	return c, nil
}

type schedulerStatus struct {
	Running   bool                 `json:"running"`
	PID       int                  `json:"pid,omitempty"`
	StartedAt *time.Time           `json:"started_at,omitempty"`
	HourSlots []int                `json:"hour_slots"`
	NextSlot  *time.Time           `json:"next_slot,omitempty"`
	Today     []models.ScheduleRun `json:"today"`
}

func schedulerStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a scheduler is running and today's runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := a.cfg.Location()
			if err != nil {
				return err
			}
			ledger := repository.NewScheduleRunRepository(a.cfg.Path(scheduleRunsFile))
			if err := ledger.Load(); err != nil {
				return err
			}

			now := time.Now().In(loc)
			out := schedulerStatus{
				HourSlots: a.cfg.Schedule.HourSlots,
				Today:     ledger.ForDate(now.Format("2006-01-02")),
			}
			st, err := job.ReadSchedulerState(a.cfg.SchedulerStateFile())
			switch {
			case err == nil:
				out.Running = true
				out.PID = st.PID
				out.StartedAt = &st.StartedAt
				out.HourSlots = st.HourSlots
			case !errors.Is(err, job.ErrSchedulerNotRunning):
				return err
			}
			if next, ok := job.NextSlot(now, out.HourSlots); ok {
				out.NextSlot = &next
			}
			if out.Today == nil {
				out.Today = []models.ScheduleRun{}
			}
			return printJSON(a.out, out)
		},
	}
}

func schedulerStopCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal the running scheduler to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := job.StopScheduler(a.cfg.SchedulerStateFile())
			if err != nil {
				return err
			}
			return waitForExit(cmd.Context(), a, st.PID, 30*time.Second)
		},
	}
}

func waitForExit(ctx context.Context, a *app, pid int, limit time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := job.ReadSchedulerState(a.cfg.SchedulerStateFile()); errors.Is(err, job.ErrSchedulerNotRunning) {
			fmt.Fprintf(a.out, "scheduler %d stopped\n", pid)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("scheduler %d still running after %s", pid, limit)
		case <-ticker.C:
		}
	}
}
