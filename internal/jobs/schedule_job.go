package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/internal/repository"
	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/maheshrc27/threadpost/pkg/clock"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

var ErrRunnerStarted = errors.New("schedule runner already started")

type ScheduleOptions struct {
	HourSlots    []int
	Location     *time.Location
	TickInterval time.Duration
}

type Status struct {
	Running   bool                 `json:"running"`
	HourSlots []int                `json:"hour_slots"`
	Now       time.Time            `json:"now"`
	NextSlot  *time.Time           `json:"next_slot,omitempty"`
	Today     []models.ScheduleRun `json:"today"`
}

// ScheduleRunner fires one orchestration pass per configured hour slot per
// day. Scheduled and manual passes share one run mutex; the ledger makes a
// (date, hour) run happen at most once even across restarts.
type ScheduleRunner struct {
	ledger repository.ScheduleRunRepository
	orch   service.OrchestratorService
	clock  clock.Clock
	opts   ScheduleOptions
	log    *logrus.Entry

	runMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduleRunner(ledger repository.ScheduleRunRepository, orch service.OrchestratorService, c clock.Clock, opts ScheduleOptions, log *logrus.Entry) *ScheduleRunner {
	opts.HourSlots = normaliseSlots(opts.HourSlots)
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	return &ScheduleRunner{
		ledger: ledger,
		orch:   orch,
		clock:  c,
		opts:   opts,
		log:    log,
	}
}

func normaliseSlots(slots []int) []int {
	seen := map[int]bool{}
	var out []int
	for _, h := range slots {
		if h >= 0 && h <= 23 && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	sort.Ints(out)
	return out
}

// Start marks missed slots of today as skipped and launches the loop.
func (r *ScheduleRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return ErrRunnerStarted
	}
	if err := r.skipMissed(r.now()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)

	r.log.WithFields(logrus.Fields{
		"hour_slots": r.opts.HourSlots,
		"tick":       r.opts.TickInterval.String(),
	}).Info("schedule runner started")
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to return.
func (r *ScheduleRunner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.log.Info("schedule runner stopped")
}

// Done is closed when the loop exits. It is nil before Start.
func (r *ScheduleRunner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *ScheduleRunner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		r.tick(ctx)
		if err := clock.Sleep(ctx, r.clock, r.opts.TickInterval); err != nil {
			return
		}
	}
}

func (r *ScheduleRunner) tick(ctx context.Context) {
	now := r.now()
	if !r.isSlot(now.Hour()) {
		return
	}

	_, err := r.RunOnce(ctx, now.Format(dateLayout), now.Hour())
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrAlreadyRan):
	case ctx.Err() != nil:
	default:
		r.log.WithError(err).Error("scheduled run failed")
	}
}

func (r *ScheduleRunner) isSlot(hour int) bool {
	for _, h := range r.opts.HourSlots {
		if h == hour {
			return true
		}
	}
	return false
}

// skipMissed writes skipped runs for today's slots up to the current hour.
// Missed slots are never back-filled.
func (r *ScheduleRunner) skipMissed(now time.Time) error {
	date := now.Format(dateLayout)
	for _, h := range r.opts.HourSlots {
		if h > now.Hour() {
			break
		}
		written, err := r.ledger.MarkSkipped(date, h, now)
		if err != nil {
			return fmt.Errorf("mark slot %02d skipped: %w", h, err)
		}
		if written {
			r.log.WithFields(logrus.Fields{"date": date, "hour": h}).Info("missed slot skipped")
		}
	}
	return nil
}

// RunOnce executes the pass for (date, hour) unless the ledger already has
// it, in which case apperr.ErrAlreadyRan is returned.
func (r *ScheduleRunner) RunOnce(ctx context.Context, date string, hour int) (models.ScheduleRun, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	run, err := r.ledger.Begin(date, hour, r.clock.Now())
	if err != nil {
		return models.ScheduleRun{}, err
	}
	log := r.log.WithFields(logrus.Fields{"date": date, "hour": hour, "run_id": run.ID})
	log.Info("scheduled run started")

	summary, err := r.orch.RunAll(ctx, service.RunOptions{})
	if err != nil {
		log.WithError(err).Warn("scheduled run interrupted")
	}

	run.FinishedAt = r.clock.Now()
	run.Outcome = models.RunOutcomeCompleted
	run.Results = summary.AccountResults()
	run.SuccessRate = summary.SuccessRate()
	if ferr := r.ledger.Finish(run); ferr != nil {
		return run, ferr
	}

	log.WithFields(logrus.Fields{
		"total":        summary.Total,
		"succeeded":    summary.Succeeded,
		"partial":      summary.Partial,
		"failed":       summary.Failed,
		"success_rate": run.SuccessRate,
	}).Info("scheduled run finished")
	return run, err
}

// RunManual runs fn under the same lock as scheduled passes.
func (r *ScheduleRunner) RunManual(ctx context.Context, fn func(ctx context.Context) error) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return fn(ctx)
}

func (r *ScheduleRunner) Status() Status {
	r.mu.Lock()
	running := r.cancel != nil
	r.mu.Unlock()

	now := r.now()
	st := Status{
		Running:   running,
		HourSlots: r.opts.HourSlots,
		Now:       now,
		Today:     r.ledger.ForDate(now.Format(dateLayout)),
	}
	if next, ok := NextSlot(now, r.opts.HourSlots); ok {
		st.NextSlot = &next
	}
	return st
}

func (r *ScheduleRunner) now() time.Time {
	return r.clock.Now().In(r.opts.Location)
}

// NextSlot returns the start of the next configured hour after now.
func NextSlot(now time.Time, slots []int) (time.Time, bool) {
	if len(slots) == 0 {
		return time.Time{}, false
	}
	for _, h := range slots {
		if h > now.Hour() {
			return time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, now.Location()), true
		}
	}
	return time.Date(now.Year(), now.Month(), now.Day()+1, slots[0], 0, 0, 0, now.Location()), true
}
