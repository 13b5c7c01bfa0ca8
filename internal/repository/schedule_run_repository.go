package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/pkg/utils"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ScheduleRunRepository is the (date, hour) ledger. Begin is the only way
// to create a run and it is an atomic check-and-insert.
type ScheduleRunRepository interface {
	Load() error
	Begin(date string, hour int, at time.Time) (models.ScheduleRun, error)
	Finish(run models.ScheduleRun) error
	MarkSkipped(date string, hour int, at time.Time) (bool, error)
	Get(date string, hour int) (models.ScheduleRun, error)
	ForDate(date string) []models.ScheduleRun
}

// scheduleRunRepository guards the ledger file with a lock file so that a
// scheduler process and a manual invocation never both begin one slot.
type scheduleRunRepository struct {
	mu   sync.Mutex
	path string
	runs map[string]models.ScheduleRun
}

func NewScheduleRunRepository(path string) ScheduleRunRepository {
	return &scheduleRunRepository{path: path, runs: map[string]models.ScheduleRun{}}
}

func (r *scheduleRunRepository) lockPath() string {
	return r.path + ".lock"
}

func (r *scheduleRunRepository) read() (map[string]models.ScheduleRun, error) {
	runs := map[string]models.ScheduleRun{}
	if _, err := utils.ReadJSON(r.path, &runs); err != nil {
		return nil, fmt.Errorf("load schedule ledger: %w", err)
	}
	return runs, nil
}

func (r *scheduleRunRepository) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked()
}

func (r *scheduleRunRepository) reloadLocked() error {
	return utils.WithSharedFileLock(r.lockPath(), func() error {
		runs, err := r.read()
		if err != nil {
			return err
		}
		r.runs = runs
		return nil
	})
}

// update re-reads the ledger under the lock file, lets fn change it and
// writes it back when fn reports a change. Memory follows disk only after
// a successful write.
func (r *scheduleRunRepository) update(fn func(runs map[string]models.ScheduleRun) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return utils.WithFileLock(r.lockPath(), func() error {
		runs, err := r.read()
		if err != nil {
			return err
		}
		changed, err := fn(runs)
		if err != nil {
			return err
		}
		if changed {
			if err := utils.WriteJSONAtomic(r.path, runs); err != nil {
				return err
			}
		}
		r.runs = runs
		return nil
	})
}

func (r *scheduleRunRepository) Begin(date string, hour int, at time.Time) (models.ScheduleRun, error) {
	var run models.ScheduleRun
	err := r.update(func(runs map[string]models.ScheduleRun) (bool, error) {
		key := models.RunKey(date, hour)
		if _, ok := runs[key]; ok {
			return false, fmt.Errorf("%s: %w", key, apperr.ErrAlreadyRan)
		}

		id, err := gonanoid.New()
		if err != nil {
			return false, err
		}
		run = models.ScheduleRun{
			ID:        id,
			Date:      date,
			HourSlot:  hour,
			StartedAt: at,
			Outcome:   models.RunOutcomeRunning,
		}
		runs[key] = run
		return true, nil
	})
	if err != nil {
		return models.ScheduleRun{}, err
	}
	return run, nil
}

func (r *scheduleRunRepository) Finish(run models.ScheduleRun) error {
	return r.update(func(runs map[string]models.ScheduleRun) (bool, error) {
		key := run.Key()
		existing, ok := runs[key]
		if !ok || existing.ID != run.ID {
			return false, fmt.Errorf("schedule run %s: %w", key, apperr.ErrNotFound)
		}
		runs[key] = run
		return true, nil
	})
}

// MarkSkipped records a missed slot so it is never back-filled. It reports
// whether a record was written.
func (r *scheduleRunRepository) MarkSkipped(date string, hour int, at time.Time) (bool, error) {
	written := false
	err := r.update(func(runs map[string]models.ScheduleRun) (bool, error) {
		key := models.RunKey(date, hour)
		if _, ok := runs[key]; ok {
			return false, nil
		}
		id, err := gonanoid.New()
		if err != nil {
			return false, err
		}
		runs[key] = models.ScheduleRun{
			ID:         id,
			Date:       date,
			HourSlot:   hour,
			StartedAt:  at,
			FinishedAt: at,
			Outcome:    models.RunOutcomeSkipped,
		}
		written = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

// snapshot returns the ledger as it is on disk, or the last known copy
// when the file cannot be read.
func (r *scheduleRunRepository) snapshot() map[string]models.ScheduleRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.reloadLocked()
	return r.runs
}

func (r *scheduleRunRepository) Get(date string, hour int) (models.ScheduleRun, error) {
	run, ok := r.snapshot()[models.RunKey(date, hour)]
	if !ok {
		return models.ScheduleRun{}, apperr.ErrNotFound
	}
	return run, nil
}

func (r *scheduleRunRepository) ForDate(date string) []models.ScheduleRun {
	var out []models.ScheduleRun
	for _, run := range r.snapshot() {
		if date == "" || run.Date == date {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
