package repository

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerBeginOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule_runs.json")
	ledger := NewScheduleRunRepository(path)

	run, err := ledger.Begin("2026-10-16", 8, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, models.RunOutcomeRunning, run.Outcome)

	_, err = ledger.Begin("2026-10-16", 8, fixedNow)
	assert.ErrorIs(t, err, apperr.ErrAlreadyRan)

	run.Outcome = models.RunOutcomeCompleted
	run.SuccessRate = 1
	require.NoError(t, ledger.Finish(run))

	reloaded := NewScheduleRunRepository(path)
	require.NoError(t, reloaded.Load())
	got, err := reloaded.Get("2026-10-16", 8)
	require.NoError(t, err)
	assert.Equal(t, models.RunOutcomeCompleted, got.Outcome)

	_, err = reloaded.Begin("2026-10-16", 8, fixedNow)
	assert.ErrorIs(t, err, apperr.ErrAlreadyRan, "ledger survives restart")
}

func TestLedgerConcurrentBegin(t *testing.T) {
	ledger := NewScheduleRunRepository(filepath.Join(t.TempDir(), "runs.json"))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Begin("2026-10-16", 12, fixedNow); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Len(t, ledger.ForDate("2026-10-16"), 1)
}

func TestLedgerMarkSkipped(t *testing.T) {
	ledger := NewScheduleRunRepository(filepath.Join(t.TempDir(), "runs.json"))

	written, err := ledger.MarkSkipped("2026-10-16", 8, fixedNow)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = ledger.MarkSkipped("2026-10-16", 8, fixedNow)
	require.NoError(t, err)
	assert.False(t, written)

	_, err = ledger.Begin("2026-10-16", 8, fixedNow)
	assert.ErrorIs(t, err, apperr.ErrAlreadyRan)

	_, err = ledger.Begin("2026-10-16", 12, fixedNow)
	require.NoError(t, err)

	runs := ledger.ForDate("2026-10-16")
	require.Len(t, runs, 2)
	assert.Equal(t, 8, runs[0].HourSlot)
	assert.Equal(t, models.RunOutcomeSkipped, runs[0].Outcome)
	assert.Empty(t, ledger.ForDate("2026-10-17"))
}

func TestLedgerFinishUnknown(t *testing.T) {
	ledger := NewScheduleRunRepository(filepath.Join(t.TempDir(), "runs.json"))
	err := ledger.Finish(models.ScheduleRun{ID: "x", Date: "2026-10-16", HourSlot: 9})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLedgerTwoInstancesOverOneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule_runs.json")
	scheduler := NewScheduleRunRepository(path)
	require.NoError(t, scheduler.Load())
	manual := NewScheduleRunRepository(path)
	require.NoError(t, manual.Load())

	run, err := scheduler.Begin("2026-10-16", 12, fixedNow)
	require.NoError(t, err)

	_, err = manual.Begin("2026-10-16", 12, fixedNow)
	assert.ErrorIs(t, err, apperr.ErrAlreadyRan)

	written, err := manual.MarkSkipped("2026-10-16", 18, fixedNow)
	require.NoError(t, err)
	assert.True(t, written)

	run.Outcome = models.RunOutcomeCompleted
	require.NoError(t, scheduler.Finish(run))

	today := manual.ForDate("2026-10-16")
	require.Len(t, today, 2)
	assert.Equal(t, models.RunOutcomeCompleted, today[0].Outcome)
	assert.Equal(t, models.RunOutcomeSkipped, today[1].Outcome)
}
