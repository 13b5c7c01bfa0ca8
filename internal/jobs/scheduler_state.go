package job

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/maheshrc27/threadpost/pkg/utils"
)

// SchedulerState is written by a running scheduler process so that other
// invocations can report on it or stop it.
type SchedulerState struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	HourSlots []int     `json:"hour_slots"`
}

var ErrSchedulerNotRunning = errors.New("scheduler is not running")

func WriteSchedulerState(path string, st SchedulerState) error {
	return utils.WriteJSONAtomic(path, st)
}

func RemoveSchedulerState(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ReadSchedulerState returns the recorded state when the recorded process is
// still alive. A stale file is removed.
func ReadSchedulerState(path string) (SchedulerState, error) {
	var st SchedulerState
	found, err := utils.ReadJSON(path, &st)
	if err != nil {
		return st, err
	}
	if !found || st.PID <= 0 {
		return st, ErrSchedulerNotRunning
	}
	if !processAlive(st.PID) {
		_ = RemoveSchedulerState(path)
		return st, ErrSchedulerNotRunning
	}
	return st, nil
}

// StopScheduler asks the recorded scheduler process to shut down.
func StopScheduler(path string) (SchedulerState, error) {
	st, err := ReadSchedulerState(path)
	if err != nil {
		return st, err
	}
	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return st, err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return st, fmt.Errorf("signal scheduler %d: %w", st.PID, err)
	}
	return st, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
