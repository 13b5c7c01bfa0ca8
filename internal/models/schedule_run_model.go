package models

import (
	"fmt"
	"time"
)

const (
	RunOutcomeRunning   = "running"
	RunOutcomeCompleted = "completed"
	RunOutcomeSkipped   = "skipped"
)

type AccountResult struct {
	AccountID   string `json:"account_id"`
	RecordID    string `json:"record_id,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
	MainPostID  string `json:"main_post_id,omitempty"`
	ReplyPostID string `json:"reply_post_id,omitempty"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`
}

// ScheduleRun is keyed by (Date, HourSlot); at most one exists per key.
type ScheduleRun struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	HourSlot    int             `json:"hour_slot"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
	Outcome     string          `json:"outcome"`
	Results     []AccountResult `json:"per_account_results,omitempty"`
	SuccessRate float64         `json:"success_rate"`
}

func (r ScheduleRun) Key() string { return RunKey(r.Date, r.HourSlot) }

func RunKey(date string, hour int) string {
	return fmt.Sprintf("%s#%02d", date, hour)
}
