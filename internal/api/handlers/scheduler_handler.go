package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	job "github.com/maheshrc27/threadpost/internal/jobs"
	"github.com/maheshrc27/threadpost/internal/models"
)

// StatusSource reports the scheduler's live state.
type StatusSource interface {
	Status() job.Status
}

// RunLister lists ledger entries for one day.
type RunLister interface {
	ForDate(date string) []models.ScheduleRun
}

type SchedulerHandler struct {
	status StatusSource
	runs   RunLister
	loc    *time.Location
}

func NewSchedulerHandler(status StatusSource, runs RunLister, loc *time.Location) *SchedulerHandler {
	if loc == nil {
		loc = time.Local
	}
	return &SchedulerHandler{status: status, runs: runs, loc: loc}
}

func (h *SchedulerHandler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(h.status.Status())
}

// ListRuns returns the ledger for ?date=YYYY-MM-DD, defaulting to today.
func (h *SchedulerHandler) ListRuns(c *fiber.Ctx) error {
	date := c.Query("date")
	if date == "" {
		date = time.Now().In(h.loc).Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "date must be YYYY-MM-DD",
		})
	}

	runs := h.runs.ForDate(date)
	if runs == nil {
		runs = []models.ScheduleRun{}
	}
	return c.JSON(fiber.Map{
		"date": date,
		"runs": runs,
	})
}
