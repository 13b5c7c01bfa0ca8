package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/queue"
	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/sirupsen/logrus"
)

type PostHandler struct {
	orch     service.OrchestratorService
	runner   queue.Runner
	enqueuer queue.Enqueuer
	log      *logrus.Entry
}

// NewPostHandler wires manual posting. enqueuer may be nil, in which case
// delayed requests are rejected.
func NewPostHandler(orch service.OrchestratorService, runner queue.Runner, enqueuer queue.Enqueuer, log *logrus.Entry) *PostHandler {
	return &PostHandler{orch: orch, runner: runner, enqueuer: enqueuer, log: log}
}

// PostAll runs one pass over every active account.
func (h *PostHandler) PostAll(c *fiber.Ctx) error {
	opts := service.RunOptions{Test: c.QueryBool("test", false)}

	var summary service.Summary
	err := h.runner.RunManual(c.UserContext(), func(ctx context.Context) error {
		var err error
		summary, err = h.orch.RunAll(ctx, opts)
		return err
	})
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(fiber.Map{
		"summary":      summary,
		"success_rate": summary.SuccessRate(),
	})
}

// PostAccount runs one account now, or enqueues it when ?delay= is given.
func (h *PostHandler) PostAccount(c *fiber.Ctx) error {
	accountID := c.Params("account")
	opts := service.RunOptions{Test: c.QueryBool("test", false)}

	if raw := c.Query("delay"); raw != "" {
		return h.enqueue(c, accountID, opts, raw)
	}

	var status int
	var body fiber.Map
	err := h.runner.RunManual(c.UserContext(), func(ctx context.Context) error {
		rec, err := h.orch.RunAccount(ctx, accountID, opts)
		if err != nil && rec.ID == "" {
			return err
		}
		// the attempt was recorded; report it even when it failed
		status, body = fiber.StatusOK, fiber.Map{"record": rec}
		if err != nil {
			status = errorStatus(err)
			if status == fiber.StatusInternalServerError {
				status = fiber.StatusBadGateway
			}
			body["error"] = err.Error()
			body["kind"] = apperr.KindOf(err)
		}
		return nil
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(status).JSON(body)
}

func (h *PostHandler) enqueue(c *fiber.Ctx, accountID string, opts service.RunOptions, raw string) error {
	if h.enqueuer == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "queue is not configured",
		})
	}
	delay, err := time.ParseDuration(raw)
	if err != nil || delay < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "delay must be a non-negative duration such as 30m",
		})
	}

	info, err := queue.EnqueueOrchestrate(h.enqueuer, queue.OrchestratePayload{
		AccountID: accountID,
		Test:      opts.Test,
	}, delay)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"task_id":    info.ID,
		"account_id": accountID,
		"process_in": delay.String(),
	})
}
