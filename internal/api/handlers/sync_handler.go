package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/threadpost/internal/queue"
	"github.com/maheshrc27/threadpost/internal/repository"
	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/sirupsen/logrus"
)

type SyncHandler struct {
	s      service.SyncService
	runner queue.Runner
	log    *logrus.Entry
}

func NewSyncHandler(s service.SyncService, runner queue.Runner, log *logrus.Entry) *SyncHandler {
	return &SyncHandler{s: s, runner: runner, log: log}
}

// Sync reloads the content source. It holds the run lock so a refresh never
// lands in the middle of a pass.
func (h *SyncHandler) Sync(c *fiber.Ctx) error {
	opts := service.SyncOptions{
		AccountID: c.Query("account"),
		Force:     c.QueryBool("force", false),
	}

	var report repository.RefreshReport
	err := h.runner.RunManual(c.UserContext(), func(ctx context.Context) error {
		var err error
		report, err = h.s.Sync(ctx, opts)
		return err
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(report)
}
