package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/sirupsen/logrus"
)

// errorStatus maps a failure kind onto an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound), apperr.Is(err, apperr.KindNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperr.ErrAlreadyRan):
		return fiber.StatusConflict
	case apperr.Is(err, apperr.KindDataFormat), apperr.Is(err, apperr.KindValidation):
		return fiber.StatusUnprocessableEntity
	case apperr.Is(err, apperr.KindAuth):
		return fiber.StatusFailedDependency
	case apperr.Is(err, apperr.KindRateLimit):
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, log *logrus.Entry, err error) error {
	status := errorStatus(err)
	entry := log.WithError(err).WithField("path", c.Path())
	if status >= fiber.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  apperr.KindOf(err),
	})
}

func GetOperator(c *fiber.Ctx) string {
	op, _ := c.Locals("operator").(string)
	return op
}
