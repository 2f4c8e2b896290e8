package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/connectify/internal/domain"
)

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrExpired), errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *fiber.Ctx, err error) error {
	code := statusOf(err)
	msg := err.Error()
	if code >= fiber.StatusInternalServerError {
		h.logger.Errorw("request failed", "path", c.Path(), "method", c.Method(), "error", err)
		if code == fiber.StatusInternalServerError {
			msg = "internal error"
		}
	}
	return c.Status(code).JSON(fiber.Map{"success": false, "error": msg})
}

func ok(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{"success": true, "data": data})
}
