package handler

import (
	"runtime"

	"github.com/gofiber/fiber/v2"

	"github.com/airsenalops/api/pkg/response"
)

// Root handles GET /
func Root(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"message": "AIrsenal Control Room API"})
}

// Health handles GET /health
func Health(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"status":     "ok",
		"go_version": runtime.Version(),
	})
}
