package utils

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Success writes {"success": true, ...payload}.
func Success(c *fiber.Ctx, status int, payload fiber.Map) error {
	body := fiber.Map{"success": true}
	for key, value := range payload {
		if key == "success" {
			continue
		}
		body[key] = value
	}
	return c.Status(status).JSON(body)
}

// Error writes {"success": false, "error": <status text>, "message": message}.
func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   http.StatusText(status),
		"message": message,
	})
}

func Paginated(c *fiber.Ctx, key string, data interface{}, page, limit int, total int64) error {
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		key:       data,
		"pagination": fiber.Map{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": totalPages,
		},
	})
}
