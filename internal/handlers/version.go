package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hourse/backend/pkg/utils"
)

// Version is injected at build time:
//
//	go build -ldflags "-X github.com/hourse/backend/internal/handlers.Version=1.2.3"
var Version = "dev"

const APIVersion = "v1"

func GetVersion(c *fiber.Ctx) error {
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"version":    Version,
		"apiVersion": APIVersion,
	})
}
