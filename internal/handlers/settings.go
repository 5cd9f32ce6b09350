package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/hourse/backend/internal/middleware"
	"github.com/hourse/backend/internal/services"
	"github.com/hourse/backend/pkg/logger"
	"github.com/hourse/backend/pkg/utils"
)

const maxBrandingUpload = 10 << 20

type SettingsHandler struct {
	Branding     *services.BrandingService
	Integrations *services.IntegrationsService
}

func NewSettingsHandler(branding *services.BrandingService, integrations *services.IntegrationsService) *SettingsHandler {
	return &SettingsHandler{Branding: branding, Integrations: integrations}
}

// GetBranding is public so the apps can theme their login screens.
func (h *SettingsHandler) GetBranding(c *fiber.Ctx) error {
	return utils.Success(c, fiber.StatusOK, fiber.Map{"branding": h.Branding.Get(c.UserContext())})
}

func (h *SettingsHandler) UpdateBranding(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var patch map[string]interface{}
	if err := c.BodyParser(&patch); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	branding, err := h.Branding.Update(c.UserContext(), patch)
	if err != nil {
		return respondError(c, err, "failed saving branding")
	}

	logger.InfoWithUser(currentUser.ID.String(), "branding_updated", map[string]interface{}{
		"fields": len(patch),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"branding": branding})
}

func (h *SettingsHandler) UploadLogo(c *fiber.Ctx) error {
	return h.uploadAsset(c, services.BrandingAssetLogo)
}

func (h *SettingsHandler) UploadIcon(c *fiber.Ctx) error {
	return h.uploadAsset(c, services.BrandingAssetIcon)
}

func (h *SettingsHandler) uploadAsset(c *fiber.Ctx, kind string) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}
	if fileHeader.Size > maxBrandingUpload {
		return utils.Error(c, fiber.StatusBadRequest, "file is too large")
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	defer stream.Close()

	data, err := io.ReadAll(io.LimitReader(stream, maxBrandingUpload))
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed reading uploaded file")
	}

	branding, err := h.Branding.UploadAsset(c.UserContext(), kind, fileHeader.Filename, fileHeader.Header.Get(fiber.HeaderContentType), data)
	if err != nil {
		return respondError(c, err, "failed uploading "+kind)
	}

	logger.InfoWithUser(currentUser.ID.String(), "branding_asset_uploaded", map[string]interface{}{
		"kind": kind,
		"size": len(data),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"branding": branding})
}

func (h *SettingsHandler) GenerateMobileAssets(c *fiber.Ctx) error {
	branding, err := h.Branding.GenerateMobileAssets(c.UserContext())
	if err != nil {
		return respondError(c, err, "failed generating mobile assets")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"branding":     branding,
		"mobileAssets": branding["mobileAssets"],
	})
}

func (h *SettingsHandler) GetIntegrations(c *fiber.Ctx) error {
	integrations, err := h.Integrations.Get(c.UserContext())
	if err != nil {
		return respondError(c, err, "failed loading integrations")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"integrations": integrations})
}

func (h *SettingsHandler) UpdateIntegrations(c *fiber.Ctx) error {
	var patch map[string]interface{}
	if err := c.BodyParser(&patch); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	integrations, err := h.Integrations.Update(c.UserContext(), patch)
	if err != nil {
		return respondError(c, err, "failed saving integrations")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"integrations": integrations})
}
