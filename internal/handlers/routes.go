package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hourse/backend/internal/middleware"
)

// Handlers groups every HTTP handler mounted under /api.
type Handlers struct {
	Files    *FilesHandler
	Settings *SettingsHandler
	Families *FamiliesHandler
	Chat     *ChatHandler
	Users    *UsersHandler
}

func RegisterRoutes(api fiber.Router, h *Handlers, auth *middleware.AuthMiddleware) {
	api.Get("/version", GetVersion)

	userRoutes := api.Group("/users", auth.RequireAuth)
	userRoutes.Get("/me", h.Users.Me)
	userRoutes.Put("/me", h.Users.UpdateMe)
	userRoutes.Get("/search", h.Users.Search)
	userRoutes.Get("/", middleware.AdminOnly, h.Users.List)
	userRoutes.Post("/", middleware.AdminOnly, h.Users.Create)
	userRoutes.Get("/:id", middleware.AdminOnly, h.Users.Get)
	userRoutes.Put("/:id", middleware.AdminOnly, h.Users.Update)
	userRoutes.Delete("/:id", middleware.AdminOnly, h.Users.Delete)

	storageRoutes := api.Group("/storage", auth.RequireAuth)
	storageRoutes.Get("/files", h.Files.List)
	storageRoutes.Get("/files/:id", h.Files.Get)
	storageRoutes.Get("/files/:id/download", h.Files.Download)
	storageRoutes.Get("/files/:id/url", h.Files.URL)
	storageRoutes.Put("/files/:id", h.Files.Update)
	storageRoutes.Patch("/files/:id", h.Files.Update)
	storageRoutes.Patch("/files/:id/favorite", h.Files.ToggleFavorite)
	storageRoutes.Patch("/files/:id/share", h.Files.ToggleShare)
	storageRoutes.Delete("/files/:id", h.Files.Delete)
	storageRoutes.Post("/upload", h.Files.Upload)
	storageRoutes.Post("/folders", h.Files.CreateFolder)
	storageRoutes.Get("/stats", h.Files.Stats)

	settingsRoutes := api.Group("/settings")
	settingsRoutes.Get("/branding", h.Settings.GetBranding)
	admin := []fiber.Handler{auth.RequireAuth, middleware.AdminOnly}
	settingsRoutes.Put("/branding", append(admin, h.Settings.UpdateBranding)...)
	settingsRoutes.Post("/branding/logo", append(admin, h.Settings.UploadLogo)...)
	settingsRoutes.Post("/branding/icon", append(admin, h.Settings.UploadIcon)...)
	settingsRoutes.Post("/branding/generate-mobile-assets", append(admin, h.Settings.GenerateMobileAssets)...)
	settingsRoutes.Get("/integrations", append(admin, h.Settings.GetIntegrations)...)
	settingsRoutes.Put("/integrations", append(admin, h.Settings.UpdateIntegrations)...)

	familyRoutes := api.Group("/families", auth.RequireAuth)
	familyRoutes.Post("/", h.Families.Create)
	familyRoutes.Get("/", h.Families.List)
	familyRoutes.Get("/:id", h.Families.Get)
	familyRoutes.Put("/:id", h.Families.Update)
	familyRoutes.Delete("/:id", h.Families.Delete)
	familyRoutes.Post("/:id/members", h.Families.AddMember)
	familyRoutes.Delete("/:id/members/:userId", h.Families.RemoveMember)
	familyRoutes.Put("/:id/members/:userId", h.Families.UpdateMemberRole)

	chatRoutes := api.Group("/chat", auth.RequireAuth)
	chatRoutes.Get("/rooms", h.Chat.ListRooms)
	chatRoutes.Post("/rooms", h.Chat.CreateRoom)
	chatRoutes.Get("/rooms/:id", h.Chat.GetRoom)
	chatRoutes.Delete("/rooms/:id", h.Chat.DeleteRoom)
	chatRoutes.Get("/rooms/:id/messages", h.Chat.ListMessages)
	chatRoutes.Get("/rooms/:id/unread", h.Chat.Unread)
	chatRoutes.Post("/rooms/:id/read", h.Chat.MarkRead)
}
