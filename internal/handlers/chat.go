package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hourse/backend/internal/middleware"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/internal/services"
	"github.com/hourse/backend/pkg/utils"
)

type ChatHandler struct {
	Chat *services.ChatService
}

func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{Chat: chat}
}

func (h *ChatHandler) ListRooms(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	rooms, err := h.Chat.ListRooms(c.UserContext(), currentUser.ID)
	if err != nil {
		return respondError(c, err, "failed listing rooms")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"rooms": rooms})
}

type createRoomRequest struct {
	FamilyID    string              `json:"familyId" validate:"required,uuid"`
	Name        string              `json:"name" validate:"required,max=150"`
	Description *string             `json:"description"`
	Type        models.ChatRoomType `json:"type" validate:"omitempty,oneof=group direct"`
}

func (h *ChatHandler) CreateRoom(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createRoomRequest
	if err := parseBody(c, &req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	room, err := h.Chat.CreateRoom(c.UserContext(), currentUser.ID, services.CreateRoomInput{
		FamilyID:    uuid.MustParse(req.FamilyID),
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
	})
	if err != nil {
		return respondError(c, err, "failed creating room")
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"room": room})
}

// room resolves :id and checks the caller participates in it.
func (h *ChatHandler) room(c *fiber.Ctx, userID uuid.UUID) (*models.ChatRoom, error) {
	roomID, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, services.ErrInvalidInput
	}
	return h.Chat.RequireParticipant(c.UserContext(), roomID, userID)
}

func (h *ChatHandler) GetRoom(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	room, err := h.room(c, currentUser.ID)
	if err != nil {
		return respondError(c, err, "failed loading room")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"room": room})
}

func (h *ChatHandler) DeleteRoom(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	roomID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid room id")
	}

	if err := h.Chat.DeleteRoom(c.UserContext(), currentUser.ID, roomID); err != nil {
		return respondError(c, err, "failed deleting room")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "room deleted"})
}

func (h *ChatHandler) ListMessages(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	room, err := h.room(c, currentUser.ID)
	if err != nil {
		return respondError(c, err, "failed loading room")
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "before must be an RFC3339 timestamp")
		}
		before = &parsed
	}

	messages, err := h.Chat.ListMessages(c.UserContext(), room.ID, before, c.QueryInt("limit", services.DefaultMessagePage))
	if err != nil {
		return respondError(c, err, "failed listing messages")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"messages": messages})
}

func (h *ChatHandler) Unread(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	roomID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid room id")
	}

	count, err := h.Chat.UnreadCount(c.UserContext(), roomID, currentUser.ID)
	if err != nil {
		return respondError(c, err, "failed counting unread messages")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"roomId": roomID, "unread": count})
}

func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	roomID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid room id")
	}

	at, err := h.Chat.MarkRead(c.UserContext(), roomID, currentUser.ID, time.Time{})
	if err != nil {
		return respondError(c, err, "failed marking messages read")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"roomId": roomID, "lastReadAt": at})
}
