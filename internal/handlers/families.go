package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hourse/backend/internal/middleware"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/internal/services"
	"github.com/hourse/backend/pkg/utils"
)

type FamiliesHandler struct {
	Families *services.FamilyService
}

func NewFamiliesHandler(families *services.FamilyService) *FamiliesHandler {
	return &FamiliesHandler{Families: families}
}

type createFamilyRequest struct {
	Name        string  `json:"name" validate:"required,max=150"`
	Description *string `json:"description"`
}

func (h *FamiliesHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createFamilyRequest
	if err := parseBody(c, &req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	family, err := h.Families.Create(c.UserContext(), currentUser.ID, req.Name, req.Description)
	if err != nil {
		return respondError(c, err, "failed creating family")
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"family": family})
}

func (h *FamiliesHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	families, err := h.Families.ListForUser(c.UserContext(), currentUser.ID)
	if err != nil {
		return respondError(c, err, "failed listing families")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"families": families})
}

func (h *FamiliesHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	familyID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid family id")
	}

	family, err := h.Families.Get(c.UserContext(), currentUser.ID, familyID)
	if err != nil {
		return respondError(c, err, "failed loading family")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"family": family})
}

type updateFamilyRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (h *FamiliesHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	familyID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid family id")
	}

	var req updateFamilyRequest
	if err := parseBody(c, &req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	family, err := h.Families.Update(c.UserContext(), currentUser.ID, familyID, services.FamilyUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		return respondError(c, err, "failed updating family")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"family": family})
}

func (h *FamiliesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	familyID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid family id")
	}

	if err := h.Families.Delete(c.UserContext(), currentUser.ID, familyID); err != nil {
		return respondError(c, err, "failed deleting family")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "family deleted"})
}

type addMemberRequest struct {
	UserID string            `json:"userId" validate:"omitempty,uuid"`
	Email  string            `json:"email" validate:"omitempty,email"`
	Role   models.FamilyRole `json:"role" validate:"omitempty,oneof=owner admin member"`
}

func (h *FamiliesHandler) AddMember(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	familyID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid family id")
	}

	var req addMemberRequest
	if err := parseBody(c, &req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	in := services.AddMemberInput{Email: req.Email, Role: req.Role}
	if req.UserID != "" {
		in.UserID = uuid.MustParse(req.UserID)
	}

	membership, err := h.Families.AddMember(c.UserContext(), currentUser.ID, familyID, in)
	if err != nil {
		return respondError(c, err, "failed adding member")
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"member": membership})
}

func (h *FamiliesHandler) RemoveMember(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	familyID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid family id")
	}
	userID, err := parseUUID(c.Params("userId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if err := h.Families.RemoveMember(c.UserContext(), currentUser.ID, familyID, userID); err != nil {
		return respondError(c, err, "failed removing member")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "member removed"})
}

type updateMemberRoleRequest struct {
	Role models.FamilyRole `json:"role" validate:"required,oneof=admin member"`
}

func (h *FamiliesHandler) UpdateMemberRole(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	familyID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid family id")
	}
	userID, err := parseUUID(c.Params("userId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var req updateMemberRoleRequest
	if err := parseBody(c, &req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	membership, err := h.Families.UpdateMemberRole(c.UserContext(), currentUser.ID, familyID, userID, req.Role)
	if err != nil {
		return respondError(c, err, "failed updating member role")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"member": membership})
}
