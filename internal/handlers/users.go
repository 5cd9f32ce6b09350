package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/hourse/backend/internal/middleware"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/pkg/logger"
	"github.com/hourse/backend/pkg/utils"
	"gorm.io/gorm"
)

// UsersHandler serves profiles. Accounts are provisioned by admins (or the
// hourse CLI) for identities issued by the external identity provider.
type UsersHandler struct {
	DB *gorm.DB
}

func NewUsersHandler(db *gorm.DB) *UsersHandler {
	return &UsersHandler{DB: db}
}

func searchUsers(query *gorm.DB, search string) *gorm.DB {
	if search == "" {
		return query
	}
	searchValue := "%" + strings.ToLower(search) + "%"
	return query.Where("LOWER(email) LIKE ? OR LOWER(display_name) LIKE ?", searchValue, searchValue)
}

func (h *UsersHandler) Me(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"user": currentUser})
}

type updateProfileRequest struct {
	DisplayName *string `json:"displayName" validate:"omitempty,max=150"`
	AvatarURL   *string `json:"avatarUrl"`
}

func (h *UsersHandler) UpdateMe(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req updateProfileRequest
	if err := parseBody(c, &req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	updates, msg := profileUpdates(req.DisplayName, req.AvatarURL)
	if msg != "" {
		return utils.Error(c, fiber.StatusBadRequest, msg)
	}
	return h.apply(c, currentUser.ID.String(), updates)
}

func profileUpdates(displayName, avatarURL *string) (map[string]interface{}, string) {
	updates := map[string]interface{}{}
	if displayName != nil {
		value := strings.TrimSpace(*displayName)
		if value == "" {
			return nil, "displayName cannot be empty"
		}
		updates["display_name"] = value
	}
	if avatarURL != nil {
		trimmed := strings.TrimSpace(*avatarURL)
		if trimmed == "" {
			updates["avatar_url"] = nil
		} else {
			updates["avatar_url"] = trimmed
		}
	}
	return updates, ""
}

func (h *UsersHandler) apply(c *fiber.Ctx, userID string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result := h.DB.WithContext(c.UserContext()).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating user")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}

	var user models.User
	if err := h.DB.WithContext(c.UserContext()).First(&user, "id = ?", userID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching updated user")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"user": user})
}

// Search backs the "add family member" picker.
func (h *UsersHandler) Search(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	search := strings.TrimSpace(c.Query("search"))
	limit := c.QueryInt("limit", 5)
	if limit < 1 || limit > 50 {
		limit = 50
	}

	if search != "" && currentUser != nil {
		logger.InfoWithUser(currentUser.ID.String(), "user_search", map[string]interface{}{
			"query": search,
			"limit": limit,
		})
	}

	var users []models.User
	query := searchUsers(h.DB.WithContext(c.UserContext()).Model(&models.User{}), search)
	if err := query.Order("display_name ASC").Limit(limit).Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed searching users")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"users": users})
}

func (h *UsersHandler) List(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	query := searchUsers(h.DB.WithContext(c.UserContext()).Model(&models.User{}), strings.TrimSpace(c.Query("search")))

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting users")
	}

	var users []models.User
	if err := utils.ApplyPagination(query.Order("created_at DESC"), p).Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing users")
	}
	return utils.Paginated(c, "users", users, p.Page, p.Limit, total)
}

type createUserRequest struct {
	ID          string          `json:"id" validate:"omitempty,uuid"`
	Email       string          `json:"email" validate:"required,email"`
	DisplayName string          `json:"displayName" validate:"required,max=150"`
	Role        models.UserRole `json:"role" validate:"omitempty,oneof=admin user"`
}

// Create provisions a user. ID may be supplied so it matches the subject of
// tokens from the identity provider.
func (h *UsersHandler) Create(c *fiber.Ctx) error {
	var req createUserRequest
	if err := parseBody(c, &req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	user := models.User{
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Role:        req.Role,
	}
	if user.Role == "" {
		user.Role = models.UserRoleUser
	}
	if req.ID != "" {
		id, _ := parseUUID(req.ID)
		user.ID = id
	}

	var existing int64
	if err := h.DB.WithContext(c.UserContext()).Unscoped().Model(&models.User{}).Where("LOWER(email) = ?", user.Email).Count(&existing).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking email")
	}
	if existing > 0 {
		return utils.Error(c, fiber.StatusConflict, "email already registered")
	}

	if err := h.DB.WithContext(c.UserContext()).Create(&user).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	logger.InfoWithUser(userIDString(c), "user_created", map[string]interface{}{
		"target_id": user.ID.String(),
		"email":     user.Email,
		"role":      string(user.Role),
	})
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"user": user})
}

func (h *UsersHandler) Get(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var user models.User
	if err := h.DB.WithContext(c.UserContext()).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching user")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"user": user})
}

type updateUserRequest struct {
	DisplayName *string          `json:"displayName" validate:"omitempty,max=150"`
	AvatarURL   *string          `json:"avatarUrl"`
	Role        *models.UserRole `json:"role" validate:"omitempty,oneof=admin user"`
}

func (h *UsersHandler) Update(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var req updateUserRequest
	if err := parseBody(c, &req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	updates, msg := profileUpdates(req.DisplayName, req.AvatarURL)
	if msg != "" {
		return utils.Error(c, fiber.StatusBadRequest, msg)
	}
	if req.Role != nil {
		updates["role"] = *req.Role
	}
	return h.apply(c, userID.String(), updates)
}

func (h *UsersHandler) Delete(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	result := h.DB.WithContext(c.UserContext()).Delete(&models.User{}, "id = ?", userID)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting user")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "user deleted"})
}
