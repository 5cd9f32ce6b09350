package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/pkg/logger"
	"gorm.io/gorm"
)

// FamilyService manages families and their membership, which in turn
// decides who may see shared files and take part in chat rooms.
type FamilyService struct {
	DB     *gorm.DB
	Access *AccessService

	observers []MembershipObserver
}

// MembershipObserver is told after users lose access to a family's chat
// rooms, either by leaving the family or because it was deleted.
type MembershipObserver interface {
	AccessRevoked(familyID uuid.UUID, userIDs, roomIDs []uuid.UUID)
}

// Observe registers o for revocation notices. Not safe to call while
// requests are served.
func (s *FamilyService) Observe(o MembershipObserver) {
	s.observers = append(s.observers, o)
}

func (s *FamilyService) notifyRevoked(familyID uuid.UUID, userIDs, roomIDs []uuid.UUID) {
	if len(userIDs) == 0 || len(roomIDs) == 0 {
		return
	}
	for _, o := range s.observers {
		o.AccessRevoked(familyID, userIDs, roomIDs)
	}
}

func (s *FamilyService) roomIDs(ctx context.Context, familyID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.DB.WithContext(ctx).Model(&models.ChatRoom{}).Where("family_id = ?", familyID).Pluck("id", &ids).Error
	return ids, err
}

func NewFamilyService(db *gorm.DB, access *AccessService) *FamilyService {
	return &FamilyService{DB: db, Access: access}
}

type FamilyUpdate struct {
	Name        *string
	Description *string
}

type AddMemberInput struct {
	UserID uuid.UUID
	Email  string
	Role   models.FamilyRole
}

func (s *FamilyService) Create(ctx context.Context, userID uuid.UUID, name string, description *string) (*models.Family, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	family := models.Family{Name: name, Description: description, CreatedByID: userID}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&family).Error; err != nil {
			return err
		}
		owner := models.FamilyMember{FamilyID: family.ID, UserID: userID, Role: models.FamilyRoleOwner}
		return tx.Create(&owner).Error
	})
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(userID.String(), "family_created", map[string]interface{}{
		"family_id":   family.ID.String(),
		"family_name": family.Name,
	})
	return s.load(ctx, family.ID)
}

func (s *FamilyService) load(ctx context.Context, familyID uuid.UUID) (*models.Family, error) {
	var family models.Family
	err := s.DB.WithContext(ctx).Preload("Members.User").First(&family, "id = ?", familyID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFamilyNotFound
		}
		return nil, err
	}
	return &family, nil
}

func (s *FamilyService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Family, error) {
	families := make([]models.Family, 0)
	err := s.DB.WithContext(ctx).
		Model(&models.Family{}).
		Preload("Members").
		Joins("JOIN family_members ON family_members.family_id = families.id AND family_members.deleted_at IS NULL").
		Where("family_members.user_id = ?", userID).
		Order("families.created_at DESC").
		Find(&families).Error
	return families, err
}

// Get returns the family with its members. Non-members are refused before
// existence is revealed.
func (s *FamilyService) Get(ctx context.Context, userID, familyID uuid.UUID) (*models.Family, error) {
	if _, err := s.Access.MemberRole(ctx, familyID, userID); err != nil {
		return nil, err
	}
	return s.load(ctx, familyID)
}

func (s *FamilyService) Update(ctx context.Context, userID, familyID uuid.UUID, upd FamilyUpdate) (*models.Family, error) {
	if err := s.requireManager(ctx, familyID, userID); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		updates["name"] = name
	}
	if upd.Description != nil {
		trimmed := strings.TrimSpace(*upd.Description)
		if trimmed == "" {
			updates["description"] = nil
		} else {
			updates["description"] = trimmed
		}
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no valid fields to update", ErrInvalidInput)
	}

	result := s.DB.WithContext(ctx).Model(&models.Family{}).Where("id = ?", familyID).Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrFamilyNotFound
	}
	return s.load(ctx, familyID)
}

// Delete removes the family, its memberships and rooms. Files keep their
// owner and lose the family link; their shared flag is cleared so they do
// not become visible to the owner's other families.
func (s *FamilyService) Delete(ctx context.Context, userID, familyID uuid.UUID) error {
	role, err := s.Access.MemberRole(ctx, familyID, userID)
	if err != nil {
		return err
	}
	if role != models.FamilyRoleOwner {
		return fmt.Errorf("%w: only the family owner can delete the family", ErrForbidden)
	}

	var memberIDs []uuid.UUID
	if err := s.DB.WithContext(ctx).Model(&models.FamilyMember{}).Where("family_id = ?", familyID).Pluck("user_id", &memberIDs).Error; err != nil {
		return err
	}
	rooms, err := s.roomIDs(ctx, familyID)
	if err != nil {
		return err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("family_id = ?", familyID).Delete(&models.FamilyMember{}).Error; err != nil {
			return err
		}
		unlink := map[string]interface{}{"family_id": nil, "is_shared": false}
		if err := tx.Model(&models.File{}).Where("family_id = ?", familyID).Updates(unlink).Error; err != nil {
			return err
		}
		if err := tx.Where("family_id = ?", familyID).Delete(&models.ChatRoom{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Family{}, "id = ?", familyID).Error
	})
	if err != nil {
		return err
	}

	s.notifyRevoked(familyID, memberIDs, rooms)

	logger.InfoWithUser(userID.String(), "family_deleted", map[string]interface{}{
		"family_id": familyID.String(),
	})
	return nil
}

func (s *FamilyService) AddMember(ctx context.Context, actorID, familyID uuid.UUID, in AddMemberInput) (*models.FamilyMember, error) {
	actorRole, err := s.Access.MemberRole(ctx, familyID, actorID)
	if err != nil {
		return nil, err
	}
	if !actorRole.CanManage() {
		return nil, fmt.Errorf("%w: insufficient permissions", ErrForbidden)
	}

	role := in.Role
	if role == "" {
		role = models.FamilyRoleMember
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid role", ErrInvalidInput)
	}
	if actorRole == models.FamilyRoleAdmin && role != models.FamilyRoleMember {
		return nil, fmt.Errorf("%w: admins can only add members with member role", ErrForbidden)
	}

	var user models.User
	query := s.DB.WithContext(ctx)
	switch {
	case in.UserID != uuid.Nil:
		err = query.First(&user, "id = ?", in.UserID).Error
	case strings.TrimSpace(in.Email) != "":
		err = query.First(&user, "LOWER(email) = ?", strings.ToLower(strings.TrimSpace(in.Email))).Error
	default:
		return nil, fmt.Errorf("%w: userId or email is required", ErrInvalidInput)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if s.Access.IsFamilyMember(ctx, familyID, user.ID) {
		return nil, ErrAlreadyMember
	}

	membership := models.FamilyMember{FamilyID: familyID, UserID: user.ID, Role: role}
	if err := s.DB.WithContext(ctx).Create(&membership).Error; err != nil {
		return nil, err
	}
	membership.User = user

	logger.InfoWithUser(actorID.String(), "family_member_added", map[string]interface{}{
		"family_id": familyID.String(),
		"user_id":   user.ID.String(),
		"role":      string(role),
	})
	return &membership, nil
}

// RemoveMember lets owners and admins remove others, and any non-owner
// member leave on their own.
func (s *FamilyService) RemoveMember(ctx context.Context, actorID, familyID, userID uuid.UUID) error {
	actorRole, err := s.Access.MemberRole(ctx, familyID, actorID)
	if err != nil {
		return err
	}
	target, err := s.membership(ctx, familyID, userID)
	if err != nil {
		return err
	}

	if target.Role == models.FamilyRoleOwner {
		return fmt.Errorf("%w: cannot remove the family owner", ErrForbidden)
	}
	if actorID != userID {
		if !actorRole.CanManage() {
			return fmt.Errorf("%w: insufficient permissions", ErrForbidden)
		}
		if actorRole == models.FamilyRoleAdmin && target.Role == models.FamilyRoleAdmin {
			return fmt.Errorf("%w: admins cannot remove other admins", ErrForbidden)
		}
	}

	if err := s.DB.WithContext(ctx).Unscoped().Delete(&models.FamilyMember{}, "id = ?", target.ID).Error; err != nil {
		return err
	}

	rooms, err := s.roomIDs(ctx, familyID)
	if err != nil {
		logger.Error("family_rooms_lookup_failed", err, map[string]interface{}{"family_id": familyID.String()})
	}
	s.notifyRevoked(familyID, []uuid.UUID{userID}, rooms)

	logger.InfoWithUser(actorID.String(), "family_member_removed", map[string]interface{}{
		"family_id": familyID.String(),
		"user_id":   userID.String(),
	})
	return nil
}

func (s *FamilyService) UpdateMemberRole(ctx context.Context, actorID, familyID, userID uuid.UUID, role models.FamilyRole) (*models.FamilyMember, error) {
	actorRole, err := s.Access.MemberRole(ctx, familyID, actorID)
	if err != nil {
		return nil, err
	}
	if !actorRole.CanManage() {
		return nil, fmt.Errorf("%w: insufficient permissions", ErrForbidden)
	}

	target, err := s.membership(ctx, familyID, userID)
	if err != nil {
		return nil, err
	}
	if target.Role == models.FamilyRoleOwner {
		return nil, fmt.Errorf("%w: cannot change owner role", ErrForbidden)
	}
	if role != models.FamilyRoleAdmin && role != models.FamilyRoleMember {
		return nil, fmt.Errorf("%w: invalid role", ErrInvalidInput)
	}
	if actorRole == models.FamilyRoleAdmin && role != models.FamilyRoleMember {
		return nil, fmt.Errorf("%w: admins can only set member role", ErrForbidden)
	}

	if err := s.DB.WithContext(ctx).Model(&models.FamilyMember{}).Where("id = ?", target.ID).Update("role", role).Error; err != nil {
		return nil, err
	}
	target.Role = role
	return target, nil
}

func (s *FamilyService) requireManager(ctx context.Context, familyID, userID uuid.UUID) error {
	role, err := s.Access.MemberRole(ctx, familyID, userID)
	if err != nil {
		return err
	}
	if !role.CanManage() {
		return fmt.Errorf("%w: insufficient permissions", ErrForbidden)
	}
	return nil
}

func (s *FamilyService) membership(ctx context.Context, familyID, userID uuid.UUID) (*models.FamilyMember, error) {
	var membership models.FamilyMember
	err := s.DB.WithContext(ctx).First(&membership, "family_id = ? AND user_id = ?", familyID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &membership, nil
}
