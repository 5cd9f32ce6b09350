package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hourse/backend/internal/models"
	"gorm.io/gorm"
)

// AccessService answers family membership questions. Files, chat rooms and
// family management all resolve permissions through it.
type AccessService struct {
	DB *gorm.DB
}

func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{DB: db}
}

func (a *AccessService) IsFamilyMember(ctx context.Context, familyID, userID uuid.UUID) bool {
	_, err := a.MemberRole(ctx, familyID, userID)
	return err == nil
}

// MemberRole returns ErrNotFamilyMember when the user has no membership row.
func (a *AccessService) MemberRole(ctx context.Context, familyID, userID uuid.UUID) (models.FamilyRole, error) {
	var member models.FamilyMember
	err := a.DB.WithContext(ctx).
		Where("family_id = ? AND user_id = ?", familyID, userID).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFamilyMember
		}
		return "", err
	}
	return member.Role, nil
}

func (a *AccessService) FamilyIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := a.DB.WithContext(ctx).
		Model(&models.FamilyMember{}).
		Where("user_id = ?", userID).
		Pluck("family_id", &ids).Error
	return ids, err
}

// SharesFamily reports whether two users are members of at least one common family.
func (a *AccessService) SharesFamily(ctx context.Context, userA, userB uuid.UUID) bool {
	if userA == userB {
		return true
	}
	var count int64
	err := a.DB.WithContext(ctx).
		Table("family_members AS a").
		Joins("JOIN family_members AS b ON b.family_id = a.family_id AND b.deleted_at IS NULL").
		Where("a.user_id = ? AND b.user_id = ? AND a.deleted_at IS NULL", userA, userB).
		Count(&count).Error
	return err == nil && count > 0
}

// CanViewFile allows the owner, or a member of the file's family when the
// file or one of its ancestor folders is shared. A shared file without a
// family is visible to anyone sharing a family with its owner.
func (a *AccessService) CanViewFile(ctx context.Context, userID uuid.UUID, file *models.File) bool {
	if file.OwnerID == userID {
		return true
	}

	current := file
	for depth := 0; current != nil && depth < 64; depth++ {
		if current.IsShared && a.sharedWith(ctx, userID, current) {
			return true
		}
		if current.ParentID == nil {
			break
		}

		var parent models.File
		if err := a.DB.WithContext(ctx).First(&parent, "id = ?", *current.ParentID).Error; err != nil {
			return false
		}
		current = &parent
	}

	return false
}

func (a *AccessService) sharedWith(ctx context.Context, userID uuid.UUID, file *models.File) bool {
	if file.FamilyID != nil {
		return a.IsFamilyMember(ctx, *file.FamilyID, userID)
	}
	return a.SharesFamily(ctx, file.OwnerID, userID)
}
