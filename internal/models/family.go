package models

import "github.com/google/uuid"

// Family is the "hourse": the group that scopes files, chat rooms and
// membership checks.
type Family struct {
	BaseModel
	Name        string         `json:"name" gorm:"type:varchar(150);not null"`
	Description *string        `json:"description,omitempty" gorm:"type:text"`
	CreatedByID uuid.UUID      `json:"createdById" gorm:"type:char(36);not null;index"`
	CreatedBy   User           `json:"createdBy" gorm:"foreignKey:CreatedByID"`
	Members     []FamilyMember `json:"members,omitempty" gorm:"foreignKey:FamilyID"`
}

type FamilyRole string

const (
	FamilyRoleOwner  FamilyRole = "owner"
	FamilyRoleAdmin  FamilyRole = "admin"
	FamilyRoleMember FamilyRole = "member"
)

func (r FamilyRole) Valid() bool {
	switch r {
	case FamilyRoleOwner, FamilyRoleAdmin, FamilyRoleMember:
		return true
	}
	return false
}

// CanManage reports whether the role may edit the family and its members.
func (r FamilyRole) CanManage() bool {
	return r == FamilyRoleOwner || r == FamilyRoleAdmin
}

type FamilyMember struct {
	BaseModel
	FamilyID uuid.UUID  `json:"familyId" gorm:"type:char(36);not null;index;uniqueIndex:idx_family_user"`
	UserID   uuid.UUID  `json:"userId" gorm:"type:char(36);not null;index;uniqueIndex:idx_family_user"`
	Role     FamilyRole `json:"role" gorm:"type:varchar(20);not null;default:'member'"`
	User     User       `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Family   Family     `json:"family,omitempty" gorm:"foreignKey:FamilyID"`
}
