package models

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type User struct {
	BaseModel
	Email       string         `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	DisplayName string         `json:"displayName" gorm:"type:varchar(150);not null"`
	AvatarURL   *string        `json:"avatarUrl,omitempty" gorm:"type:text"`
	Role        UserRole       `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	Memberships []FamilyMember `json:"-" gorm:"foreignKey:UserID"`
	Files       []File         `json:"-" gorm:"foreignKey:OwnerID"`
}

func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}
