package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatRoomType string

const (
	ChatRoomTypeGroup  ChatRoomType = "group"
	ChatRoomTypeDirect ChatRoomType = "direct"
)

type ChatRoom struct {
	BaseModel
	FamilyID    uuid.UUID    `json:"familyId" gorm:"type:char(36);not null;index"`
	Name        string       `json:"name" gorm:"type:varchar(150);not null"`
	Description *string      `json:"description,omitempty" gorm:"type:text"`
	Type        ChatRoomType `json:"type" gorm:"type:varchar(20);not null;default:'group'"`
	CreatedByID uuid.UUID    `json:"createdById" gorm:"type:char(36);not null;index"`
	CreatedBy   User         `json:"createdBy,omitempty" gorm:"foreignKey:CreatedByID"`
}

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeFile     MessageType = "file"
	MessageTypeSystem   MessageType = "system"
	MessageTypeLocation MessageType = "location"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem, MessageTypeLocation:
		return true
	}
	return false
}

// ChatMessage is soft-deleted through BaseModel.DeletedAt.
type ChatMessage struct {
	BaseModel
	RoomID    uuid.UUID         `json:"roomId" gorm:"type:char(36);not null;index:idx_room_created"`
	SenderID  uuid.UUID         `json:"senderId" gorm:"type:char(36);not null;index"`
	Content   string            `json:"content" gorm:"type:text;not null"`
	Type      MessageType       `json:"type" gorm:"type:varchar(20);not null;default:'text'"`
	ReplyToID *uuid.UUID        `json:"replyToId,omitempty" gorm:"type:char(36);index"`
	IsPinned  bool              `json:"isPinned" gorm:"not null;default:false"`
	EditedAt  *time.Time        `json:"editedAt,omitempty"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`

	Sender    User                  `json:"sender,omitempty" gorm:"foreignKey:SenderID"`
	Reactions []ChatMessageReaction `json:"reactions" gorm:"-"`
}

// ClientID returns the client-supplied id stashed in metadata, if any.
func (m *ChatMessage) ClientID() string {
	if m.Metadata == nil {
		return ""
	}
	if id, ok := m.Metadata["clientId"].(string); ok {
		return id
	}
	return ""
}

type ChatMessageReaction struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	MessageID uuid.UUID `json:"messageId" gorm:"type:char(36);not null;uniqueIndex:idx_reaction_unique"`
	UserID    uuid.UUID `json:"userId" gorm:"type:char(36);not null;uniqueIndex:idx_reaction_unique"`
	Emoji     string    `json:"emoji" gorm:"type:varchar(64);not null;uniqueIndex:idx_reaction_unique"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r *ChatMessageReaction) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

type ChatMessageRead struct {
	ID         uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	RoomID     uuid.UUID `json:"roomId" gorm:"type:char(36);not null;uniqueIndex:idx_read_room_user"`
	UserID     uuid.UUID `json:"userId" gorm:"type:char(36);not null;uniqueIndex:idx_read_room_user"`
	LastReadAt time.Time `json:"lastReadAt" gorm:"not null"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (r *ChatMessageRead) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
