package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IDs are stored as char(36) so the same schema migrates on postgres, mysql
// and sqlite.
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (b *BaseModel) BeforeCreate(_ *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
