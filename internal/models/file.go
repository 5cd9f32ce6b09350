package models

import (
	"strings"

	"github.com/google/uuid"
)

// FolderMimeType marks a row as a folder rather than a stored blob.
const FolderMimeType = "inode/directory"

type FileCategory string

const (
	FileCategoryImage    FileCategory = "image"
	FileCategoryVideo    FileCategory = "video"
	FileCategoryAudio    FileCategory = "audio"
	FileCategoryDocument FileCategory = "document"
	FileCategoryFolder   FileCategory = "folder"
	FileCategoryOther    FileCategory = "other"
)

var documentMimePrefixes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument",
	"application/vnd.ms-",
	"application/vnd.oasis.opendocument",
	"application/rtf",
	"text/",
}

type File struct {
	BaseModel
	Name          string     `json:"name" gorm:"type:varchar(255);not null"`
	MimeType      string     `json:"mimeType" gorm:"type:varchar(255);not null"`
	Size          int64      `json:"size" gorm:"not null;default:0"`
	IsDirectory   bool       `json:"isDirectory" gorm:"not null;default:false;index"`
	IsFavorite    bool       `json:"isFavorite" gorm:"not null;default:false;index"`
	IsShared      bool       `json:"isShared" gorm:"not null;default:false;index"`
	ParentID      *uuid.UUID `json:"parentId,omitempty" gorm:"type:char(36);index"`
	OwnerID       uuid.UUID  `json:"ownerId" gorm:"type:char(36);not null;index"`
	FamilyID      *uuid.UUID `json:"familyId,omitempty" gorm:"type:char(36);index"`
	StoragePath   string     `json:"storagePath" gorm:"type:text;not null"`
	ThumbnailPath *string    `json:"thumbnailPath,omitempty" gorm:"type:text"`

	Owner      User   `json:"owner,omitempty" gorm:"foreignKey:OwnerID;references:ID"`
	ParentName string `json:"parentName,omitempty" gorm:"-"`
}

// Category buckets the file for type filters and stats.
func (f *File) Category() FileCategory {
	if f.IsDirectory || f.MimeType == FolderMimeType {
		return FileCategoryFolder
	}
	return CategoryForMime(f.MimeType)
}

func CategoryForMime(mimeType string) FileCategory {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return FileCategoryImage
	case strings.HasPrefix(mimeType, "video/"):
		return FileCategoryVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return FileCategoryAudio
	}
	for _, prefix := range documentMimePrefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return FileCategoryDocument
		}
	}
	return FileCategoryOther
}

// DocumentMimePrefixes is the prefix list behind FileCategoryDocument.
func DocumentMimePrefixes() []string {
	out := make([]string, len(documentMimePrefixes))
	copy(out, documentMimePrefixes)
	return out
}
