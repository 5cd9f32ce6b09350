package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/internal/storage"
	"github.com/hourse/backend/pkg/logger"
	"gorm.io/gorm"
)

const (
	defaultURLExpiry = time.Hour
	sniffLength      = 3072
)

type FileService struct {
	DB      *gorm.DB
	Storage storage.Backend
	Media   *MediaService
	Access  *AccessService
}

func NewFileService(db *gorm.DB, backend storage.Backend, media *MediaService, access *AccessService) *FileService {
	return &FileService{DB: db, Storage: backend, Media: media, Access: access}
}

type FileQuery struct {
	ParentID  *uuid.UUID
	Favorites bool
	Shared    bool
	Category  models.FileCategory
	Search    string
	Offset    int
	Limit     int
}

// scoped reports whether the query narrows results beyond a folder listing,
// in which case the listing spans every folder.
func (q FileQuery) scoped() bool {
	return q.Favorites || q.Shared || q.Category != "" || strings.TrimSpace(q.Search) != ""
}

type UploadInput struct {
	OwnerID     uuid.UUID
	ParentID    *uuid.UUID
	FamilyID    *uuid.UUID
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
	Compress    bool
	Thumbnail   bool
}

type FolderInput struct {
	OwnerID  uuid.UUID
	Name     string
	ParentID *uuid.UUID
	FamilyID *uuid.UUID
}

// FileUpdate carries optional changes. A non-nil empty ParentID moves the
// item to the root.
type FileUpdate struct {
	Name     *string
	ParentID *string
}

type FileStats struct {
	TotalFiles   int64                         `json:"totalFiles"`
	TotalFolders int64                         `json:"totalFolders"`
	TotalSize    int64                         `json:"totalSize"`
	Favorites    int64                         `json:"favorites"`
	Shared       int64                         `json:"shared"`
	ByType       map[models.FileCategory]int64 `json:"byType"`
}

func (s *FileService) List(ctx context.Context, userID uuid.UUID, q FileQuery) ([]models.File, int64, error) {
	query := s.DB.WithContext(ctx).Model(&models.File{})

	if q.Shared {
		familyIDs, err := s.Access.FamilyIDsForUser(ctx, userID)
		if err != nil {
			return nil, 0, err
		}
		if len(familyIDs) == 0 {
			return []models.File{}, 0, nil
		}
		coMembers := s.DB.WithContext(ctx).Model(&models.FamilyMember{}).Select("user_id").Where("family_id IN ?", familyIDs)
		query = query.
			Where("is_shared = ? AND owner_id <> ?", true, userID).
			Where("family_id IN ? OR (family_id IS NULL AND owner_id IN (?))", familyIDs, coMembers)
	} else {
		query = query.Where("owner_id = ?", userID)
	}

	if q.ParentID != nil {
		query = query.Where("parent_id = ?", *q.ParentID)
	} else if !q.scoped() {
		query = query.Where("parent_id IS NULL")
	}

	if q.Favorites {
		query = query.Where("is_favorite = ?", true)
	}

	switch q.Category {
	case "":
	case models.FileCategoryFolder:
		query = query.Where("is_directory = ?", true)
	case models.FileCategoryImage, models.FileCategoryVideo, models.FileCategoryAudio:
		query = query.Where("is_directory = ? AND mime_type LIKE ?", false, string(q.Category)+"/%")
	case models.FileCategoryDocument:
		clauses := make([]string, 0)
		args := make([]interface{}, 0)
		for _, prefix := range models.DocumentMimePrefixes() {
			clauses = append(clauses, "mime_type LIKE ?")
			args = append(args, prefix+"%")
		}
		query = query.Where("is_directory = ?", false).Where(strings.Join(clauses, " OR "), args...)
	default:
		return nil, 0, fmt.Errorf("%w: unknown type filter %q", ErrInvalidInput, q.Category)
	}

	if search := strings.TrimSpace(q.Search); search != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	files := make([]models.File, 0)
	err := query.
		Order("is_directory DESC").
		Order("name ASC").
		Offset(q.Offset).
		Limit(limit).
		Find(&files).Error
	if err != nil {
		return nil, 0, err
	}

	return files, total, nil
}

func (s *FileService) load(ctx context.Context, fileID uuid.UUID) (*models.File, error) {
	var file models.File
	if err := s.DB.WithContext(ctx).First(&file, "id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return &file, nil
}

// Get returns a file the user owns or can see through a family share.
func (s *FileService) Get(ctx context.Context, userID, fileID uuid.UUID) (*models.File, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !s.Access.CanViewFile(ctx, userID, file) {
		logger.WarnWithUser(userID.String(), "permission_denied", map[string]interface{}{
			"action":    "file_view",
			"target_id": fileID.String(),
		})
		return nil, ErrForbidden
	}

	if file.ParentID != nil {
		var parent models.File
		if err := s.DB.WithContext(ctx).Select("id", "name").First(&parent, "id = ?", *file.ParentID).Error; err == nil {
			file.ParentName = parent.Name
		}
	}
	return file, nil
}

func (s *FileService) owned(ctx context.Context, userID, fileID uuid.UUID) (*models.File, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.OwnerID != userID {
		logger.WarnWithUser(userID.String(), "permission_denied", map[string]interface{}{
			"action":    "file_modify",
			"target_id": fileID.String(),
		})
		return nil, ErrForbidden
	}
	return file, nil
}

func (s *FileService) checkParent(ctx context.Context, userID uuid.UUID, parentID *uuid.UUID) error {
	if parentID == nil {
		return nil
	}
	parent, err := s.load(ctx, *parentID)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return ErrFolderNotFound
		}
		return err
	}
	if !parent.IsDirectory {
		return ErrNotAFolder
	}
	if parent.OwnerID != userID {
		return ErrForbidden
	}
	return nil
}

func (s *FileService) checkFamily(ctx context.Context, userID uuid.UUID, familyID *uuid.UUID) error {
	if familyID == nil {
		return nil
	}
	if !s.Access.IsFamilyMember(ctx, *familyID, userID) {
		return ErrNotFamilyMember
	}
	return nil
}

func resolveContentType(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		if parsed, _, err := mime.ParseMediaType(declared); err == nil {
			return parsed
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		if parsed, _, err := mime.ParseMediaType(byExt); err == nil {
			return parsed
		}
	}
	return ""
}

// Upload writes the blob (and optional thumbnail) to the active backend and
// then inserts one row. Blobs are removed on a best-effort basis when the
// insert fails.
func (s *FileService) Upload(ctx context.Context, in UploadInput) (*models.File, error) {
	filename := filepath.Base(strings.TrimSpace(in.Filename))
	if filename == "" || filename == "." || filename == "/" {
		return nil, fmt.Errorf("%w: invalid filename", ErrInvalidInput)
	}
	if in.Reader == nil {
		return nil, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	if err := s.checkParent(ctx, in.OwnerID, in.ParentID); err != nil {
		return nil, err
	}
	if err := s.checkFamily(ctx, in.OwnerID, in.FamilyID); err != nil {
		return nil, err
	}

	reader := in.Reader
	size := in.Size
	contentType := resolveContentType(in.ContentType, filename)
	if contentType == "" {
		head := make([]byte, sniffLength)
		n, err := io.ReadFull(reader, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, err
		}
		head = head[:n]
		contentType = mimetype.Detect(head).String()
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			contentType = parsed
		}
		reader = io.MultiReader(bytes.NewReader(head), reader)
	}

	fileID := uuid.New()
	objectName := fmt.Sprintf("%s/%s/%s", in.OwnerID, fileID, filename)

	var thumbnail []byte
	if IsImage(contentType) && (in.Compress || in.Thumbnail) {
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, err
		}
		if in.Compress {
			compressed, outType, err := s.Media.Compress(data, contentType)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			data, contentType = compressed, outType
		}
		if in.Thumbnail {
			thumbnail, err = s.Media.Thumbnail(data)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
		}
		reader = bytes.NewReader(data)
		size = int64(len(data))
	}

	if err := s.Storage.Upload(ctx, objectName, reader, size, contentType); err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}

	var thumbnailPath *string
	if thumbnail != nil {
		thumbName := fmt.Sprintf("%s/%s/thumb_%s.jpg", in.OwnerID, fileID, strings.TrimSuffix(filename, filepath.Ext(filename)))
		if err := s.Storage.Upload(ctx, thumbName, bytes.NewReader(thumbnail), int64(len(thumbnail)), "image/jpeg"); err != nil {
			_ = s.Storage.Delete(ctx, objectName)
			return nil, fmt.Errorf("upload thumbnail: %w", err)
		}
		thumbnailPath = &thumbName
	}

	entry := models.File{
		BaseModel:     models.BaseModel{ID: fileID},
		Name:          filename,
		MimeType:      contentType,
		Size:          size,
		ParentID:      in.ParentID,
		OwnerID:       in.OwnerID,
		FamilyID:      in.FamilyID,
		StoragePath:   objectName,
		ThumbnailPath: thumbnailPath,
	}

	if err := s.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		_ = s.Storage.Delete(ctx, objectName)
		if thumbnailPath != nil {
			_ = s.Storage.Delete(ctx, *thumbnailPath)
		}
		return nil, fmt.Errorf("create file record: %w", err)
	}

	logger.InfoWithUser(in.OwnerID.String(), "file_uploaded", map[string]interface{}{
		"file_id":      entry.ID.String(),
		"file_name":    filename,
		"file_size":    size,
		"mime_type":    contentType,
		"storage_path": objectName,
		"thumbnail":    thumbnailPath != nil,
		"backend":      s.Storage.Name(),
	})

	return &entry, nil
}

func (s *FileService) CreateFolder(ctx context.Context, in FolderInput) (*models.File, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := s.checkParent(ctx, in.OwnerID, in.ParentID); err != nil {
		return nil, err
	}
	if err := s.checkFamily(ctx, in.OwnerID, in.FamilyID); err != nil {
		return nil, err
	}

	dir := models.File{
		Name:        name,
		MimeType:    models.FolderMimeType,
		IsDirectory: true,
		ParentID:    in.ParentID,
		OwnerID:     in.OwnerID,
		FamilyID:    in.FamilyID,
	}
	if err := s.DB.WithContext(ctx).Create(&dir).Error; err != nil {
		return nil, err
	}

	logger.InfoWithUser(in.OwnerID.String(), "folder_created", map[string]interface{}{
		"folder_id":   dir.ID.String(),
		"folder_name": name,
	})
	return &dir, nil
}

// Update renames and/or moves an item. Owner only.
func (s *FileService) Update(ctx context.Context, userID, fileID uuid.UUID, upd FileUpdate) (*models.File, error) {
	file, err := s.owned(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" || strings.ContainsAny(name, "/\\") {
			return nil, fmt.Errorf("%w: invalid name", ErrInvalidInput)
		}
		updates["name"] = name
	}

	if upd.ParentID != nil {
		trimmed := strings.TrimSpace(*upd.ParentID)
		if trimmed == "" {
			updates["parent_id"] = nil
		} else {
			newParentID, err := uuid.Parse(trimmed)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid parentId", ErrInvalidInput)
			}
			if newParentID == file.ID {
				return nil, ErrFolderCycle
			}
			if err := s.checkParent(ctx, userID, &newParentID); err != nil {
				return nil, err
			}
			if file.IsDirectory {
				inside, err := s.isDescendant(ctx, file.ID, newParentID)
				if err != nil {
					return nil, err
				}
				if inside {
					return nil, ErrFolderCycle
				}
			}
			updates["parent_id"] = newParentID
		}
	}

	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no valid fields to update", ErrInvalidInput)
	}

	if err := s.DB.WithContext(ctx).Model(&models.File{}).Where("id = ?", file.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.load(ctx, file.ID)
}

func (s *FileService) isDescendant(ctx context.Context, ancestorID, candidateID uuid.UUID) (bool, error) {
	current := candidateID
	for {
		if current == ancestorID {
			return true, nil
		}

		var file models.File
		err := s.DB.WithContext(ctx).Select("id", "parent_id").First(&file, "id = ?", current).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, nil
			}
			return false, err
		}
		if file.ParentID == nil {
			return false, nil
		}
		current = *file.ParentID
	}
}

// ToggleFavorite flips the flag and returns the new value.
func (s *FileService) ToggleFavorite(ctx context.Context, userID, fileID uuid.UUID) (bool, error) {
	return s.toggle(ctx, userID, fileID, "is_favorite", func(f *models.File) bool { return f.IsFavorite })
}

// ToggleShared flips the flag and returns the new value.
func (s *FileService) ToggleShared(ctx context.Context, userID, fileID uuid.UUID) (bool, error) {
	return s.toggle(ctx, userID, fileID, "is_shared", func(f *models.File) bool { return f.IsShared })
}

func (s *FileService) toggle(ctx context.Context, userID, fileID uuid.UUID, column string, current func(*models.File) bool) (bool, error) {
	file, err := s.owned(ctx, userID, fileID)
	if err != nil {
		return false, err
	}

	next := !current(file)
	if err := s.DB.WithContext(ctx).Model(&models.File{}).Where("id = ?", file.ID).Update(column, next).Error; err != nil {
		return false, err
	}

	logger.InfoWithUser(userID.String(), "file_flag_toggled", map[string]interface{}{
		"file_id": file.ID.String(),
		"flag":    column,
		"value":   next,
	})
	return next, nil
}

// Delete removes an item, its descendants and their blobs. Owner only.
func (s *FileService) Delete(ctx context.Context, userID, fileID uuid.UUID) error {
	file, err := s.owned(ctx, userID, fileID)
	if err != nil {
		return err
	}
	if err := s.deleteRecursive(ctx, file); err != nil {
		return err
	}

	logger.InfoWithUser(userID.String(), "file_deleted", map[string]interface{}{
		"file_id":      file.ID.String(),
		"is_directory": file.IsDirectory,
	})
	return nil
}

func (s *FileService) deleteRecursive(ctx context.Context, file *models.File) error {
	if file.IsDirectory {
		var children []models.File
		if err := s.DB.WithContext(ctx).Where("parent_id = ?", file.ID).Find(&children).Error; err != nil {
			return err
		}
		for i := range children {
			if err := s.deleteRecursive(ctx, &children[i]); err != nil {
				return err
			}
		}
	} else if file.StoragePath != "" {
		if err := s.Storage.Delete(ctx, file.StoragePath); err != nil {
			return fmt.Errorf("delete blob: %w", err)
		}
		if file.ThumbnailPath != nil && *file.ThumbnailPath != "" {
			_ = s.Storage.Delete(ctx, *file.ThumbnailPath)
		}
	}

	return s.DB.WithContext(ctx).Unscoped().Delete(&models.File{}, "id = ?", file.ID).Error
}

// Open streams a blob (or its thumbnail) the user may view.
func (s *FileService) Open(ctx context.Context, userID, fileID uuid.UUID, thumbnail bool) (io.ReadCloser, *storage.ObjectInfo, *models.File, error) {
	file, key, err := s.blobKey(ctx, userID, fileID, thumbnail)
	if err != nil {
		return nil, nil, nil, err
	}

	reader, info, err := s.Storage.Download(ctx, key)
	if err != nil {
		return nil, nil, nil, err
	}
	if info.ContentType == "" {
		info.ContentType = file.MimeType
	}
	return reader, info, file, nil
}

// URL returns a presigned (S3) or public (local) link to the blob.
func (s *FileService) URL(ctx context.Context, userID, fileID uuid.UUID, thumbnail bool) (string, error) {
	_, key, err := s.blobKey(ctx, userID, fileID, thumbnail)
	if err != nil {
		return "", err
	}
	return s.Storage.URL(ctx, key, defaultURLExpiry)
}

func (s *FileService) blobKey(ctx context.Context, userID, fileID uuid.UUID, thumbnail bool) (*models.File, string, error) {
	file, err := s.Get(ctx, userID, fileID)
	if err != nil {
		return nil, "", err
	}
	if file.IsDirectory {
		return nil, "", fmt.Errorf("%w: folders have no content", ErrInvalidInput)
	}
	if thumbnail {
		if file.ThumbnailPath == nil || *file.ThumbnailPath == "" {
			return nil, "", fmt.Errorf("%w: file has no thumbnail", ErrFileNotFound)
		}
		return file, *file.ThumbnailPath, nil
	}
	return file, file.StoragePath, nil
}

func (s *FileService) Stats(ctx context.Context, userID uuid.UUID) (*FileStats, error) {
	var files []models.File
	err := s.DB.WithContext(ctx).
		Select("mime_type", "is_directory", "size", "is_favorite", "is_shared").
		Where("owner_id = ?", userID).
		Find(&files).Error
	if err != nil {
		return nil, err
	}

	stats := &FileStats{ByType: map[models.FileCategory]int64{
		models.FileCategoryImage:    0,
		models.FileCategoryVideo:    0,
		models.FileCategoryAudio:    0,
		models.FileCategoryDocument: 0,
		models.FileCategoryOther:    0,
	}}
	for i := range files {
		f := &files[i]
		if f.IsFavorite {
			stats.Favorites++
		}
		if f.IsShared {
			stats.Shared++
		}
		if f.IsDirectory {
			stats.TotalFolders++
			continue
		}
		stats.TotalFiles++
		stats.TotalSize += f.Size
		stats.ByType[models.CategoryForMime(f.MimeType)]++
	}
	return stats, nil
}
