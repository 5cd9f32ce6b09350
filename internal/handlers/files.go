package handlers

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/hourse/backend/internal/middleware"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/internal/services"
	"github.com/hourse/backend/pkg/logger"
	"github.com/hourse/backend/pkg/utils"
)

type FilesHandler struct {
	Files *services.FileService
}

func NewFilesHandler(files *services.FileService) *FilesHandler {
	return &FilesHandler{Files: files}
}

func (h *FilesHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	parentID, err := parseOptionalUUID(c.Query("parentId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid parentId")
	}

	p := utils.ParsePagination(c)
	files, total, err := h.Files.List(c.UserContext(), currentUser.ID, services.FileQuery{
		ParentID:  parentID,
		Favorites: c.QueryBool("favorites"),
		Shared:    c.QueryBool("shared"),
		Category:  models.FileCategory(strings.ToLower(strings.TrimSpace(c.Query("type")))),
		Search:    c.Query("search"),
		Offset:    p.Offset,
		Limit:     p.Limit,
	})
	if err != nil {
		return respondError(c, err, "failed listing files")
	}

	return utils.Paginated(c, "files", files, p.Page, p.Limit, total)
}

func (h *FilesHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	file, err := h.Files.Get(c.UserContext(), currentUser.ID, fileID)
	if err != nil {
		return respondError(c, err, "failed loading file")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"file": file})
}

func (h *FilesHandler) Download(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	reader, info, file, err := h.Files.Open(c.UserContext(), currentUser.ID, fileID, c.QueryBool("thumbnail"))
	if err != nil {
		return respondError(c, err, "failed downloading file")
	}

	logger.InfoWithUser(currentUser.ID.String(), "file_downloaded", map[string]interface{}{
		"file_id":   file.ID.String(),
		"file_name": file.Name,
		"file_size": info.Size,
	})

	c.Set(fiber.HeaderContentType, info.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Name))
	return c.SendStream(reader, int(info.Size))
}

func (h *FilesHandler) URL(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	link, err := h.Files.URL(c.UserContext(), currentUser.ID, fileID, c.QueryBool("thumbnail"))
	if err != nil {
		return respondError(c, err, "failed generating url")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"url": link})
}

func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}
	parentID, err := parseOptionalUUID(c.FormValue("parentId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid parentId")
	}
	familyID, err := parseOptionalUUID(c.FormValue("familyId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid familyId")
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	defer stream.Close()

	file, err := h.Files.Upload(c.UserContext(), services.UploadInput{
		OwnerID:     currentUser.ID,
		ParentID:    parentID,
		FamilyID:    familyID,
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get(fiber.HeaderContentType),
		Size:        fileHeader.Size,
		Reader:      stream,
		Compress:    formBool(c.FormValue("compress")),
		Thumbnail:   formBool(c.FormValue("thumbnail")),
	})
	if err != nil {
		return respondError(c, err, "failed uploading file")
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"file": file})
}

func formBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

type createFolderRequest struct {
	Name     string  `json:"name" validate:"required,max=255"`
	ParentID *string `json:"parentId"`
	FamilyID *string `json:"familyId"`
}

func (h *FilesHandler) CreateFolder(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createFolderRequest
	if err := parseBody(c, &req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var err error
	in := services.FolderInput{OwnerID: currentUser.ID, Name: req.Name}
	if req.ParentID != nil {
		if in.ParentID, err = parseOptionalUUID(*req.ParentID); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid parentId")
		}
	}
	if req.FamilyID != nil {
		if in.FamilyID, err = parseOptionalUUID(*req.FamilyID); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid familyId")
		}
	}

	folder, err := h.Files.CreateFolder(c.UserContext(), in)
	if err != nil {
		return respondError(c, err, "failed creating folder")
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{"file": folder})
}

type updateFileRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parentId"`
}

func (h *FilesHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	var req updateFileRequest
	if err := parseBody(c, &req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	file, err := h.Files.Update(c.UserContext(), currentUser.ID, fileID, services.FileUpdate{
		Name:     req.Name,
		ParentID: req.ParentID,
	})
	if err != nil {
		return respondError(c, err, "failed updating file")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"file": file})
}

func (h *FilesHandler) ToggleFavorite(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	value, err := h.Files.ToggleFavorite(c.UserContext(), currentUser.ID, fileID)
	if err != nil {
		return respondError(c, err, "failed updating favorite")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"id": fileID, "isFavorite": value})
}

func (h *FilesHandler) ToggleShare(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	value, err := h.Files.ToggleShared(c.UserContext(), currentUser.ID, fileID)
	if err != nil {
		return respondError(c, err, "failed updating share")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"id": fileID, "isShared": value})
}

func (h *FilesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	if err := h.Files.Delete(c.UserContext(), currentUser.ID, fileID); err != nil {
		return respondError(c, err, "failed deleting file")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "file deleted"})
}

func (h *FilesHandler) Stats(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	stats, err := h.Files.Stats(c.UserContext(), currentUser.ID)
	if err != nil {
		return respondError(c, err, "failed computing stats")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"stats": stats})
}
