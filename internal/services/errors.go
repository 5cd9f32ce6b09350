package services

import (
	"errors"
	"net/http"

	"github.com/hourse/backend/internal/storage"
	"gorm.io/gorm"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")

	ErrFileNotFound   = errors.New("file not found")
	ErrFolderNotFound = errors.New("folder not found")
	ErrNotAFolder     = errors.New("parent is not a folder")
	ErrFolderCycle    = errors.New("cannot move a folder into itself or its descendants")

	ErrFamilyNotFound  = errors.New("family not found")
	ErrNotFamilyMember = errors.New("not a member of this family")
	ErrMemberNotFound  = errors.New("member not found")
	ErrAlreadyMember   = errors.New("user is already a member")
	ErrUserNotFound    = errors.New("user not found")

	ErrRoomNotFound     = errors.New("chat room not found")
	ErrNotParticipant   = errors.New("not a participant of this chat room")
	ErrNotRoomCreator   = errors.New("only the room creator can do this")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotMessageSender = errors.New("only the sender can modify this message")

	ErrSettingNotFound = errors.New("setting not found")
	ErrSettingKeyEmpty = errors.New("setting key must not be empty")
	ErrDBNil           = errors.New("database handle is nil")
)

// StatusCode maps a service error to the HTTP status used by handlers and
// realtime error events.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNotAFolder),
		errors.Is(err, ErrFolderCycle),
		errors.Is(err, ErrSettingKeyEmpty),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotFamilyMember),
		errors.Is(err, ErrNotParticipant),
		errors.Is(err, ErrNotRoomCreator),
		errors.Is(err, ErrNotMessageSender):
		return http.StatusForbidden
	case errors.Is(err, ErrFileNotFound),
		errors.Is(err, ErrFolderNotFound),
		errors.Is(err, ErrFamilyNotFound),
		errors.Is(err, ErrMemberNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrSettingNotFound),
		errors.Is(err, storage.ErrObjectNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyMember):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
