package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hourse/backend/internal/metrics"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/pkg/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultMessagePage = 50
	MaxMessagePage     = 200
)

// ErrSendExhausted is returned by SendMessage once every insert attempt failed.
var ErrSendExhausted = errors.New("failed to send message after retries")

type ChatService struct {
	DB     *gorm.DB
	Access *AccessService

	// Attempts bounds the inserts of SendMessage. Delays[i] is waited after
	// failed attempt i unless it was the last one; the final delay repeats.
	Attempts int
	Delays   []time.Duration
}

func NewChatService(db *gorm.DB, access *AccessService, attempts int, delays []time.Duration) *ChatService {
	if attempts < 1 {
		attempts = 1
	}
	return &ChatService{DB: db, Access: access, Attempts: attempts, Delays: delays}
}

func (s *ChatService) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := s.DB.WithContext(ctx).First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// IsParticipant treats every member of the room's family as a participant.
// Per-room membership lists would plug in here.
func (s *ChatService) IsParticipant(ctx context.Context, room *models.ChatRoom, userID uuid.UUID) bool {
	return s.Access.IsFamilyMember(ctx, room.FamilyID, userID)
}

// RequireParticipant loads the room and checks the caller may use it.
func (s *ChatService) RequireParticipant(ctx context.Context, roomID, userID uuid.UUID) (*models.ChatRoom, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !s.IsParticipant(ctx, room, userID) {
		logger.WarnWithUser(userID.String(), "chat_not_participant", map[string]interface{}{
			"room_id": roomID.String(),
		})
		return nil, ErrNotParticipant
	}
	return room, nil
}

func (s *ChatService) ListRooms(ctx context.Context, userID uuid.UUID) ([]models.ChatRoom, error) {
	familyIDs, err := s.Access.FamilyIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rooms := make([]models.ChatRoom, 0)
	if len(familyIDs) == 0 {
		return rooms, nil
	}
	err = s.DB.WithContext(ctx).
		Where("family_id IN ?", familyIDs).
		Order("updated_at DESC").
		Find(&rooms).Error
	return rooms, err
}

type CreateRoomInput struct {
	FamilyID    uuid.UUID
	Name        string
	Description *string
	Type        models.ChatRoomType
}

// CreateRoom creates a room owned by userID, who must belong to the family.
func (s *ChatService) CreateRoom(ctx context.Context, userID uuid.UUID, in CreateRoomInput) (*models.ChatRoom, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	roomType := in.Type
	if roomType == "" {
		roomType = models.ChatRoomTypeGroup
	}
	if roomType != models.ChatRoomTypeGroup && roomType != models.ChatRoomTypeDirect {
		return nil, fmt.Errorf("%w: unknown room type %q", ErrInvalidInput, roomType)
	}
	if !s.Access.IsFamilyMember(ctx, in.FamilyID, userID) {
		return nil, ErrNotFamilyMember
	}

	room := models.ChatRoom{
		FamilyID:    in.FamilyID,
		Name:        name,
		Description: in.Description,
		Type:        roomType,
		CreatedByID: userID,
	}
	if err := s.DB.WithContext(ctx).Create(&room).Error; err != nil {
		return nil, err
	}

	logger.InfoWithUser(userID.String(), "chat_room_created", map[string]interface{}{
		"room_id":   room.ID.String(),
		"family_id": in.FamilyID.String(),
	})
	return &room, nil
}

// DeleteRoom soft-deletes the room and its messages. Creator only.
func (s *ChatService) DeleteRoom(ctx context.Context, userID, roomID uuid.UUID) error {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.CreatedByID != userID {
		return ErrNotRoomCreator
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", room.ID).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(room).Error
	})
}

// ListMessages returns live messages newest first, optionally older than before.
func (s *ChatService) ListMessages(ctx context.Context, roomID uuid.UUID, before *time.Time, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultMessagePage
	}
	if limit > MaxMessagePage {
		limit = MaxMessagePage
	}

	query := s.DB.WithContext(ctx).Preload("Sender").Where("room_id = ?", roomID)
	if before != nil {
		query = query.Where("created_at < ?", *before)
	}

	messages := make([]models.ChatMessage, 0)
	if err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	if err := s.attachReactions(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *ChatService) attachReactions(ctx context.Context, messages []models.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(messages))
	for i := range messages {
		ids[i] = messages[i].ID
	}
	byMessage, err := s.ListReactions(ctx, ids)
	if err != nil {
		return err
	}
	for i := range messages {
		messages[i].Reactions = byMessage[messages[i].ID]
		if messages[i].Reactions == nil {
			messages[i].Reactions = []models.ChatMessageReaction{}
		}
	}
	return nil
}

// CreateMessage is a single insert without retries.
func (s *ChatService) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	return s.DB.WithContext(ctx).Create(msg).Error
}

type SendMessageInput struct {
	RoomID   uuid.UUID
	SenderID uuid.UUID
	Content  string
	Type     models.MessageType
	ReplyTo  *uuid.UUID
	ClientID string
	Metadata map[string]interface{}
}

// SendMessage validates the caller, inserts with bounded retries and returns
// the stored message with its (empty) reaction list. Every failed attempt,
// the last one included, is followed by its delay, so the defaults wait
// 1s+2s+4s before ErrSendExhausted is returned.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*models.ChatMessage, error) {
	if in.SenderID == uuid.Nil {
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidInput)
	}
	msgType := in.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, msgType)
	}
	content := strings.TrimSpace(in.Content)
	if in.RoomID == uuid.Nil || (content == "" && msgType == models.MessageTypeText) {
		return nil, fmt.Errorf("%w: roomId and content are required", ErrInvalidInput)
	}

	if _, err := s.RequireParticipant(ctx, in.RoomID, in.SenderID); err != nil {
		return nil, err
	}

	if in.ReplyTo != nil {
		var parent models.ChatMessage
		err := s.DB.WithContext(ctx).Select("id", "room_id").First(&parent, "id = ?", *in.ReplyTo).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if err != nil || parent.RoomID != in.RoomID {
			return nil, fmt.Errorf("%w: replyTo must reference a message in this room", ErrInvalidInput)
		}
	}

	metadata := datatypes.JSONMap{}
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	if in.ClientID != "" {
		metadata["clientId"] = in.ClientID
	}

	var msg *models.ChatMessage
	var lastErr error
	for attempt := 0; attempt < s.Attempts; attempt++ {
		candidate := &models.ChatMessage{
			RoomID:    in.RoomID,
			SenderID:  in.SenderID,
			Content:   content,
			Type:      msgType,
			ReplyToID: in.ReplyTo,
			Metadata:  metadata,
		}
		lastErr = s.CreateMessage(ctx, candidate)
		if lastErr == nil {
			msg = candidate
			break
		}

		metrics.ChatSendRetries.Inc()
		logger.WarnWithUser(in.SenderID.String(), "chat_send_attempt_failed", map[string]interface{}{
			"room_id":   in.RoomID.String(),
			"attempt":   attempt + 1,
			"client_id": in.ClientID,
			"error":     lastErr.Error(),
		})
		if err := sleepContext(ctx, s.delay(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	if msg == nil {
		logger.ErrorWithUser(in.SenderID.String(), "chat_send_failed", lastErr, map[string]interface{}{
			"room_id":   in.RoomID.String(),
			"client_id": in.ClientID,
			"attempts":  s.Attempts,
		})
		return nil, fmt.Errorf("%w: %v", ErrSendExhausted, lastErr)
	}

	var sender models.User
	if err := s.DB.WithContext(ctx).First(&sender, "id = ?", msg.SenderID).Error; err == nil {
		msg.Sender = sender
	}
	msg.Reactions = []models.ChatMessageReaction{}

	if err := s.DB.WithContext(ctx).Model(&models.ChatRoom{}).Where("id = ?", msg.RoomID).Update("updated_at", time.Now()).Error; err != nil {
		logger.Warn("chat_room_touch_failed", map[string]interface{}{
			"room_id": msg.RoomID.String(),
			"error":   err.Error(),
		})
	}
	return msg, nil
}

func (s *ChatService) delay(attempt int) time.Duration {
	if len(s.Delays) == 0 {
		return 0
	}
	if attempt >= len(s.Delays) {
		return s.Delays[len(s.Delays)-1]
	}
	return s.Delays[attempt]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// message loads a live message and checks the caller participates in its room.
func (s *ChatService) message(ctx context.Context, userID, messageID uuid.UUID) (*models.ChatMessage, *models.ChatRoom, error) {
	var msg models.ChatMessage
	if err := s.DB.WithContext(ctx).First(&msg, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrMessageNotFound
		}
		return nil, nil, err
	}
	room, err := s.RequireParticipant(ctx, msg.RoomID, userID)
	if err != nil {
		return nil, nil, err
	}
	return &msg, room, nil
}

// UpdateMessage edits the content of a live message. Sender only.
func (s *ChatService) UpdateMessage(ctx context.Context, userID, messageID uuid.UUID, content string) (*models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}

	msg, _, err := s.message(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrNotMessageSender
	}

	now := time.Now()
	if err := s.DB.WithContext(ctx).Model(msg).Updates(map[string]interface{}{
		"content":   content,
		"edited_at": now,
	}).Error; err != nil {
		return nil, err
	}
	msg.Content = content
	msg.EditedAt = &now

	reactions, err := s.reactionsFor(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	msg.Reactions = reactions
	return msg, nil
}

// DeleteMessage soft-deletes a message. The sender or the room creator may do it.
func (s *ChatService) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) (*models.ChatMessage, error) {
	msg, room, err := s.message(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID && room.CreatedByID != userID {
		return nil, ErrNotMessageSender
	}

	if err := s.DB.WithContext(ctx).Delete(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *ChatService) SetPinned(ctx context.Context, userID, messageID uuid.UUID, pinned bool) (*models.ChatMessage, error) {
	msg, _, err := s.message(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Model(msg).Update("is_pinned", pinned).Error; err != nil {
		return nil, err
	}
	msg.IsPinned = pinned
	return msg, nil
}

// AddReaction is idempotent: a repeated (message, user, emoji) is ignored.
func (s *ChatService) AddReaction(ctx context.Context, userID, messageID uuid.UUID, emoji string) (*models.ChatMessage, []models.ChatMessageReaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, nil, fmt.Errorf("%w: emoji is required", ErrInvalidInput)
	}
	msg, _, err := s.message(ctx, userID, messageID)
	if err != nil {
		return nil, nil, err
	}

	reaction := models.ChatMessageReaction{MessageID: msg.ID, UserID: userID, Emoji: emoji}
	err = s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}, {Name: "emoji"}},
			DoNothing: true,
		}).
		Create(&reaction).Error
	if err != nil {
		return nil, nil, err
	}

	reactions, err := s.reactionsFor(ctx, msg.ID)
	return msg, reactions, err
}

func (s *ChatService) RemoveReaction(ctx context.Context, userID, messageID uuid.UUID, emoji string) (*models.ChatMessage, []models.ChatMessageReaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, nil, fmt.Errorf("%w: emoji is required", ErrInvalidInput)
	}
	msg, _, err := s.message(ctx, userID, messageID)
	if err != nil {
		return nil, nil, err
	}

	err = s.DB.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", msg.ID, userID, emoji).
		Delete(&models.ChatMessageReaction{}).Error
	if err != nil {
		return nil, nil, err
	}

	reactions, err := s.reactionsFor(ctx, msg.ID)
	return msg, reactions, err
}

func (s *ChatService) reactionsFor(ctx context.Context, messageID uuid.UUID) ([]models.ChatMessageReaction, error) {
	byMessage, err := s.ListReactions(ctx, []uuid.UUID{messageID})
	if err != nil {
		return nil, err
	}
	if reactions := byMessage[messageID]; reactions != nil {
		return reactions, nil
	}
	return []models.ChatMessageReaction{}, nil
}

func (s *ChatService) ListReactions(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]models.ChatMessageReaction, error) {
	out := make(map[uuid.UUID][]models.ChatMessageReaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}

	var reactions []models.ChatMessageReaction
	if err := s.DB.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("created_at ASC").
		Find(&reactions).Error; err != nil {
		return nil, err
	}
	for _, r := range reactions {
		out[r.MessageID] = append(out[r.MessageID], r)
	}
	return out, nil
}

// MarkRead upserts the caller's read marker for the room.
func (s *ChatService) MarkRead(ctx context.Context, roomID, userID uuid.UUID, at time.Time) (time.Time, error) {
	if _, err := s.RequireParticipant(ctx, roomID, userID); err != nil {
		return time.Time{}, err
	}
	if at.IsZero() {
		at = time.Now()
	}

	read := models.ChatMessageRead{RoomID: roomID, UserID: userID, LastReadAt: at}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_read_at", "updated_at"}),
		}).
		Create(&read).Error
	if err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// UnreadCount counts live messages from others newer than the read marker.
func (s *ChatService) UnreadCount(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	if _, err := s.RequireParticipant(ctx, roomID, userID); err != nil {
		return 0, err
	}

	query := s.DB.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("room_id = ? AND sender_id <> ?", roomID, userID)

	var read models.ChatMessageRead
	err := s.DB.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).First(&read).Error
	switch {
	case err == nil:
		query = query.Where("created_at > ?", read.LastReadAt)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, err
	}

	var count int64
	err = query.Count(&count).Error
	return count, err
}
