package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/internal/services"
	"github.com/hourse/backend/pkg/logger"
)

var errNotInRoom = fmt.Errorf("%w: join the chat first", services.ErrNotParticipant)

func parseID(raw string) uuid.UUID {
	// payloads are validated as uuids before this runs
	id, _ := uuid.Parse(raw)
	return id
}

func (g *Gateway) joinChat(ctx context.Context, c *Client, data json.RawMessage) error {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	room, err := g.Chat.RequireParticipant(ctx, parseID(p.RoomID), c.user.ID)
	if err != nil {
		return err
	}

	key := RoomKey(room.ID)
	g.Hub.Join(c, key)
	g.Hub.EmitToClient(c, EventChatJoined, map[string]interface{}{"roomId": room.ID})
	g.Hub.EmitToRoom(key, EventUserJoined, map[string]interface{}{
		"roomId": room.ID,
		"userId": c.user.ID,
	}, c)

	logger.InfoWithUser(c.UserID(), "chat_joined", map[string]interface{}{"room_id": room.ID.String()})
	return nil
}

func (g *Gateway) leaveChat(_ context.Context, c *Client, data json.RawMessage) error {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	roomID := parseID(p.RoomID)
	key := RoomKey(roomID)

	joined := g.Hub.InRoom(c, key)
	g.Hub.Leave(c, key)
	g.Hub.EmitToClient(c, EventChatLeft, map[string]interface{}{"roomId": roomID})
	if joined {
		g.Hub.EmitToRoom(key, EventUserLeft, map[string]interface{}{
			"roomId": roomID,
			"userId": c.user.ID,
		}, nil)
	}
	return nil
}

// AccessRevoked drops the users' sockets from the family's rooms once their
// membership is gone, so they stop receiving room traffic.
func (g *Gateway) AccessRevoked(familyID uuid.UUID, userIDs, roomIDs []uuid.UUID) {
	for _, roomID := range roomIDs {
		key := RoomKey(roomID)
		for _, c := range g.Hub.EvictUsers(key, userIDs) {
			g.Hub.EmitToClient(c, EventChatLeft, map[string]interface{}{
				"roomId": roomID,
				"reason": "removed",
			})
			g.Hub.EmitToRoom(key, EventUserLeft, map[string]interface{}{
				"roomId": roomID,
				"userId": c.user.ID,
			}, nil)
			logger.InfoWithUser(c.UserID(), "chat_access_revoked", map[string]interface{}{
				"family_id":     familyID.String(),
				"room_id":       roomID.String(),
				"connection_id": c.id,
			})
		}
	}
}

// sendMessage persists with bounded retries. Exhausted retries are reported
// to the sender as message-error rather than error so clients can resend.
func (g *Gateway) sendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p sendMessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if c.user == nil {
		return fmt.Errorf("%w: unauthenticated", services.ErrForbidden)
	}

	in := services.SendMessageInput{
		RoomID:   parseID(p.RoomID),
		SenderID: c.user.ID,
		Content:  p.Content,
		Type:     models.MessageType(p.Type),
		ClientID: p.ClientID,
		Metadata: p.Metadata,
	}
	if p.ReplyTo != "" {
		replyTo := parseID(p.ReplyTo)
		in.ReplyTo = &replyTo
	}

	msg, err := g.Chat.SendMessage(ctx, in)
	if errors.Is(err, services.ErrSendExhausted) || (err != nil && ctx.Err() != nil) {
		g.Hub.EmitToClient(c, EventMessageError, map[string]interface{}{
			"clientId":  p.ClientID,
			"message":   "Failed to send message",
			"retryable": true,
		})
		return nil
	}
	if err != nil {
		return err
	}

	key := RoomKey(msg.RoomID)
	g.Hub.EmitToRoom(key, EventNewMessage, msg, nil)
	if !g.Hub.InRoom(c, key) {
		g.Hub.EmitToClient(c, EventNewMessage, msg)
	}
	return nil
}

func (g *Gateway) updateMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p updateMessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	msg, err := g.Chat.UpdateMessage(ctx, c.user.ID, parseID(p.MessageID), p.Content)
	if err != nil {
		return err
	}
	g.Hub.EmitToRoom(RoomKey(msg.RoomID), EventMessageUpdated, msg, nil)
	return nil
}

func (g *Gateway) deleteMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p messagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	msg, err := g.Chat.DeleteMessage(ctx, c.user.ID, parseID(p.MessageID))
	if err != nil {
		return err
	}
	g.Hub.EmitToRoom(RoomKey(msg.RoomID), EventMessageDeleted, map[string]interface{}{
		"messageId": msg.ID,
		"roomId":    msg.RoomID,
	}, nil)
	return nil
}

func (g *Gateway) pinMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p pinMessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	msg, err := g.Chat.SetPinned(ctx, c.user.ID, parseID(p.MessageID), *p.Pinned)
	if err != nil {
		return err
	}
	g.Hub.EmitToRoom(RoomKey(msg.RoomID), EventMessagePinned, map[string]interface{}{
		"messageId": msg.ID,
		"roomId":    msg.RoomID,
		"pinned":    msg.IsPinned,
	}, nil)
	return nil
}

func (g *Gateway) addReaction(ctx context.Context, c *Client, data json.RawMessage) error {
	var p reactionPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	msg, reactions, err := g.Chat.AddReaction(ctx, c.user.ID, parseID(p.MessageID), p.Emoji)
	if err != nil {
		return err
	}
	g.Hub.EmitToRoom(RoomKey(msg.RoomID), EventReactionAdded, map[string]interface{}{
		"messageId": msg.ID,
		"userId":    c.user.ID,
		"emoji":     p.Emoji,
		"reactions": reactions,
	}, nil)
	return nil
}

func (g *Gateway) removeReaction(ctx context.Context, c *Client, data json.RawMessage) error {
	var p reactionPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	msg, reactions, err := g.Chat.RemoveReaction(ctx, c.user.ID, parseID(p.MessageID), p.Emoji)
	if err != nil {
		return err
	}
	g.Hub.EmitToRoom(RoomKey(msg.RoomID), EventReactionRemoved, map[string]interface{}{
		"messageId": msg.ID,
		"userId":    c.user.ID,
		"emoji":     p.Emoji,
		"reactions": reactions,
	}, nil)
	return nil
}

// typing indicators are relayed only between sockets already in the room.
func (g *Gateway) typing(ctx context.Context, c *Client, data json.RawMessage) error {
	return g.relayTyping(ctx, c, data, EventUserTyping)
}

func (g *Gateway) stopTyping(ctx context.Context, c *Client, data json.RawMessage) error {
	return g.relayTyping(ctx, c, data, EventUserStoppedTyping)
}

func (g *Gateway) relayTyping(ctx context.Context, c *Client, data json.RawMessage, event string) error {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	roomID := parseID(p.RoomID)
	key := RoomKey(roomID)
	if !g.Hub.InRoom(c, key) {
		return errNotInRoom
	}
	if _, err := g.Chat.RequireParticipant(ctx, roomID, c.user.ID); err != nil {
		g.Hub.Leave(c, key)
		return err
	}
	g.Hub.EmitToRoom(key, event, map[string]interface{}{
		"roomId": roomID,
		"userId": c.user.ID,
	}, c)
	return nil
}

func (g *Gateway) markRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	roomID := parseID(p.RoomID)
	at, err := g.Chat.MarkRead(ctx, roomID, c.user.ID, time.Time{})
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"roomId":     roomID,
		"userId":     c.user.ID,
		"lastReadAt": at,
	}
	key := RoomKey(roomID)
	g.Hub.EmitToRoom(key, EventMessagesRead, payload, nil)
	if !g.Hub.InRoom(c, key) {
		g.Hub.EmitToClient(c, EventMessagesRead, payload)
	}
	return nil
}
