package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hourse/backend/internal/services"
)

// Client -> server events.
const (
	EventJoinChat       = "join-chat"
	EventLeaveChat      = "leave-chat"
	EventSendMessage    = "send-message"
	EventUpdateMessage  = "update-message"
	EventDeleteMessage  = "delete-message"
	EventPinMessage     = "pin-message"
	EventAddReaction    = "add-reaction"
	EventRemoveReaction = "remove-reaction"
	EventTyping         = "typing"
	EventStopTyping     = "stop-typing"
	EventMarkRead       = "mark-messages-read"
)

// Server -> client events.
const (
	EventChatJoined        = "chat-joined"
	EventChatLeft          = "chat-left"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventNewMessage        = "new-message"
	EventMessageError      = "message-error"
	EventMessageUpdated    = "message-updated"
	EventMessageDeleted    = "message-deleted"
	EventMessagePinned     = "message-pinned"
	EventReactionAdded     = "reaction-added"
	EventReactionRemoved   = "reaction-removed"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventMessagesRead      = "messages-read"
	EventError             = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outgoing struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(outgoing{Event: event, Data: data})
}

type roomPayload struct {
	RoomID string `json:"roomId" validate:"required,uuid"`
}

type sendMessagePayload struct {
	RoomID   string                 `json:"roomId" validate:"required,uuid"`
	Content  string                 `json:"content"`
	Type     string                 `json:"type" validate:"omitempty,oneof=text image file system location"`
	ReplyTo  string                 `json:"replyTo" validate:"omitempty,uuid"`
	ClientID string                 `json:"clientId" validate:"omitempty,max=100"`
	Metadata map[string]interface{} `json:"metadata"`
}

type messagePayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
}

type updateMessagePayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	Content   string `json:"content" validate:"required"`
}

type pinMessagePayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	Pinned    *bool  `json:"pinned" validate:"required"`
}

type reactionPayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	Emoji     string `json:"emoji" validate:"required,max=64"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode unmarshals and validates an event payload. Failures wrap
// services.ErrInvalidInput so they surface as code 400.
func decode(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: invalid payload", services.ErrInvalidInput)
	}
	if err := validate.Struct(out); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) && len(errs) > 0 {
			fe := errs[0]
			switch fe.Tag() {
			case "required":
				return fmt.Errorf("%w: %s is required", services.ErrInvalidInput, fe.Field())
			case "oneof":
				return fmt.Errorf("%w: %s must be one of: %s", services.ErrInvalidInput, fe.Field(), fe.Param())
			default:
				return fmt.Errorf("%w: invalid %s", services.ErrInvalidInput, fe.Field())
			}
		}
		return fmt.Errorf("%w: %v", services.ErrInvalidInput, err)
	}
	return nil
}

// RoomKey names the socket room that mirrors a chat room.
func RoomKey(roomID fmt.Stringer) string {
	return "chat:" + roomID.String()
}
