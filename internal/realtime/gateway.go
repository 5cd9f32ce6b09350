// Package realtime is the websocket chat gateway: a hub of authenticated
// connections grouped into chat rooms, speaking {event, data} envelopes.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/hourse/backend/internal/config"
	"github.com/hourse/backend/internal/metrics"
	"github.com/hourse/backend/internal/middleware"
	"github.com/hourse/backend/internal/services"
	"github.com/hourse/backend/pkg/logger"
)

const defaultMaxMessageSize = 64 * 1024

type eventHandler func(ctx context.Context, c *Client, data json.RawMessage) error

type Gateway struct {
	Hub     *Hub
	Chat    *services.ChatService
	Auth    *middleware.AuthMiddleware
	Limiter Limiter

	upgrader       websocket.Upgrader
	maxMessageSize int64
	handlers       map[string]eventHandler
}

func NewGateway(hub *Hub, chat *services.ChatService, auth *middleware.AuthMiddleware, limiter Limiter, cfg config.RealtimeConfig) *Gateway {
	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}

	g := &Gateway{
		Hub:     hub,
		Chat:    chat,
		Auth:    auth,
		Limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewOriginPolicy(cfg.AllowedOrigins).Check,
		},
		maxMessageSize: maxSize,
	}
	if limiter != nil {
		hub.onRemove = func(c *Client) { limiter.Forget(c.id) }
	}
	g.handlers = map[string]eventHandler{
		EventJoinChat:       g.joinChat,
		EventLeaveChat:      g.leaveChat,
		EventSendMessage:    g.sendMessage,
		EventUpdateMessage:  g.updateMessage,
		EventDeleteMessage:  g.deleteMessage,
		EventPinMessage:     g.pinMessage,
		EventAddReaction:    g.addReaction,
		EventRemoveReaction: g.removeReaction,
		EventTyping:         g.typing,
		EventStopTyping:     g.stopTyping,
		EventMarkRead:       g.markRead,
	}
	return g
}

// Handler serves /ws and a plain /health on the realtime listener.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.ServeWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	})
	return mux
}

// tokenFromRequest returns the bearer token and where it was found.
func tokenFromRequest(r *http.Request) (string, string) {
	if token, ok := middleware.BearerToken(r.Header.Get("Authorization")); ok {
		return token, "header"
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, "query"
	}
	return "", "none"
}

// ServeWS authenticates the request and upgrades it. Unauthenticated
// requests get a 401 envelope and no upgrade.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody(http.StatusMethodNotAllowed, "websocket endpoint only accepts GET"))
		return
	}

	requestID := middleware.RequestID(r.Header.Get(middleware.RequestIDHeader))
	token, source := tokenFromRequest(r)
	details := map[string]interface{}{
		"request_id":   requestID,
		"remote_addr":  r.RemoteAddr,
		"origin":       r.Header.Get("Origin"),
		"user_agent":   r.UserAgent(),
		"token_source": source,
	}

	user, err := g.Auth.Authenticate(token)
	if err != nil {
		details["error"] = err.Error()
		logger.Warn("realtime_auth_failed", details)
		w.Header().Set(middleware.RequestIDHeader, requestID)
		writeJSON(w, http.StatusUnauthorized, errorBody(http.StatusUnauthorized, err.Error()))
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, http.Header{middleware.RequestIDHeader: []string{requestID}})
	if err != nil {
		details["error"] = err.Error()
		logger.WarnWithUser(user.ID.String(), "realtime_upgrade_failed", details)
		return
	}
	logger.InfoWithUser(user.ID.String(), "realtime_authenticated", details)
	conn.SetReadLimit(g.maxMessageSize)

	client := newClient(g.Hub, conn, user, r.RemoteAddr, g.dispatch)
	if !g.Hub.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
	}
}

func errorBody(status int, message string) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"error":   http.StatusText(status),
		"message": message,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// dispatch runs one inbound frame on the client's read goroutine.
func (g *Gateway) dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		g.fail(c, "", errors.New("invalid message"), http.StatusBadRequest)
		return
	}

	handler, ok := g.handlers[env.Event]
	if !ok {
		metrics.RealtimeEvents.WithLabelValues("unknown", "rejected").Inc()
		g.fail(c, env.Event, errors.New("unknown event"), http.StatusBadRequest)
		return
	}

	if g.Limiter != nil {
		allowed, err := g.Limiter.Allow(c.ctx, c.id)
		if err != nil {
			logger.Warn("realtime_rate_limiter_failed", map[string]interface{}{"error": err.Error()})
		}
		if !allowed {
			metrics.RealtimeEvents.WithLabelValues(env.Event, "limited").Inc()
			g.fail(c, env.Event, errors.New("rate limit exceeded"), http.StatusTooManyRequests)
			return
		}
	}

	err := handler(c.ctx, c, env.Data)
	metrics.RealtimeEvents.WithLabelValues(env.Event, metrics.Outcome(err)).Inc()
	if err != nil {
		g.fail(c, env.Event, err, services.StatusCode(err))
	}
}

// fail sends an error event to the caller. Internal errors are logged and
// replaced with a generic message.
func (g *Gateway) fail(c *Client, event string, err error, code int) {
	message := err.Error()
	if code >= http.StatusInternalServerError {
		logger.ErrorWithUser(c.UserID(), "realtime_event_failed", err, map[string]interface{}{"event": event})
		message = "internal error"
	}
	g.Hub.EmitToClient(c, EventError, map[string]interface{}{
		"event":   event,
		"message": message,
		"code":    code,
	})
}

// Close releases the limiter's resources, if it holds any.
func (g *Gateway) Close() error {
	if closer, ok := g.Limiter.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
