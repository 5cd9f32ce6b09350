package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hourse/backend/internal/metrics"
	"github.com/hourse/backend/pkg/logger"
)

// Hub tracks connected clients and the socket rooms they joined. Fan-out is
// local to this process.
type Hub struct {
	clients    map[*Client]struct{}
	rooms      map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	// onRemove runs after a client is dropped; set before Run.
	onRemove func(*Client)
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run handles registration until Shutdown is called. Registered clients get
// their read and write pumps started here.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeConnections()
			return

		case client := <-h.register:
			if client == nil {
				continue
			}
			h.add(client)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// Register hands a client to the hub. It returns false once the hub is
// shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) release(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		h.remove(c)
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.RealtimeConnections.Inc()
	logger.InfoWithUser(c.UserID(), "realtime_connected", map[string]interface{}{
		"connection_id": c.id,
		"remote_addr":   c.addr,
		"clients":       count,
	})
}

// remove drops the client from every room and closes its send channel.
// Calling it twice is a no-op.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	c.closed = true
	count := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	c.cancel()
	if h.onRemove != nil {
		h.onRemove(c)
	}

	metrics.RealtimeConnections.Dec()
	logger.InfoWithUser(c.UserID(), "realtime_disconnected", map[string]interface{}{
		"connection_id": c.id,
		"clients":       count,
	})
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// EvictUsers removes every socket of the given users from room and returns
// the evicted clients.
func (h *Hub) EvictUsers(room string, userIDs []uuid.UUID) []*Client {
	wanted := make(map[uuid.UUID]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var evicted []*Client
	for c := range h.rooms[room] {
		if c.user == nil {
			continue
		}
		if _, ok := wanted[c.user.ID]; ok {
			evicted = append(evicted, c)
		}
	}
	for _, c := range evicted {
		h.leaveLocked(c, room)
	}
	return evicted
}

func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// EmitToRoom queues an event for every socket in room except the given one
// and returns how many sockets it reached. Clients whose buffer is full are
// disconnected.
func (h *Hub) EmitToRoom(room, event string, data interface{}, except *Client) int {
	payload, err := encode(event, data)
	if err != nil {
		logger.Error("realtime_encode_failed", err, map[string]interface{}{"event": event})
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	var failed []*Client
	for _, c := range targets {
		if h.safeSend(c, payload) {
			sent++
		} else {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		logger.Warn("realtime_send_buffer_full", map[string]interface{}{"connection_id": c.id})
		h.remove(c)
	}
	return sent
}

func (h *Hub) EmitToClient(c *Client, event string, data interface{}) bool {
	payload, err := encode(event, data)
	if err != nil {
		logger.Error("realtime_encode_failed", err, map[string]interface{}{"event": event})
		return false
	}
	return h.safeSend(c, payload)
}

func (h *Hub) safeSend(c *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; !ok || c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) closeConnections() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.cancel()
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				logger.Warn("realtime_close_failed", map[string]interface{}{
					"connection_id": c.id,
					"error":         err.Error(),
				})
			}
		}
	}
	logger.Info("realtime_connections_closed", map[string]interface{}{"count": len(clients)})
}

// Shutdown stops Run, closes every connection and waits for the pumps to
// exit, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
