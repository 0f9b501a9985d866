package hub

import "sync"

type Writer interface {
	Write(message []byte) error
	// Close ends the connection with a websocket close code.
	Close(code int, reason string) error
}

type Connection struct {
	ChatID int64
	UserID int64
	Writer Writer
}

// Hub fans stream frames out to every connection subscribed to a chat.
type Hub struct {
	mu          sync.RWMutex
	connections map[int64]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[int64]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.ChatID] == nil {
		h.connections[conn.ChatID] = make(map[*Connection]struct{})
	}
	h.connections[conn.ChatID][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.ChatID]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.ChatID)
	}
}

// Count returns the number of live connections for chatID.
func (h *Hub) Count(chatID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[chatID])
}

func (h *Hub) snapshot(chatID int64, match func(*Connection) bool) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.connections[chatID]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		if match == nil || match(c) {
			conns = append(conns, c)
		}
	}
	return conns
}

func (h *Hub) Broadcast(chatID int64, message []byte) {
	var failed []*Connection
	for _, c := range h.snapshot(chatID, nil) {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close(1011, "write failed")
		h.Unregister(c)
	}
}

// CloseUser ends userID's connections to chatID, e.g. after removal.
func (h *Hub) CloseUser(chatID, userID int64, code int, reason string) {
	for _, c := range h.snapshot(chatID, func(c *Connection) bool { return c.UserID == userID }) {
		_ = c.Writer.Close(code, reason)
		h.Unregister(c)
	}
}

// CloseChat ends every connection to chatID.
func (h *Hub) CloseChat(chatID int64, code int, reason string) {
	for _, c := range h.snapshot(chatID, nil) {
		_ = c.Writer.Close(code, reason)
		h.Unregister(c)
	}
}
