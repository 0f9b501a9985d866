package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatsync/internal/auth"
	"chatsync/internal/hub"
	"chatsync/internal/store"
	"chatsync/internal/stream"
)

type WebSocketHandler struct {
	Hub         *hub.Hub
	Store       *store.Store
	TokenConfig auth.TokenConfig
	Logger      *slog.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

// wsWriter serializes writes; gorilla allows one concurrent writer.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *wsWriter) Close(code int, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return w.conn.Close()
}

// Serve upgrades GET /ws/chats/:id?token=... and streams the chat's events.
// Rejections are signalled with close codes after the upgrade.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	writer := &wsWriter{conn: ws}

	claims, err := auth.VerifyToken(c.Query("token"), h.TokenConfig)
	if err != nil {
		_ = writer.Close(stream.CloseAuthFailed, "Authentication failed")
		return
	}
	if err := h.Store.IsParticipant(claims.UserID, chatID); err != nil {
		code := stream.CloseNotParticipant
		if errors.Is(err, store.ErrChatNotFound) {
			code = stream.CloseNotFound
		}
		_ = writer.Close(code, err.Error())
		return
	}

	conn := &hub.Connection{ChatID: chatID, UserID: claims.UserID, Writer: writer}
	h.Hub.Register(conn)
	h.Logger.Debug("stream subscribed", "chat_id", chatID, "user_id", claims.UserID)
	defer func() {
		h.Hub.Unregister(conn)
		_ = ws.Close()
	}()

	ws.SetReadLimit(64 * 1024)
	pingPeriod := (pongWait * 9) / 10

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writer.ping(); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	// The channel is push-only; reads only drive control frames.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
