package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatsync/internal/hub"
	"chatsync/internal/metrics"
	"chatsync/internal/store"
	"chatsync/internal/stream"
)

// MessageHandler serves /messages/:id. GET and POST take a chat id, PATCH
// and DELETE a message id.
type MessageHandler struct {
	Store   *store.Store
	Hub     *hub.Hub
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

type contentBody struct {
	Content string `json:"content"`
}

func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := paramID(c)
	if !ok {
		return
	}
	msgs, err := h.Store.ListMessages(userID, chatID)
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := paramID(c)
	if !ok {
		return
	}
	var body contentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	msg, err := h.Store.AppendMessage(userID, chatID, body.Content, h.now())
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	h.broadcast(stream.Event{Type: stream.NewMessage, ChatID: chatID, MessageID: msg.ID, Message: &msg})
	c.JSON(http.StatusCreated, msg)
}

func (h *MessageHandler) Edit(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := paramID(c)
	if !ok {
		return
	}
	var body contentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	msg, err := h.Store.EditMessage(userID, messageID, body.Content)
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	h.broadcast(stream.Event{Type: stream.MessageUpdated, ChatID: msg.ChatID, MessageID: msg.ID, Message: &msg})
	c.JSON(http.StatusOK, msg)
}

func (h *MessageHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := paramID(c)
	if !ok {
		return
	}
	msg, err := h.Store.DeleteMessage(userID, messageID)
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	h.broadcast(stream.Event{Type: stream.MessageDeleted, ChatID: msg.ChatID, MessageID: msg.ID})
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) broadcast(ev stream.Event) {
	out, err := stream.Encode(ev)
	if err != nil {
		h.Logger.Error("encode stream event", "type", ev.Type, "err", err)
		return
	}
	h.Metrics.Broadcast(string(ev.Type))
	h.Hub.Broadcast(ev.ChatID, out)
}

func (h *MessageHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
