package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chatsync/internal/hub"
	"chatsync/internal/model"
	"chatsync/internal/store"
	"chatsync/internal/stream"
)

type ChatHandler struct {
	Store  *store.Store
	Hub    *hub.Hub
	Logger *slog.Logger
}

type participantBody struct {
	Email string `json:"email"`
}

func (h *ChatHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Store.ListChats(userID))
}

func (h *ChatHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var body model.ChatCreate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	chat, err := h.Store.CreateChat(userID, body.Title, body.ParticipantIDs, time.Now())
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *ChatHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := paramID(c)
	if !ok {
		return
	}
	chat, err := h.Store.GetChat(userID, chatID)
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) Update(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := paramID(c)
	if !ok {
		return
	}
	var body model.ChatUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	before, err := h.Store.GetChat(userID, chatID)
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	chat, err := h.Store.UpdateChat(userID, chatID, body.Title, body.ParticipantIDs)
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	for _, p := range before.Participants {
		if !chat.HasParticipant(p.ID) {
			h.Hub.CloseUser(chatID, p.ID, stream.CloseNotParticipant, "removed from chat")
		}
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.Store.DeleteChat(userID, chatID); err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	h.Hub.CloseChat(chatID, stream.CloseNotFound, "chat deleted")
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) AddParticipant(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := paramID(c)
	if !ok {
		return
	}
	var body participantBody
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}
	chat, err := h.Store.AddParticipant(userID, chatID, body.Email)
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) RemoveParticipant(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := paramID(c)
	if !ok {
		return
	}
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}
	removed, _, found := h.Store.UserByEmail(email)
	chat, err := h.Store.RemoveParticipant(userID, chatID, email)
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	if found {
		h.Hub.CloseUser(chatID, removed.ID, stream.CloseNotParticipant, "removed from chat")
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) Leave(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.Store.LeaveChat(userID, chatID); err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	h.Hub.CloseUser(chatID, userID, stream.CloseNormal, "left chat")
	c.Status(http.StatusNoContent)
}
