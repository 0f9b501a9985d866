package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/auth"
	"chatsync/internal/store"
)

type UserHandler struct {
	Store  *store.Store
	Logger *slog.Logger
}

type registerBody struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *UserHandler) Register(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if body.Password == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Password is required"})
		return
	}
	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	user, err := h.Store.CreateUser(body.Name, body.Email, hash)
	if err != nil {
		writeStoreError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *UserHandler) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	user, found := h.Store.User(userID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}
