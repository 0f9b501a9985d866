package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/internal/auth"
	"chatsync/internal/handler"
	"chatsync/internal/hub"
	"chatsync/internal/logging"
	"chatsync/internal/metrics"
	"chatsync/internal/middleware"
	"chatsync/internal/store"
)

type Deps struct {
	Store       *store.Store
	TokenConfig auth.TokenConfig
	Logger      *slog.Logger
	// Registry receives the backend collectors and backs /metrics. A fresh
	// registry is used when nil.
	Registry *prometheus.Registry
	Now      func() time.Time
}

func NewRouter(deps Deps) *gin.Engine {
	logger := logging.OrDefault(deps.Logger)
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	loginLimiter := middleware.NewRateLimiter(10, time.Minute)
	authHandler := &handler.AuthHandler{Store: deps.Store, TokenConfig: deps.TokenConfig, LoginLimiter: loginLimiter, Logger: logger}
	userHandler := &handler.UserHandler{Store: deps.Store, Logger: logger}

	r.POST("/auth/login", authHandler.Login)
	r.POST("/users/", middleware.RateLimitMiddleware(middleware.NewRateLimiter(10, time.Minute)), userHandler.Register)

	requireAuth := middleware.RequireAuth(deps.TokenConfig)
	r.GET("/users/me", requireAuth, userHandler.Me)

	wsHub := hub.New()

	chats := r.Group("/chats", requireAuth)
	chatHandler := &handler.ChatHandler{Store: deps.Store, Hub: wsHub, Logger: logger}
	chats.GET("/", chatHandler.List)
	chats.POST("/", chatHandler.Create)
	chats.GET("/:id", chatHandler.Get)
	chats.PUT("/:id", chatHandler.Update)
	chats.DELETE("/:id", chatHandler.Delete)
	chats.POST("/:id/participants", chatHandler.AddParticipant)
	chats.DELETE("/:id/participants", chatHandler.RemoveParticipant)
	chats.POST("/:id/leave", chatHandler.Leave)

	messages := r.Group("/messages", requireAuth)
	messageHandler := &handler.MessageHandler{Store: deps.Store, Hub: wsHub, Metrics: m, Logger: logger, Now: deps.Now}
	messages.GET("/:id", messageHandler.List)
	messages.POST("/:id", messageHandler.Send)
	messages.PATCH("/:id", messageHandler.Edit)
	messages.DELETE("/:id", messageHandler.Delete)

	wsHandler := &handler.WebSocketHandler{Hub: wsHub, Store: deps.Store, TokenConfig: deps.TokenConfig, Logger: logger}
	r.GET("/ws/chats/:id", wsHandler.Serve)

	return r
}
