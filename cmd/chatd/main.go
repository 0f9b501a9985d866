package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"chatsync/internal/auth"
	"chatsync/internal/config"
	"chatsync/internal/logging"
	"chatsync/internal/server"
	"chatsync/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.New(os.Stderr, "info").Warn("load .env", "err", err)
	}

	cfg, err := config.LoadServer()
	if err != nil {
		logging.New(os.Stderr, "info").Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	gin.SetMode(cfg.GinMode)
	st := store.NewWithOptions(store.Options{StateFile: cfg.StateFile, Logger: logger})

	tokenCfg := auth.DefaultTokenConfig(cfg.MasterSecret)
	tokenCfg.Expiry = cfg.TokenExpiry()

	router := server.NewRouter(server.Deps{Store: st, TokenConfig: tokenCfg, Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Run(ctx, cfg, router, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
