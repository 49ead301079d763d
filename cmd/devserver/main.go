package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"go.uber.org/zap"

	"tttclient/internal/config"
	"tttclient/internal/devserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	srv := devserver.New(context.Background(), cfg.ServerKey, []byte(cfg.JWTSecret), logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, srv.Routes()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
