package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/xiaonanln/oambridge/cmd/oam-bridge/bridgeconfig"
	"github.com/xiaonanln/oambridge/server"
	"github.com/xiaonanln/oambridge/util/logger"
)

func main() {
	cfg := bridgeconfig.Get()

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Invalid logging configuration: %v", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting oam-bridge: gRPC %s, HTTP %s, homeserver %s",
		cfg.Bridge.GRPCAddr, cfg.Bridge.HTTPAddr, cfg.Chat.HomeserverURL)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
