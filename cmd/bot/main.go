package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wardenbot/warden/internal/platform"
	"github.com/wardenbot/warden/internal/setup"
	"go.uber.org/zap"
)

const (
	// BotLogDir specifies where bot log files are stored.
	BotLogDir = "logs/bot_logs"
)

func main() {
	ctx := context.Background()

	// The log client stands in for a real messaging platform adapter; it
	// records every enforcement call instead of performing it.
	platformLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create platform logger: %v", err)
	}

	// Initialize application with required dependencies
	app, err := setup.InitializeApp(ctx, platform.NewLogClient(platformLogger), BotLogDir)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.CleanupApp()

	// Restore verification timers that survived the last shutdown
	if err := app.Engine.Start(ctx); err != nil {
		log.Printf("Failed to restore engine state: %v", err)
		return
	}

	log.Println("Engine has been started. Waiting for interrupt signal to gracefully shutdown...")

	// Wait for interrupt signal to gracefully shutdown the engine
	// This ensures all pending actions are applied before closing
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc
}
