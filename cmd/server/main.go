// cmd/server/main.go
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/SinaHo/phone-auth-backend/internal/config"
	"github.com/SinaHo/phone-auth-backend/internal/logger"
	"github.com/SinaHo/phone-auth-backend/internal/server"
)

func main() {
	cfg, err := config.LoadConfig("internal/config")
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer log.Sync()

	app, err := server.NewAppServer(cfg, log)
	if err != nil {
		log.Sugar().Fatalf("failed to initialize server: %v", err)
	}

	// Start servers in a goroutine
	go func() {
		if err := app.Run(); err != nil {
			log.Sugar().Fatalf("server run error: %v", err)
		}
	}()

	// Wait for interrupt (SIGINT/SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Sugar().Info("Received shutdown signal")
	app.GracefulStop()
	log.Sugar().Info("Server stopped")
}
