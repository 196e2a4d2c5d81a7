package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"fitgrid-session/internal/config"
	"fitgrid-session/internal/logging"
	"fitgrid-session/internal/service"
)

func main() {
	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, "fitgrid-session")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting fitgrid-session service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.ConnectSessionService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create session service", zap.Error(err))
	}

	sessionID := svc.StartSession(os.Getenv("SESSION_ID"))
	log.Info("Recording session", zap.String("session_id", sessionID))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := svc.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("Service error", zap.Error(err))
	}
	cancel()

	// a finished session is persisted on the way out; wait for the outcome
	if done, err := svc.Finish(context.Background(), false); err != nil {
		log.Error("Session not persisted", zap.Error(err))
	} else if err := <-done; err != nil {
		log.Error("Session save failed", zap.Error(err))
	}

	if err := svc.Stop(context.Background()); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
