package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"apibridge/internal/common/logging"
	"apibridge/internal/config"
	"apibridge/internal/handlers"
	"apibridge/internal/server"
)

// Run is the main entry point for the application.
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	runtime.GOMAXPROCS(runtime.NumCPU())

	// Initialize logging
	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting API bridge",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
		logging.Field{Key: "version", Value: "1.0.0"},
	)

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	// Initialize application
	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if err := app.Start(); err != nil {
		logging.Error("Failed to start background refresh", err)
		return err
	}

	// Build routes and start server
	router := mux.NewRouter()
	h := handlers.New(app.Auth, app.Client, app.Scheduler)
	SetupRoutes(router, h)

	srv := server.New(router, cfg.Port, cfg.TLSCert, cfg.TLSKey)
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
