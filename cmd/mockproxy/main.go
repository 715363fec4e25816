// Command mockproxy serves a simulated tour-operator proxy for local runs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/alex-user-go/holidays/internal/proxy/proxytest"
)

func main() {
	_ = godotenv.Load()

	port := getEnv("PORT", "9001")
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	server := proxytest.New(proxytest.Options{
		Latency:     cast.ToDuration(getEnv("MOCK_LATENCY", "100ms")),
		FailureRate: cast.ToFloat64(getEnv("MOCK_FAILURE_RATE", "0.1")),
		QuoteDelay:  cast.ToDuration(getEnv("MOCK_QUOTE_DELAY", "2s")),
		Logger:      logger,
	})

	// Setup routes
	mux := http.NewServeMux()
	mux.Handle("POST /proxy", server)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error("failed to write healthz response", "error", err)
		}
	})

	// Configure server
	addr := ":" + port
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 70 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("mock proxy listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
