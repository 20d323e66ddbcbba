package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/discovery/internal/config"
	dbRedis "github.com/kailas-cloud/discovery/internal/db/redis"
	logpkg "github.com/kailas-cloud/discovery/internal/logger"
	"github.com/kailas-cloud/discovery/internal/metrics"
	"github.com/kailas-cloud/discovery/internal/repository/preference"
	assistantTransport "github.com/kailas-cloud/discovery/internal/transport/assistant"
	chiTransport "github.com/kailas-cloud/discovery/internal/transport/chi"
	healthuc "github.com/kailas-cloud/discovery/internal/usecase/health"
	sessionuc "github.com/kailas-cloud/discovery/internal/usecase/session"
	"github.com/kailas-cloud/discovery/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting discovery API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("assistant_provider", cfg.Assistant.Provider),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register assistant metrics explicitly (no init())
	metrics.RegisterAssistantMetrics()

	// Build the assistant client based on provider
	var assistant sessionuc.Assistant
	var assistantCheck healthuc.AssistantChecker
	switch cfg.Assistant.Provider {
	case "gateway":
		gw := assistantTransport.NewGateway(&assistantTransport.GatewayConfig{
			BaseURL:     cfg.Assistant.BaseURL,
			SiteSlug:    cfg.Assistant.SiteSlug,
			APIKey:      cfg.Assistant.APIKey,
			Temperature: cfg.Assistant.Temperature,
			Timeout:     time.Duration(cfg.Assistant.TimeoutSec) * time.Second,
			Logger:      logger,
		})
		assistant, assistantCheck = gw, gw
	case "openai":
		cp := assistantTransport.NewChatProvider(&assistantTransport.ChatProviderConfig{
			APIKey:      cfg.Assistant.APIKey,
			BaseURL:     cfg.Assistant.BaseURL,
			Model:       cfg.Assistant.Model,
			Temperature: cfg.Assistant.Temperature,
			Logger:      logger,
		})
		assistant, assistantCheck = cp, cp
	default:
		logger.Fatal("Unknown assistant provider", zap.String("provider", cfg.Assistant.Provider))
	}

	// Repositories
	prefRepo := preference.New(store, cfg.Storage.KeyPrefix,
		time.Duration(cfg.Session.PreferenceTTLHours)*time.Hour)

	// Use case services
	sessionSvc := sessionuc.New(assistant, prefRepo, logger, sessionuc.Config{
		PageSize:        cfg.Session.PageSize,
		PersistDebounce: time.Duration(cfg.Session.PersistDebounceMs) * time.Millisecond,
		IdleTimeout:     time.Duration(cfg.Session.IdleTimeoutMin) * time.Minute,
	})
	healthSvc := healthuc.New(store, assistantCheck)

	// Evict idle sessions in the background
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go sessionSvc.RunJanitor(janitorCtx, time.Duration(cfg.Session.JanitorIntervalSec)*time.Second)

	// Create chi server
	server := chiTransport.NewServer(sessionSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")
	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
