package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/splitsync/splitsync/internal/auth"
	"github.com/splitsync/splitsync/internal/collab"
	"github.com/splitsync/splitsync/internal/middleware"
	"github.com/splitsync/splitsync/internal/room"
	"github.com/splitsync/splitsync/internal/service"
	"github.com/splitsync/splitsync/internal/storage/sqlite"
	"github.com/splitsync/splitsync/internal/ws"
	"github.com/splitsync/splitsync/pkg/logging"
)

const (
	defaultPort         = 8080
	tokenDuration       = 24 * time.Hour
	compactionInterval  = time.Hour
	compactionKeepLast  = 500
	shutdownGracePeriod = 10 * time.Second
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	logging.Setup()
	logger := slog.Default()

	dbPath := getEnv("DB_PATH", "./data/splitsync.db")
	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	port := defaultPort
	if raw := os.Getenv("PORT"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			logger.Error("invalid PORT", "value", raw)
			os.Exit(1)
		}
		port = p
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("storage initialized", "database", dbPath)

	engine := collab.NewEngine(store, logger)
	rooms := room.NewManager()

	jwtManager := auth.NewJWTManager(jwtSecret, tokenDuration)
	authenticator := auth.NewPasswordAuthenticator(store)

	authService := service.NewAuthService(authenticator, jwtManager, store, logger)
	docService := service.NewDocumentService(engine, store, logger)
	syncService := service.NewSyncService(engine, store, rooms, logger)
	wsHandler := ws.NewHandler(engine, rooms, store, logger)

	r := chi.NewRouter()
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(jwtManager))
			r.Get("/auth/me", authService.Me)

			r.Route("/documents", func(r chi.Router) {
				r.Post("/", docService.Create)
				r.Get("/", docService.List)
				r.Get("/{documentID}", docService.Get)
				r.Get("/{documentID}/operations", docService.Operations)
				r.Post("/{documentID}/sync", syncService.Sync)
				r.Get("/{documentID}/balances", docService.Balances)
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(jwtManager))
		r.Get("/ws", wsHandler.ServeHTTP)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go compactionJanitor(ctx, engine, store, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: h2c.NewHandler(r, &http2.Server{}),
	}

	go func() {
		logger.Info("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

// compactionJanitor periodically prunes old operation log entries for every
// known document, keeping enough recent history for stragglers to catch up.
func compactionJanitor(ctx context.Context, engine *collab.Engine, store *sqlite.SQLiteStore, logger *slog.Logger) {
	ticker := time.NewTicker(compactionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := store.DocumentIDs(ctx)
			if err != nil {
				logger.Warn("compaction scan failed", "error", err)
				continue
			}
			for _, id := range ids {
				if err := engine.Compact(ctx, id, compactionKeepLast); err != nil {
					logger.Warn("compaction failed", "document_id", id, "error", err)
				}
			}
		}
	}
}
