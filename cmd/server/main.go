package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cosketch/backend/internal/api"
	"github.com/cosketch/backend/internal/config"
	"github.com/cosketch/backend/internal/db"
	"github.com/cosketch/backend/internal/identity"
	"github.com/cosketch/backend/internal/room"
	"github.com/cosketch/backend/internal/ws"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalw("failed to open database", "path", cfg.DBPath, "error", err)
	}
	defer database.Close()

	registry := room.NewRegistry(cfg.BoardLogCapacity, log)
	hub := ws.NewHub(registry, log)
	go hub.Run()

	sweeper := room.NewSweeper(cfg.SweepInterval, cfg.RoomIdleTTL, log, registry, hub.Docs())
	sweeper.Start()
	defer sweeper.Stop()

	resolver := identity.NewJWTResolver([]byte(cfg.JWTSecret), database, log)
	handler := api.NewHandler(database, registry, hub, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handler.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/api", handler.Routes())
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(hub, resolver, cfg.MessagesPerSecond, cfg.MessageBurst, log, w, req)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket writes manage their own deadlines
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Infow("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	<-done
	log.Infow("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("graceful shutdown failed", "error", err)
	}
}
