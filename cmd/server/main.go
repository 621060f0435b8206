package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtrntr/resourceswap/internal/api"
	"github.com/xtrntr/resourceswap/internal/auth"
	"github.com/xtrntr/resourceswap/internal/cache"
	"github.com/xtrntr/resourceswap/internal/config"
	"github.com/xtrntr/resourceswap/internal/feed"
	"github.com/xtrntr/resourceswap/internal/metadata"
	"github.com/xtrntr/resourceswap/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
)

// Main entry point: restores the exchange from the journal and serves HTTP
func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("resourceswap: %v", err)
	}
	log, err := cfg.NewLogger()
	if err != nil {
		config.Exitf("resourceswap: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer s.Close()

	ex, err := store.Restore(ctx, s, cfg.Policy(), log)
	if err != nil {
		log.WithError(err).Fatal("failed to restore exchange")
	}
	if pg, ok := s.(store.Postgres); ok {
		if err := pg.Verify(ctx, ex); err != nil {
			log.WithError(err).Warn("postgres projections disagree with the journal")
		}
	}

	resolverOpts := []metadata.Option{metadata.WithLogger(log)}
	handlerOpts := []api.Option{api.WithLogger(log)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer rdb.Close()

		rc := cache.NewRedisCache(rdb, cfg.IdempotencyTTL)
		resolverOpts = append(resolverOpts, metadata.WithCache(rc, cfg.MetadataCacheTTL))
		handlerOpts = append(handlerOpts, api.WithIdempotency(rc))
		log.WithField("addr", cfg.RedisAddr).Info("connected to redis")
	} else {
		log.Warn("no redis configured, Idempotency-Key headers are ignored")
	}
	resolver := metadata.NewResolver(cfg.IPFSGateway, resolverOpts...)
	handlerOpts = append(handlerOpts, api.WithResolver(resolver))

	authService := auth.NewAuthService(s, []byte(cfg.JWTSecret), cfg.TokenTTL, cfg.Operator)
	handler := api.NewHandler(ex, authService, handlerOpts...)

	events, unsubscribe := ex.Subscribe()
	hub := feed.NewHub(log, func() interface{} { return ex.Snapshot() })
	go hub.Run(ctx, events)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", api.IdempotencyHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Handle("/ws", hub)
	handler.Routes(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	unsubscribe()
}
