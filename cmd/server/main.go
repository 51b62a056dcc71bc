package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-fms/internal/alerts"
	"github.com/technosupport/ts-fms/internal/api"
	"github.com/technosupport/ts-fms/internal/config"
	"github.com/technosupport/ts-fms/internal/data"
	"github.com/technosupport/ts-fms/internal/infer"
	"github.com/technosupport/ts-fms/internal/livecache"
	"github.com/technosupport/ts-fms/internal/middleware"
	"github.com/technosupport/ts-fms/internal/model"
	"github.com/technosupport/ts-fms/internal/session"
)

func main() {
	// 1. Config
	cfg := config.FromEnv()

	defaults, err := config.LoadDefaults(cfg.DefaultsPath)
	if err != nil {
		log.Fatalf("Defaults load error: %v", err)
	}

	// 2. DB Init
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}
	defer db.Close()

	// 3. Optional infrastructure: absent addr means disabled
	var cache *livecache.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache = livecache.New(rdb)
		defer cache.Close()
	}

	var alertPub *alerts.Publisher
	if cfg.NATSAddr != "" {
		nc, err := nats.Connect(cfg.NATSAddr,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Fatalf("NATS connect error: %v", err)
		}
		defer nc.Close()
		alertPub = alerts.NewPublisher(nc)
	}

	// 4. Components
	pool := infer.NewPool(cfg.InferWorkers)
	defer pool.Close()
	registry := model.NewRegistry(cfg.SidecarBase)
	stage := infer.NewStage(registry, pool)

	sup := &session.Supervisor{
		Stage:            stage,
		Sessions:         data.SessionModel{DB: db},
		Ticks:            data.TickModel{DB: db},
		VideoRoot:        cfg.VideoRoot,
		RecordRoot:       cfg.RecordRoot,
		RecordGrace:      cfg.RecordGrace,
		AlertLevel:       cfg.AlertLevel,
		DefaultOverrides: defaults.Snapshot,
	}
	if cache != nil {
		sup.Cache = cache
	}
	if alertPub != nil {
		sup.Alerts = alertPub
	}

	wsHandler := api.NewDetectWsHandler(sup)
	var pinger api.Pinger
	if cache != nil {
		pinger = cache
	}
	healthHandler := api.NewHealthHandler(db, pinger)

	// 5. Routing
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	// Streaming endpoint is long-lived: no timeout middleware here.
	r.Get("/ws", wsHandler.Detect)

	if cache != nil {
		latestHandler := api.NewLatestHandler(cache)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequestLogger)
			r.Get("/api/v1/cameras/{camera_id}/latest", latestHandler.Get)
		})
	}

	// Hot reload of session param defaults
	stopWatch := make(chan struct{})
	if err := defaults.Watch(stopWatch); err != nil {
		log.Printf("[Config] defaults watch disabled: %v", err)
	}

	// 6. Start Server
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("fms-server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// 7. Graceful Shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	close(stopWatch)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
