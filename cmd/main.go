// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/eventpulse/admission/internal/background"
	"github.com/eventpulse/admission/internal/config"
	"github.com/eventpulse/admission/internal/database"
	"github.com/eventpulse/admission/internal/handler"
	"github.com/eventpulse/admission/internal/ledger"
	"github.com/eventpulse/admission/internal/notify"
	"github.com/eventpulse/admission/internal/ratelimit"
	"github.com/eventpulse/admission/internal/service"
	"github.com/eventpulse/admission/internal/store"
)

func main() {
	ctx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ── 1. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	log.Println("✓ Connected to PostgreSQL")

	pg := store.NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// ── 2. Collaborator signals ──────────────────────────────────────────
	var pub notify.Publisher
	if cfg.AMQPURL != "" {
		amqpPub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("amqp: %v", err)
		}
		defer amqpPub.Close()
		pub = amqpPub
		log.Println("✓ Connected to RabbitMQ")
	}

	// ── 3. Wire up layers ────────────────────────────────────────────────
	lg := ledger.New()
	svc := service.New(pg, lg, pub)

	// Seat counters live in memory; rebuild them from persisted
	// registrations before serving traffic.
	if err := svc.RebuildLedger(ctx); err != nil {
		log.Fatalf("ledger rebuild: %v", err)
	}

	// Events start and complete on their own schedule.
	updater := background.NewStatusUpdater(pg, background.DefaultSyncInterval)
	updater.Sync(ctx)
	go updater.Run(ctx)

	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = ratelimit.New(rdb, cfg.JoinBurst, cfg.JoinWindow)
	}

	h := handler.NewAdmissionHandler(svc, limiter)

	// ── 4. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger)          // structured access log
	r.Use(handler.CORS)            // permissive CORS for browser clients

	r.Mount("/", h.Routes(handler.Auth(cfg.JWTSecret)))

	// ── 5. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("✓ Server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}
