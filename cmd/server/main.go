package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/option-pool/internal/api"
	"github.com/atmx/option-pool/internal/book"
	"github.com/atmx/option-pool/internal/config"
	"github.com/atmx/option-pool/internal/ledger"
	"github.com/atmx/option-pool/internal/limits"
	"github.com/atmx/option-pool/internal/metrics"
	"github.com/atmx/option-pool/internal/oracle"
	"github.com/atmx/option-pool/internal/pricing"
	"github.com/atmx/option-pool/internal/store"
)

// feed is what the service needs from an oracle transport: reads for the
// engine, pushes for the oracle endpoint.
type feed interface {
	oracle.Feed
	oracle.Publisher
}

func main() {
	configPath := flag.String("config", os.Getenv("OPTION_POOL_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Initialize store and token ledger ---
	var st, reads store.Store
	var tokens ledger.Ledger
	var faucet *ledger.Memory
	var rdb *redis.Client
	var cleanup []func()

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid redis url", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pgStore := store.NewPostgresStore(pool)
		pgLedger := ledger.NewPostgres(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			slog.Error("store migration failed", "err", err)
			os.Exit(1)
		}
		if err := pgLedger.Migrate(ctx); err != nil {
			slog.Error("ledger migration failed", "err", err)
			os.Exit(1)
		}
		st, tokens = pgStore, pgLedger
		slog.Info("connected to PostgreSQL")

		// Queries read through Redis if configured; operations always
		// load from PostgreSQL.
		if rdb != nil {
			reads = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis query cache enabled", "ttl", cfg.Redis.CacheTTL)
		}
	} else {
		slog.Warn("database.url not set, using in-memory store and ledger (data will not persist)")
		st = store.NewMemoryStore()
		faucet = ledger.NewMemory()
		tokens = faucet
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Oracle feed ---
	var quotes feed = oracle.NewMemoryFeed()
	if cfg.Oracle.Source == "redis" {
		quotes = oracle.NewRedisFeed(rdb)
		slog.Info("reading oracle quotes from Redis")
	}

	// --- Book engine ---
	engine := book.New(st, tokens, quotes, book.Options{
		Reads:   reads,
		Adapter: oracle.NewAdapter(cfg.Oracle.MaxAge, cfg.Oracle.MaxConfidenceBps),
		Pricer:  pricing.NewEngine(cfg.Pricing.VolatilityBps),
		Limiter: limits.NewPositionLimiter(cfg.Limits.MaxOpen(), cfg.Limits.MaxUtilizationBps),
		Logger:  logger.With("component", "book"),
	})

	if b := cfg.Bootstrap; b.Admin != "" {
		err := engine.Initialize(ctx, book.InitializeParams{
			Admin:     b.Admin,
			Keepers:   b.Keepers,
			Signers:   b.Signers,
			Threshold: b.Threshold,
		}, time.Now().Unix())
		switch {
		case errors.Is(err, book.ErrAlreadyInitialized):
			slog.Info("contract already initialized")
		case err != nil:
			slog.Error("bootstrap failed", "err", err)
			os.Exit(1)
		}
	}

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	wsHub := api.NewWSHub()
	go wsHub.Run(hubCtx)

	// --- Service ---
	svc := api.NewService(engine, quotes, wsHub)
	if cfg.Dev.Faucet {
		svc.EnableFaucet(faucet)
		slog.Warn("dev faucet enabled at /api/v1/dev/mint")
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"option-pool"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	svc.Register(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("option-pool listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down option-pool...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stopHub()
	fmt.Println("option-pool stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
