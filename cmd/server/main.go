package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/propdesk/eval-engine/internal/feed"
	"github.com/propdesk/eval-engine/internal/metrics"
	"github.com/propdesk/eval-engine/internal/settle"
	"github.com/propdesk/eval-engine/internal/store"
	"github.com/propdesk/eval-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	tickInterval := durationEnv("FEED_TICK_INTERVAL", time.Second)
	sweepInterval := durationEnv("SETTLEMENT_INTERVAL", 5*time.Second)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price feed + settlement engine ---
	priceFeed := feed.NewDefault()

	wsHub := trade.NewWSHub()
	go wsHub.Run()

	engine := settle.New(priceFeed, st, wsHub)

	// Periodic loops: price ticks and settlement sweeps run for process
	// lifetime and stop via context on shutdown (in-flight sweep finishes).
	loopCtx, stopLoops := context.WithCancel(context.Background())
	var loops sync.WaitGroup
	loops.Add(3)
	go func() {
		defer loops.Done()
		priceFeed.Run(loopCtx, tickInterval)
	}()
	go func() {
		defer loops.Done()
		engine.Run(loopCtx, sweepInterval)
	}()
	go func() {
		defer loops.Done()
		wsHub.RunQuoteBroadcast(loopCtx, priceFeed, tickInterval)
	}()

	// --- Trade service ---
	tradeSvc := trade.NewService(priceFeed, st, engine)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"eval-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time quotes and settlement events.
		r.Get("/ws", wsHub.HandleWS)

		// Market data.
		r.Get("/quotes", tradeSvc.ListQuotes)
		r.Get("/quotes/{symbol}", tradeSvc.GetQuote)

		// Positions.
		r.Post("/positions", tradeSvc.OpenPosition)
		r.Get("/positions", tradeSvc.ListPositions)
		r.Get("/positions/{id}", tradeSvc.GetPosition)
		r.Post("/positions/{id}/close", tradeSvc.ClosePosition)

		// Challenge evaluation.
		r.Get("/challenges/{id}/progress", tradeSvc.GetChallengeProgress)
		r.Post("/challenges/{id}/evaluate", tradeSvc.EvaluateChallenge)

		// Funded accounts.
		r.Get("/accounts/{id}/stats", tradeSvc.GetAccountStats)
		r.Get("/accounts/{id}/rules", tradeSvc.GetAccountRules)
		r.Post("/accounts/{id}/withdrawals", tradeSvc.RequestWithdrawal)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("eval-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down eval-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	stopLoops()
	loops.Wait()
	fmt.Println("eval-engine stopped")
}

// durationEnv reads a duration from the environment, falling back to def.
func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def.String())
		return def
	}
	return d
}
