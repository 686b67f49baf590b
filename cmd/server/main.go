package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/zlp/pool-engine/internal/chain"
	"github.com/zlp/pool-engine/internal/config"
	"github.com/zlp/pool-engine/internal/lending"
	"github.com/zlp/pool-engine/internal/logging"
	"github.com/zlp/pool-engine/internal/metrics"
	"github.com/zlp/pool-engine/internal/pool"
	"github.com/zlp/pool-engine/internal/store"
	"github.com/zlp/pool-engine/internal/token"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Log)
	slog.SetDefault(logger)
	defer logCloser.Close()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pg, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pg.Close)
		ps := store.NewPostgresStore(pg)
		if err := ps.EnsureSchema(context.Background()); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = ps
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
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

	// --- Block height ---
	var heights chain.HeightSource
	var clock *chain.ManualClock
	if cfg.Chain.RPCURL != "" {
		client, err := chain.Dial(cfg.Chain.RPCURL)
		if err != nil {
			slog.Error("rpc dial failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, client.Close)
		heights = client
		slog.Info("reading block height from RPC", "url", cfg.Chain.RPCURL)
	} else {
		clock = chain.NewManualClock(cfg.Chain.StartHeight)
		heights = clock
		slog.Warn("ETH_RPC_URL not set, using manual block clock", "start_height", cfg.Chain.StartHeight)
	}
	devClock := clock
	if !cfg.Chain.DevTools {
		devClock = nil
	}

	// --- Pool ---
	amounts, err := cfg.Pool.Amounts()
	if err != nil {
		slog.Error("invalid pool amounts", "err", err)
		os.Exit(1)
	}
	collateral := token.NewLedger(cfg.Pool.Collateral.Symbol, cfg.Pool.Collateral.Decimals)
	borrow := token.NewLedger(cfg.Pool.Borrow.Symbol, cfg.Pool.Borrow.Decimals)

	lp, err := pool.New(pool.Config{
		Boundaries:         cfg.Pool.Boundaries(),
		Address:            cfg.Pool.PoolAddress(),
		Owner:              cfg.Pool.OwnerAddress(),
		Collateral:         collateral,
		Borrow:             borrow,
		CollateralEqFactor: amounts.CollateralEqFactor,
		BorrowEqFactor:     amounts.BorrowEqFactor,
		CalcDecimals:       amounts.CalcDecimals,
		Pricing:            amounts.Pricing,
	})
	if err != nil {
		slog.Error("pool construction failed", "err", err)
		os.Exit(1)
	}
	b := lp.Boundaries()
	slog.Info("pool configured",
		"address", lp.Address().Hex(),
		"owner", lp.Owner().Hex(),
		"collateral", collateral.Symbol(),
		"borrow", borrow.Symbol(),
		"lp_end", b.LPEnd,
		"amm_end", b.AMMEnd,
		"settlement_end", b.SettlementEnd,
	)

	// --- WebSocket hub ---
	wsHub := lending.NewWSHub()
	go wsHub.Run()

	// --- Lending service ---
	svc := lending.NewService(lending.Options{
		Pool:    lp,
		Store:   st,
		Heights: heights,
		Clock:   devClock,
		Hub:     wsHub,
	})

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+lending.AccountHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"pool-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("pool-engine listening", "port", cfg.Port)
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

	slog.Info("shutting down pool-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("pool-engine stopped")
}
