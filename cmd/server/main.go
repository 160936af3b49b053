package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/lending-indexer/internal/api"
	"github.com/atmx/lending-indexer/internal/config"
	"github.com/atmx/lending-indexer/internal/contract"
	"github.com/atmx/lending-indexer/internal/ingest"
	"github.com/atmx/lending-indexer/internal/lending"
	"github.com/atmx/lending-indexer/internal/metrics"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/price"
	"github.com/atmx/lending-indexer/internal/store"
	"github.com/atmx/lending-indexer/internal/synthetix"
	"github.com/atmx/lending-indexer/internal/truefi"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cursors store.Cursors
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := store.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		st, cursors = pg, pg
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
			cached := store.NewCachedStore(pg, rdb, cfg.CacheTTL)
			st, cursors = cached, cached
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		ms := store.NewMemoryStore()
		st, cursors = ms, ms
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(ctx)
		return nil
	})

	// --- Ingest ---
	if cfg.IngestEnabled() {
		runner, err := newRunner(ctx, cfg, st, cursors, wsHub, logger)
		if err != nil {
			slog.Error("ingest setup failed", "err", err)
			os.Exit(1)
		}
		g.Go(func() error { return runner.Run(ctx) })
	} else {
		slog.Warn("RPC_URL not set, serving the API only")
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"lending-indexer"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	svc := api.NewService(st, wsHub)
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for indexed events; long lived, so no timeout.
		svc.StreamRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		slog.Info("lending-indexer listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("shutting down lending-indexer...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("lending-indexer stopped with error", "err", err)
		os.Exit(1)
	}
	fmt.Println("lending-indexer stopped")
}

// newRunner dials the node and wires the indexing pipeline behind it.
func newRunner(ctx context.Context, cfg *config.Config, st store.Store, cursors store.Cursors, obs lending.Observer, logger *slog.Logger) (*ingest.Runner, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	p := cfg.Protocol

	// Handlers write through buf; the runner commits it once per log.
	buf := store.NewBuffer(st)
	caller := contract.NewRetryCaller(client, contract.RetryPolicy{
		MaxRetries: 5,
		OnRetry: func(err error) {
			metrics.RPCRetries.WithLabelValues("eth_call").Inc()
			logger.Debug("retrying eth_call", "err", err)
		},
	})

	pricer := price.New(buf, caller, price.Oracles{
		Stablecoin: config.AddressMap(p.StablecoinOracles),
		Tru:        common.HexToAddress(p.TruOracle),
		Feeds:      config.AddressMap(p.PriceFeeds),
	}, logger)
	ix := lending.New(buf, caller, pricer, cfg.Network, obs, logger)
	dispatch := truefi.NewDispatcher(ix)

	var tracker *synthetix.Tracker
	if p.Synthetix {
		tracker = synthetix.New(buf, caller, nil, cfg.Network, logger)
	}

	runner := ingest.NewRunner(client, dispatch, tracker, buf, cursors, ingest.Options{
		StartBlock:   cfg.StartBlock,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
	}, logger)

	for _, list := range [][]string{p.PoolFactories, p.PortfolioFactories, p.Lenders, p.Liquidators, p.Farms} {
		runner.Watch(config.Addresses(list)...)
	}

	// Markets found on earlier runs.
	markets, err := store.All[model.Market](ctx, st)
	if err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	for _, m := range markets {
		runner.Watch(common.HexToAddress(m.ID))
	}

	// Markets deployed before the start block.
	known := truefi.Known{
		Pools:      config.Addresses(p.Pools),
		Portfolios: config.Addresses(p.Portfolios),
		Staking:    config.Addresses(p.Staking),
	}
	if len(known.Pools)+len(known.Portfolios)+len(known.Staking) > 0 {
		header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(cfg.StartBlock))
		if err != nil {
			return nil, fmt.Errorf("start block header: %w", err)
		}
		b := model.Block{Number: cfg.StartBlock, Timestamp: int64(header.Time)}
		if err := dispatch.Bootstrap(ctx, b, known); err != nil {
			return nil, fmt.Errorf("bootstrap markets: %w", err)
		}
		if err := buf.Commit(ctx); err != nil {
			return nil, fmt.Errorf("bootstrap markets: %w", err)
		}
	}
	return runner, nil
}
