package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/auctioneer/pkg/auth"
	pkgdb "github.com/floroz/auctioneer/pkg/database"
	"github.com/floroz/auctioneer/services/bid-service/internal/adapters/api"
	"github.com/floroz/auctioneer/services/bid-service/internal/adapters/cache"
	"github.com/floroz/auctioneer/services/bid-service/internal/adapters/database"
	"github.com/floroz/auctioneer/services/bid-service/internal/adapters/events"
	"github.com/floroz/auctioneer/services/bid-service/internal/adapters/memory"
	"github.com/floroz/auctioneer/services/bid-service/internal/broadcast"
	"github.com/floroz/auctioneer/services/bid-service/internal/config"
	"github.com/floroz/auctioneer/services/bid-service/internal/domain/auctions"
	"github.com/floroz/auctioneer/services/bid-service/migrations"
)

// suspensionRegistry is satisfied by both the memory and the Redis registry.
type suspensionRegistry interface {
	auctions.SuspensionChecker
	events.SuspensionRegistry
}

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load environment variables (local overrides .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Auction store: Postgres when configured, in-memory otherwise
	var store auctions.Store
	if cfg.Database.URL != "" {
		pool, err := connectPostgres(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("Failed to set up Postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.Database.LockTimeout)
		store = database.NewPostgresAuctionStore(pool, txManager, database.NewPostgresOutboxRepository(pool))
	} else {
		logger.Warn("BID_DB_URL is not set, using the in-memory store")
		store = memory.NewAuctionStore()
	}

	// 2. Redis (optional): shared suspensions and cross-node viewer counts
	var registry suspensionRegistry = memory.NewSuspensions()
	var aggregator broadcast.Aggregator
	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		logger.Info("Redis Connected")
		registry = cache.NewRedisSuspensions(rdb)
		aggregator = cache.NewRedisViewerAggregator(rdb, cfg.Engine.ResolvedNodeID(), cfg.Cache.ViewerTTL)
	}

	// 3. Engine and hubs
	states := broadcast.NewHub[auctions.StateEvent](cfg.Engine.HubBuffer)
	viewers := broadcast.NewHub[broadcast.ViewerCount](cfg.Engine.HubBuffer)

	engine := auctions.NewEngine(store, states,
		auctions.WithLogger(logger),
		auctions.WithSuspensions(registry),
		auctions.WithRetention(cfg.Engine.Retention),
		auctions.WithRetryDelay(cfg.Engine.RetryDelay),
		auctions.WithStoreTimeout(cfg.Engine.StoreTimeout),
	)
	defer engine.Close()

	recovered, err := engine.Recover(ctx)
	if err != nil {
		logger.Error("Failed to recover open auctions", "error", err)
		os.Exit(1)
	}
	logger.Info("Recovered open auctions", "count", recovered)

	// 4. API
	publicKey, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		logger.Error("Failed to read JWT public key", "path", cfg.Auth.PublicKeyPath, "error", err)
		os.Exit(1)
	}
	signer, err := auth.NewSignerFromPublicKey(publicKey, cfg.Auth.Issuer)
	if err != nil {
		logger.Error("Failed to parse JWT public key", "error", err)
		os.Exit(1)
	}

	handler := api.NewAuctionServiceHandler(engine, states, viewers)
	path, connectHandler := api.NewAuctionServiceRoutes(handler, signer)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Connect-Protocol-Version", "Connect-Timeout-Ms"},
		ExposedHeaders: []string{"Grpc-Status", "Grpc-Message"},
		MaxAge:         300,
	}))
	r.Handle(path+"*", connectHandler)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Use h2c for HTTP/2 without TLS so server streams work behind plain proxies
	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           h2c.NewHandler(r, &http2.Server{}),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	// 5. Run the server and background loops until one fails or we are signalled
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting Bid Service API", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down Bid Service API...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	presence := broadcast.NewPresence(states, viewers, aggregator, cfg.Engine.PresenceInterval, logger)
	g.Go(func() error {
		return presence.Run(gctx)
	})

	if cfg.Broker.URL != "" {
		amqpConn, err := amqp.Dial(cfg.Broker.URL)
		if err != nil {
			logger.Error("Failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer amqpConn.Close()
		logger.Info("RabbitMQ Connected")

		consumer := events.NewSuspensionConsumer(amqpConn, registry, cfg.Broker.SuspensionQueue, logger)
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	} else {
		logger.Warn("RABBITMQ_URL is not set, bidder suspensions will not be received")
	}

	if err := g.Wait(); err != nil {
		logger.Error("Bid Service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Bid Service stopped")
}

func connectPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Postgres Connected")

	if cfg.AutoMigrate {
		db := stdlib.OpenDBFromPool(pool)
		defer db.Close()
		applied, err := migrations.Up(ctx, db)
		if err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("Migrations applied", "count", applied)
	}
	return pool, nil
}
