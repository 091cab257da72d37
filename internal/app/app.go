package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/db"
	redisclient "github.com/hackgods/opd-token-allocation/internal/redis"
)

// App holds the engine and the backends behind it. PgPool and Redis are nil
// for the memory store and the local locker.
type App struct {
	Engine *allocation.Engine
	PgPool *pgxpool.Pool
	Redis  *redis.Client
}

// NewLogger writes JSON, or a console format in dev.
func NewLogger(cfg config.Config, component string) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Str("component", component).Logger()
}

// Open connects the configured store and locker and builds the engine. name
// identifies the binary to Postgres and Redis.
func Open(ctx context.Context, cfg config.Config, name string, logger zerolog.Logger) (*App, error) {
	a := &App{}

	var repo allocation.Repository
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN,
			db.WithMaxConns(cfg.PostgresMaxConn),
			db.WithApplicationName(name),
		)
		cancel()
		if err != nil {
			return nil, err
		}
		a.PgPool = pool
		logger.Info().Msg("connected to Postgres")

		if cfg.RunMigrations {
			n, err := db.Migrate(ctx, pool)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info().Int("applied", n).Msg("migrations applied")
		}
		repo = allocation.NewPgRepository(pool)
	default:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		repo = allocation.NewMemoryRepository()
	}

	var locker redisclient.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:       cfg.RedisAddr,
			Username:   cfg.RedisUsername,
			Password:   cfg.RedisPassword,
			PoolSize:   cfg.RedisPoolSize,
			ClientName: name,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = rdb
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait)
	default:
		logger.Warn().Msg("using in-process slot locks, run a single instance only")
		locker = redisclient.NewLocalSlotLocker(cfg.LockWait)
	}

	a.Engine = allocation.NewEngine(repo, locker, allocation.WithLogger(logger))
	return a, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.PgPool != nil {
		a.PgPool.Close()
	}
}
