package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/config"
)

// Database holds the shared stores. Postgres (with pgvector) is required;
// Redis only backs the session profile cache and may be nil.
type Database struct {
	PG     *pgxpool.Pool
	Redis  *redis.Client
	logger *logrus.Logger
}

func New(cfg *config.Config, logger *logrus.Logger) (*Database, error) {
	db := &Database{
		logger: logger,
	}

	if err := db.initPostgreSQL(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := Migrate(ctx, db.PG, logger); err != nil {
			db.PG.Close()
			return nil, err
		}
	}

	// Redis is a cache; the pipeline works without it.
	if err := db.initRedis(cfg); err != nil {
		logger.WithError(err).Warn("Redis unavailable, session profile cache disabled")
		db.Redis = nil
	}

	return db, nil
}

func (db *Database) initPostgreSQL(cfg *config.Config) error {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	if cfg.Database.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.Database.MaxConnections)
	}
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.ConnConfig.ConnectTimeout = cfg.Database.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.PG = pool
	db.logger.Info("PostgreSQL connection established")
	return nil
}

func (db *Database) initRedis(cfg *config.Config) error {
	if cfg.Redis.URL == "" {
		return fmt.Errorf("redis url not configured")
	}

	options, err := redisOptions(cfg.Redis)
	if err != nil {
		return err
	}
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	db.Redis = client
	db.logger.Info("Redis connection established")
	return nil
}

// redisOptions accepts either a redis:// URL or a bare host:port address.
func redisOptions(cfg config.RedisConfig) (*redis.Options, error) {
	options := &redis.Options{Addr: cfg.URL}
	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis url: %w", err)
		}
		options = parsed
	}

	options.MaxRetries = cfg.MaxRetries
	options.PoolSize = cfg.PoolSize
	options.ReadTimeout = cfg.Timeout
	options.WriteTimeout = cfg.Timeout
	return options, nil
}

func (db *Database) Close() error {
	if db.PG != nil {
		db.PG.Close()
		db.logger.Info("PostgreSQL connection closed")
	}

	if db.Redis != nil {
		if err := db.Redis.Close(); err != nil {
			return fmt.Errorf("failed to close Redis: %w", err)
		}
		db.logger.Info("Redis connection closed")
	}

	return nil
}
