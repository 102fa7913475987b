// Package bootstrap wires the components every veilflow process needs:
// config, logger, Postgres, Redis, the run queue and the secrets box.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/veilflow/veilflow/common/config"
	"github.com/veilflow/veilflow/common/db"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/queue"
	"github.com/veilflow/veilflow/common/redis"
	"github.com/veilflow/veilflow/common/secrets"
)

// Components holds the shared process-wide dependencies
type Components struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.DB
	Redis   *redis.Client
	Queue   *queue.Queue
	Secrets *secrets.Box
}

// Setup initializes all common components for a service
func Setup(ctx context.Context, serviceName string) (*Components, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	log.Info("starting service", "service", serviceName, "environment", cfg.Service.Environment)

	database, err := db.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	redisClient, err := redis.Connect(cfg.Queue.RedisURL, log)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if err := redisClient.Ping(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	runQueue := queue.New(redisClient, queue.Config{
		MaxAttempts:   cfg.Queue.MaxAttempts,
		BackoffBase:   cfg.Queue.BackoffBase,
		KeepCompleted: cfg.Queue.KeepCompleted,
		KeepFailed:    cfg.Queue.KeepFailed,
	}, log)

	encryptionKey := cfg.Secrets.EncryptionKey
	if encryptionKey == "" {
		// Config validation rejects this in production
		log.Warn("ENCRYPTION_KEY not set, using development key")
		encryptionKey = "veilflow-dev-key"
	}
	box, err := secrets.NewBox(encryptionKey)
	if err != nil {
		database.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init secrets box: %w", err)
	}

	return &Components{
		Config:  cfg,
		Logger:  log,
		DB:      database,
		Redis:   redisClient,
		Queue:   runQueue,
		Secrets: box,
	}, nil
}

// Shutdown releases the shared components
func (c *Components) Shutdown(ctx context.Context) {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Error("redis close failed", "error", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
	c.Logger.Info("service stopped")
}
