package storage

import (
	"context"
	"fmt"
	"time"

	"helpdesk/backend/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens PostgreSQL and, when withRedis is set, Redis.
func Connect(ctx context.Context, cfg *config.Config, withRedis bool) (*gorm.DB, *redis.Client, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if !withRedis {
		return db, nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info().Msg("database and redis connections established")
	return db, rdb, nil
}
