package persistence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
)

// NewRedisClient connects to the standalone Redis instance in cfg and pings it.
//
// Parameters:
//   - ctx: Context for the initial ping
//   - cfg: Redis configuration
//   - log: Logger instance
//
// Returns:
//   - redis.UniversalClient: Connected client
//   - error: Connection error if any
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (redis.UniversalClient, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Address,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        poolSize,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		log.Error(ctx, "Redis ping failed", err, logger.String("addr", cfg.Address))
		return nil, errors.ErrInternal("connect to redis").WithCause(err)
	}

	log.Info(ctx, "Redis connection established",
		logger.String("addr", cfg.Address),
		logger.Int("pool_size", poolSize),
	)
	return client, nil
}

//Personal.AI order the ending
