package db

import (
	"time"

	"backend-etaone/internal/config"

	"github.com/redis/go-redis/v9"
)

// The hub relay publishes from a background queue; stuck writes are cut
// short so the queue keeps draining.
const redisWriteTimeout = 500 * time.Millisecond

// ConnectRedis returns nil when REDIS_ADDR is empty; the hub then stays
// local and the strategy preference is not persisted.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		ClientName:   "etaone-api",
		WriteTimeout: redisWriteTimeout,
	})
}
