package database

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"

	"github.com/paygrid/settlecore/internal/config"
)

// InitRedis connects to redis. The idempotency guard degrades to its
// in-memory implementation when redis is unreachable, so a failed
// connection is logged and nil is returned rather than aborting startup.
func InitRedis(cfg config.Redis) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Redis connection failed, continuing without Redis: %v", err)
		return nil
	}

	log.Println("Redis connection established")
	return rdb
}
