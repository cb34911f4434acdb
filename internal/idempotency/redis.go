package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/paygrid/settlecore/internal/models"
)

const keyPrefix = "idem:"

// inFlightMarker is stored by Reserve before a result exists.
const inFlightMarker = `{"in_flight":true}`

type storedResult struct {
	InFlight bool           `json:"in_flight,omitempty"`
	Result   *models.Result `json:"result,omitempty"`
}

// RedisGuard backs the guard with redis so reservations survive restarts
// and are shared across instances. SETNX makes the claim atomic across
// concurrent submissions.
type RedisGuard struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisGuard(client *redis.Client, retention time.Duration) *RedisGuard {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisGuard{client: client, retention: retention}
}

func (g *RedisGuard) Reserve(ctx context.Context, key string) (bool, *models.Result, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, inFlightMarker, g.retention).Result()
	if err != nil {
		return false, nil, fmt.Errorf("idempotency reserve: %w", err)
	}
	if ok {
		return true, nil, nil
	}

	raw, err := g.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		// key expired between SETNX and GET; claim it now
		return g.Reserve(ctx, key)
	}
	if err != nil {
		return false, nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	var stored storedResult
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return false, nil, fmt.Errorf("idempotency record corrupt for key %s: %w", key, err)
	}
	return false, stored.Result, nil
}

func (g *RedisGuard) Complete(ctx context.Context, key string, result models.Result) error {
	data, err := json.Marshal(storedResult{Result: &result})
	if err != nil {
		return err
	}
	return g.client.Set(ctx, keyPrefix+key, data, g.retention).Err()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, keyPrefix+key).Err()
}
