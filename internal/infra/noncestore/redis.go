package noncestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vorion/internal/domain"
)

const redisKeyPrefix = "vorion:nonce:"

// Redis is the shared nonce ledger for multi-replica deployments. SET NX
// makes consumption atomic across replicas: exactly one verifier wins.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+nonce, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	if !ok {
		return domain.ErrReplayDetected
	}
	return nil
}
