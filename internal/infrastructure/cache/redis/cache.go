// Package redis shares the fingerprint cache between api and worker processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
)

var _ ports.ExtractionCache = (*Cache)(nil)

const keyPrefix = "ledger:extraction:"

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, fp domain.Fingerprint) (domain.ExtractionResult, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+string(fp)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ExtractionResult{}, false, nil
	}
	if err != nil {
		return domain.ExtractionResult{}, false, fmt.Errorf("get cached extraction: %w", err)
	}

	var res domain.ExtractionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return domain.ExtractionResult{}, false, fmt.Errorf("decode cached extraction: %w", err)
	}
	return res, true, nil
}

func (c *Cache) Put(ctx context.Context, fp domain.Fingerprint, res domain.ExtractionResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+string(fp), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached extraction: %w", err)
	}
	return nil
}
