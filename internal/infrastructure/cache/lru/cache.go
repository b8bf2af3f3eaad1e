// Package lru is the in-process fingerprint cache of extraction results.
package lru

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

const (
	defaultSize = 1024
	defaultTTL  = 24 * time.Hour
)

// Cache is bounded by entry count and age. Values are cloned on the way in
// and out so a hit is identical to what was stored.
type Cache struct {
	lru *expirable.LRU[domain.Fingerprint, domain.ExtractionResult]
}

func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{lru: expirable.NewLRU[domain.Fingerprint, domain.ExtractionResult](size, nil, ttl)}
}

func (c *Cache) Get(_ context.Context, fp domain.Fingerprint) (domain.ExtractionResult, bool, error) {
	res, ok := c.lru.Get(fp)
	if !ok {
		return domain.ExtractionResult{}, false, nil
	}
	return res.Clone(), true, nil
}

func (c *Cache) Put(_ context.Context, fp domain.Fingerprint, res domain.ExtractionResult) error {
	c.lru.Add(fp, res.Clone())
	return nil
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
