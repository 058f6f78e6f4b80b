package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
)

const keyPrefix = "inventory:medicine:"

// MedicineLoader is the source of truth behind the cache
type MedicineLoader interface {
	GetByID(ctx context.Context, id string) (*repository.Medicine, error)
}

// MedicineCache is a read-through cache of catalog entries, used by batch
// receipt to check that the medicine exists. This service never writes the
// catalog, so entries are only refreshed when their TTL runs out.
// With a nil client every lookup goes straight to the loader.
type MedicineCache struct {
	client *redis.Client
	loader MedicineLoader
	ttl    time.Duration
	logger *logger.Logger
}

// NewMedicineCache creates a new medicine cache
func NewMedicineCache(client *redis.Client, loader MedicineLoader, ttl time.Duration, log *logger.Logger) *MedicineCache {
	return &MedicineCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		logger: log.WithComponent("medicine-cache"),
	}
}

// Connect parses a redis URL and verifies the server answers
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// GetByID returns the medicine from redis, loading and storing it on a miss.
// Redis failures degrade to a direct load.
func (c *MedicineCache) GetByID(ctx context.Context, id string) (*repository.Medicine, error) {
	if c.client == nil {
		return c.loader.GetByID(ctx, id)
	}

	raw, err := c.client.Get(ctx, keyPrefix+id).Bytes()
	switch {
	case err == nil:
		var m repository.Medicine
		if jsonErr := json.Unmarshal(raw, &m); jsonErr == nil {
			return &m, nil
		}
		c.logger.Warn().Str("medicine_id", id).Msg("discarding undecodable cache entry")
	case err != redis.Nil:
		c.logger.Warn().Err(err).Str("medicine_id", id).Msg("medicine cache read failed")
	}

	m, err := c.loader.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, m)
	return m, nil
}

// Health pings redis. A disabled cache is always healthy.
func (c *MedicineCache) Health(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *MedicineCache) store(ctx context.Context, m *repository.Medicine) {
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+m.ID, raw, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("medicine_id", m.ID).Msg("medicine cache write failed")
	}
}
