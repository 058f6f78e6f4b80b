package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type countingLoader struct {
	calls     int
	medicines map[string]*repository.Medicine
}

func (l *countingLoader) GetByID(_ context.Context, id string) (*repository.Medicine, error) {
	l.calls++
	m, ok := l.medicines[id]
	if !ok {
		return nil, errors.NotFound("medicine")
	}
	return m, nil
}

func newLoader() *countingLoader {
	return &countingLoader{medicines: map[string]*repository.Medicine{
		"med-1": {
			ID:                    "med-1",
			Name:                  "Amoxicillin 500mg",
			UnitPrice:             decimal.RequireFromString("12.50"),
			MinimumStockThreshold: 20,
			IsActive:              true,
		},
	}}
}

func TestMedicineCache_DisabledPassesThrough(t *testing.T) {
	loader := newLoader()
	c := NewMedicineCache(nil, loader, time.Minute, logger.Nop())

	for i := 0; i < 3; i++ {
		m, err := c.GetByID(context.Background(), "med-1")
		require.NoError(t, err)
		assert.Equal(t, "Amoxicillin 500mg", m.Name)
	}
	assert.Equal(t, 3, loader.calls)

	_, err := c.GetByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.NoError(t, c.Health(context.Background()))
}

func TestMedicineCache_ReadThrough(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := Connect(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	loader := newLoader()
	c := NewMedicineCache(client, loader, time.Minute, logger.Nop())

	first, err := c.GetByID(ctx, "med-1")
	require.NoError(t, err)
	second, err := c.GetByID(ctx, "med-1")
	require.NoError(t, err)

	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, first.MinimumStockThreshold, second.MinimumStockThreshold)
	assert.True(t, first.UnitPrice.Equal(second.UnitPrice))

	// an evicted entry is loaded again
	require.NoError(t, client.Del(ctx, keyPrefix+"med-1").Err())
	_, err = c.GetByID(ctx, "med-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)

	ttl, err := client.TTL(ctx, keyPrefix+"med-1").Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	_, err = c.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
