package service

import (
	"context"
	"time"

	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/config"
	"github.com/medflow/pharmacy-inventory/pkg/database"
)

// Options are the stock policy values the services run with
type Options struct {
	DefaultReorderQuantity int
	ExpiryWarningDays      int
	OverstockIdleDays      int
	ReorderCoverDays       int
	AutoResolveAlerts      bool
	LockTimeout            time.Duration
	TxTimeout              time.Duration
}

// OptionsFromConfig maps the inventory config section onto Options
func OptionsFromConfig(cfg config.InventoryConfig) Options {
	return Options{
		DefaultReorderQuantity: cfg.DefaultReorderQuantity,
		ExpiryWarningDays:      cfg.ExpiryWarningDays,
		OverstockIdleDays:      cfg.OverstockIdleDays,
		ReorderCoverDays:       cfg.ReorderCoverDays,
		AutoResolveAlerts:      cfg.AutoResolveAlerts,
		LockTimeout:            cfg.LockTimeout,
		TxTimeout:              cfg.TxTimeout,
	}
}

// DefaultOptions matches the config defaults
func DefaultOptions() Options {
	return Options{
		DefaultReorderQuantity: 50,
		ExpiryWarningDays:      30,
		OverstockIdleDays:      90,
		ReorderCoverDays:       7,
		LockTimeout:            3 * time.Second,
		TxTimeout:              10 * time.Second,
	}
}

func (o Options) tx() database.TxOptions {
	return database.TxOptions{LockTimeout: o.LockTimeout, Timeout: o.TxTimeout}
}

// Clock returns the current time. Services read time only through it.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// MedicineLookup resolves catalog entries, either straight from the repository or through the cache
type MedicineLookup interface {
	GetByID(ctx context.Context, id string) (*repository.Medicine, error)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
