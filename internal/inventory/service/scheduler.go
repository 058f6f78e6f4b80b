package service

import (
	"context"
	"sync"
	"time"

	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
)

// ExpiryScanner marks batches whose expiry has passed
type ExpiryScanner interface {
	ScanAndMarkExpired(ctx context.Context, now time.Time) (int, error)
}

// AlertChecker runs an alert sweep
type AlertChecker interface {
	CheckAllAlerts(ctx context.Context) ([]*repository.StockAlert, error)
}

// StockScheduler runs the expiry scan followed by the alert sweep on a fixed interval.
// The alert sweep runs after the scan so expired stock is already out of available.
type StockScheduler struct {
	scanner  ExpiryScanner
	alerts   AlertChecker
	interval time.Duration
	now      Clock
	logger   *logger.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewStockScheduler creates a new stock scheduler
func NewStockScheduler(scanner ExpiryScanner, alerts AlertChecker, interval time.Duration, log *logger.Logger) *StockScheduler {
	return &StockScheduler{
		scanner:  scanner,
		alerts:   alerts,
		interval: interval,
		now:      systemClock,
		logger:   log.WithComponent("stock-scheduler"),
	}
}

// Start starts the scheduler in a background goroutine. The first cycle runs immediately.
func (s *StockScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.interval).Msg("stock scheduler started")

		s.RunCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("stock scheduler stopped")
				return
			case <-ticker.C:
				s.RunCycle(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine and waits for the running cycle to finish
func (s *StockScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// RunCycle runs one expiry scan and one alert sweep
func (s *StockScheduler) RunCycle(ctx context.Context) {
	start := time.Now()

	expired, err := s.scanner.ScanAndMarkExpired(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Int("expired", expired).Msg("expiry scan finished with errors")
	}

	created, err := s.alerts.CheckAllAlerts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("alert sweep failed")
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("expired", expired).
		Int("alerts_created", len(created)).
		Msg("stock cycle completed")
}
