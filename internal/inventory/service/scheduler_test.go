package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeScanner struct {
	rec *recorder
	err error
}

func (f *fakeScanner) ScanAndMarkExpired(context.Context, time.Time) (int, error) {
	f.rec.add("scan")
	return 1, f.err
}

type fakeChecker struct {
	rec *recorder
}

func (f *fakeChecker) CheckAllAlerts(context.Context) ([]*repository.StockAlert, error) {
	f.rec.add("alerts")
	return nil, nil
}

func TestStockScheduler_RunCycleScansBeforeAlerts(t *testing.T) {
	rec := &recorder{}
	s := NewStockScheduler(&fakeScanner{rec: rec, err: errors.New("one batch failed")}, &fakeChecker{rec: rec}, time.Hour, logger.Nop())

	s.RunCycle(context.Background())

	assert.Equal(t, []string{"scan", "alerts"}, rec.snapshot(), "a failed scan still runs the alert sweep")
}

func TestStockScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	rec := &recorder{}
	s := NewStockScheduler(&fakeScanner{rec: rec}, &fakeChecker{rec: rec}, time.Hour, logger.Nop())

	s.Start(context.Background())
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.Len(t, rec.snapshot(), 2)
}

func TestStockScheduler_Ticks(t *testing.T) {
	rec := &recorder{}
	s := NewStockScheduler(&fakeScanner{rec: rec}, &fakeChecker{rec: rec}, 20*time.Millisecond, logger.Nop())

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 6 }, 2*time.Second, 10*time.Millisecond)
}
