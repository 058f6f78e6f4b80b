package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/medflow/pharmacy-inventory/internal/inventory/events"
	"github.com/medflow/pharmacy-inventory/internal/inventory/metrics"
	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
)

// AlertEvaluator checks stock conditions and raises deduplicated alerts
type AlertEvaluator struct {
	repos     *repository.Repositories
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Collector
	opts      Options
	now       Clock
	logger    *logger.Logger
}

// NewAlertEvaluator creates a new alert evaluator
func NewAlertEvaluator(
	repos *repository.Repositories,
	publisher *events.InventoryEventPublisher,
	collector *metrics.Collector,
	opts Options,
	log *logger.Logger,
) *AlertEvaluator {
	return &AlertEvaluator{
		repos:     repos,
		publisher: publisher,
		metrics:   collector,
		opts:      opts,
		now:       systemClock,
		logger:    log.WithComponent("alert-evaluator"),
	}
}

// SetClock replaces the time source
func (s *AlertEvaluator) SetClock(c Clock) {
	s.now = c
}

// CheckAllAlerts evaluates every active medicine and returns the alerts it created.
// A medicine that fails to evaluate is logged and skipped.
func (s *AlertEvaluator) CheckAllAlerts(ctx context.Context) ([]*repository.StockAlert, error) {
	medicines, err := s.repos.Medicines.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active medicines: %w", err)
	}

	now := s.now()
	var created []*repository.StockAlert
	for _, m := range medicines {
		alerts, err := s.evaluateMedicine(ctx, m, now)
		created = append(created, alerts...)
		if err != nil {
			s.logger.Error().Err(err).Str("medicine_id", m.ID).Msg("alert evaluation failed")
		}
	}

	s.logger.Info().
		Int("medicines", len(medicines)).
		Int("created", len(created)).
		Msg("alert sweep completed")
	return created, nil
}

func (s *AlertEvaluator) evaluateMedicine(ctx context.Context, m *repository.Medicine, now time.Time) ([]*repository.StockAlert, error) {
	var created []*repository.StockAlert
	add := func(a *repository.StockAlert, err error) error {
		if a != nil {
			created = append(created, a)
		}
		return err
	}

	record, err := s.repos.Inventory.GetPrimaryRecord(ctx, m.ID)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		record = nil
	case err != nil:
		return nil, err
	}

	if record != nil {
		available := record.QuantityAvailable

		if err := add(s.evaluate(ctx, m.ID, repository.AlertLowStock,
			available <= record.ReorderLevel, available, record.ReorderLevel, now)); err != nil {
			return created, err
		}

		if err := add(s.evaluate(ctx, m.ID, repository.AlertCriticalStock,
			available < m.MinimumStockThreshold, available, m.MinimumStockThreshold, now)); err != nil {
			return created, err
		}

		if m.MaximumStockLevel != nil {
			idleSince := now.AddDate(0, 0, -s.opts.OverstockIdleDays)
			idle := record.LastDispensedAt == nil || record.LastDispensedAt.Before(idleSince)
			if err := add(s.evaluate(ctx, m.ID, repository.AlertOverstock,
				available > *m.MaximumStockLevel && idle, available, *m.MaximumStockLevel, now)); err != nil {
				return created, err
			}
		}
	}

	batches, err := s.repos.Batches.ListExpiring(ctx, repository.ExpiringFilter{
		MedicineID: m.ID,
		After:      now,
		Until:      now.AddDate(0, 0, s.opts.ExpiryWarningDays),
		ActiveOnly: true,
	})
	if err != nil {
		return created, err
	}
	for _, b := range batches {
		quantity := 0
		rec, err := s.repos.Inventory.Get(ctx, m.ID, b.ID)
		switch {
		case err == nil:
			quantity = rec.QuantityAvailable
		case !errors.Is(err, errors.ErrNotFound):
			return created, err
		}

		batchID := b.ID
		if err := add(s.raise(ctx, &repository.StockAlert{
			MedicineID:      m.ID,
			BatchID:         &batchID,
			AlertType:       repository.AlertExpiryWarning,
			CurrentQuantity: quantity,
			ThresholdValue:  s.opts.ExpiryWarningDays,
		}, now)); err != nil {
			return created, err
		}
	}

	return created, nil
}

// evaluate raises a medicine-level alert when firing, and resolves a stale one
// when it is not and auto-resolution is on
func (s *AlertEvaluator) evaluate(ctx context.Context, medicineID string, alertType repository.AlertType, firing bool, current, threshold int, now time.Time) (*repository.StockAlert, error) {
	if firing {
		return s.raise(ctx, &repository.StockAlert{
			MedicineID:      medicineID,
			AlertType:       alertType,
			CurrentQuantity: current,
			ThresholdValue:  threshold,
		}, now)
	}
	if !s.opts.AutoResolveAlerts {
		return nil, nil
	}

	resolved, err := s.repos.Alerts.ResolveActive(ctx, medicineID, alertType, now)
	if err != nil {
		return nil, err
	}
	if resolved > 0 {
		s.logger.Info().
			Str("medicine_id", medicineID).
			Str("alert_type", string(alertType)).
			Msg("alert auto-resolved")
	}
	return nil, nil
}

// raise inserts the alert unless an active one for the same key exists
func (s *AlertEvaluator) raise(ctx context.Context, alert *repository.StockAlert, now time.Time) (*repository.StockAlert, error) {
	exists, err := s.repos.Alerts.ExistsActive(ctx, alert.MedicineID, alert.AlertType, alert.BatchID)
	if err != nil || exists {
		return nil, err
	}

	alert.CreatedAt = now
	if err := s.repos.Alerts.Create(ctx, alert); err != nil {
		// a concurrent sweep won the partial unique index
		if errors.Is(err, errors.ErrConflict) {
			return nil, nil
		}
		return nil, err
	}

	s.metrics.RecordAlertCreated(string(alert.AlertType))
	s.publisher.PublishAlertGenerated(ctx, alert)
	return alert, nil
}

// AcknowledgeAlert records that a staff member has seen an alert
func (s *AlertEvaluator) AcknowledgeAlert(ctx context.Context, id, staffID string) (*repository.StockAlert, error) {
	if strings.TrimSpace(staffID) == "" {
		return nil, errors.InvalidArgument("staff_id", "is required")
	}
	return s.repos.Alerts.Acknowledge(ctx, id, staffID, s.now())
}

// ResolveAlert closes an alert
func (s *AlertEvaluator) ResolveAlert(ctx context.Context, id string) (*repository.StockAlert, error) {
	alert, err := s.repos.Alerts.Resolve(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("alert_id", id).Str("medicine_id", alert.MedicineID).Msg("alert resolved")
	return alert, nil
}

// GetActiveAlerts lists every active alert, newest first
func (s *AlertEvaluator) GetActiveAlerts(ctx context.Context) ([]*repository.StockAlert, error) {
	return s.repos.Alerts.List(ctx, repository.AlertFilter{})
}

// ListAlerts lists alerts matching f
func (s *AlertEvaluator) ListAlerts(ctx context.Context, f repository.AlertFilter) ([]*repository.StockAlert, error) {
	return s.repos.Alerts.List(ctx, f)
}
