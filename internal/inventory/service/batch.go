package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/medflow/pharmacy-inventory/internal/inventory/events"
	"github.com/medflow/pharmacy-inventory/internal/inventory/metrics"
	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/database"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
	"github.com/shopspring/decimal"
)

// CreateBatchInput describes a received lot
type CreateBatchInput struct {
	MedicineID       string          `json:"-"`
	BatchNumber      string          `json:"batch_number" validate:"required,max=100"`
	ManufactureDate  time.Time       `json:"manufacture_date" validate:"required"`
	ExpiryDate       time.Time       `json:"expiry_date" validate:"required"`
	CostPrice        decimal.Decimal `json:"cost_price"`
	SupplierID       *string         `json:"supplier_id,omitempty" validate:"omitempty,uuid"`
	QuantityReceived int             `json:"quantity_received" validate:"gte=0"`
	StaffID          string          `json:"-"`
}

// BatchDetails is a batch with its ledger record
type BatchDetails struct {
	*repository.MedicineBatch
	Inventory  *repository.InventoryRecord `json:"inventory,omitempty"`
	TotalUnits int                         `json:"total_units"`
}

// BatchService is the batch registry: receipt, expiry and deactivation of lots
type BatchService struct {
	db        *database.DB
	repos     *repository.Repositories
	medicines MedicineLookup
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Collector
	opts      Options
	now       Clock
	logger    *logger.Logger
}

// NewBatchService creates a new batch service
func NewBatchService(
	db *database.DB,
	repos *repository.Repositories,
	medicines MedicineLookup,
	publisher *events.InventoryEventPublisher,
	collector *metrics.Collector,
	opts Options,
	log *logger.Logger,
) *BatchService {
	return &BatchService{
		db:        db,
		repos:     repos,
		medicines: medicines,
		publisher: publisher,
		metrics:   collector,
		opts:      opts,
		now:       systemClock,
		logger:    log.WithComponent("batch-service"),
	}
}

// SetClock replaces the time source
func (s *BatchService) SetClock(c Clock) {
	s.now = c
}

// CreateBatch registers a lot and opens its inventory record in one transaction
func (s *BatchService) CreateBatch(ctx context.Context, in CreateBatchInput) (*repository.MedicineBatch, error) {
	in.BatchNumber = strings.TrimSpace(in.BatchNumber)
	if err := validateCreateBatch(in); err != nil {
		return nil, err
	}

	medicine, err := s.medicines.GetByID(ctx, in.MedicineID)
	if err != nil {
		return nil, err
	}

	exists, err := s.repos.Batches.ExistsByNumber(ctx, in.MedicineID, in.BatchNumber)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.Conflict("batch number already exists for this medicine")
	}

	now := s.now()
	batch := &repository.MedicineBatch{
		MedicineID:      in.MedicineID,
		BatchNumber:     in.BatchNumber,
		ManufactureDate: in.ManufactureDate,
		ExpiryDate:      in.ExpiryDate,
		CostPrice:       in.CostPrice,
		SupplierID:      in.SupplierID,
		ReceivedDate:    now,
		IsActive:        true,
	}

	err = s.db.InTx(ctx, s.opts.tx(), func(ctx context.Context) error {
		if err := s.repos.Batches.Create(ctx, batch); err != nil {
			return err
		}

		record := &repository.InventoryRecord{
			MedicineID:        in.MedicineID,
			BatchID:           batch.ID,
			QuantityAvailable: in.QuantityReceived,
			ReorderLevel:      medicine.MinimumStockThreshold,
			ReorderQuantity:   s.opts.DefaultReorderQuantity,
			LastStockUpdate:   now,
		}
		if err := s.repos.Inventory.Create(ctx, record); err != nil {
			return err
		}

		if in.QuantityReceived == 0 {
			return nil
		}
		return s.repos.StockLogs.Append(ctx, &repository.StockLogEntry{
			MedicineID:    in.MedicineID,
			BatchID:       batch.ID,
			QuantityUsed:  -in.QuantityReceived,
			Reason:        repository.ReasonAdjustment,
			ReferenceType: strPtr("receipt"),
			StaffID:       strPtr(in.StaffID),
			LoggedAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("medicine_id", batch.MedicineID).
		Str("batch_id", batch.ID).
		Str("batch_number", batch.BatchNumber).
		Int("quantity", in.QuantityReceived).
		Msg("batch received")
	s.publisher.PublishBatchCreated(ctx, batch, in.QuantityReceived)

	return batch, nil
}

func validateCreateBatch(in CreateBatchInput) error {
	switch {
	case in.MedicineID == "":
		return errors.InvalidArgument("medicine_id", "is required")
	case in.BatchNumber == "":
		return errors.InvalidArgument("batch_number", "is required")
	case in.QuantityReceived < 0:
		return errors.InvalidArgument("quantity_received", "must not be negative")
	case in.CostPrice.IsNegative():
		return errors.InvalidArgument("cost_price", "must not be negative")
	case !in.ExpiryDate.After(in.ManufactureDate):
		return errors.InvalidArgument("expiry_date", "must be after manufacture_date")
	}
	return nil
}

// ScanAndMarkExpired marks every batch whose expiry has passed and moves its
// available units into the expired bucket. Each batch commits on its own;
// failures are collected and the scan moves on. The count covers batches this
// call marked, so repeating a scan with the same now returns 0.
func (s *BatchService) ScanAndMarkExpired(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repos.Batches.ListDueForExpiry(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list batches due for expiry: %w", err)
	}

	count := 0
	var errs []error
	for _, batch := range due {
		marked, moved, err := s.expireBatch(ctx, batch, now)
		if err != nil {
			s.logger.WithError(err).WithMedicine(batch.MedicineID).Error().
				Str("batch_id", batch.ID).
				Msg("failed to expire batch")
			errs = append(errs, fmt.Errorf("batch %s: %w", batch.ID, err))
			continue
		}
		if !marked {
			continue
		}

		count++
		s.logger.Info().
			Str("batch_id", batch.ID).
			Str("medicine_id", batch.MedicineID).
			Int("quantity", moved).
			Msg("batch expired")
		s.publisher.PublishBatchExpired(ctx, batch, moved)
	}

	s.metrics.RecordBatchesExpired(count)
	return count, errors.Join(errs...)
}

// ScanExpiredNow runs ScanAndMarkExpired at the service clock's current time
func (s *BatchService) ScanExpiredNow(ctx context.Context) (int, error) {
	return s.ScanAndMarkExpired(ctx, s.now())
}

func (s *BatchService) expireBatch(ctx context.Context, batch *repository.MedicineBatch, now time.Time) (bool, int, error) {
	var marked bool
	var moved int

	err := s.db.InTx(ctx, s.opts.tx(), func(ctx context.Context) error {
		marked, moved = false, 0

		ok, err := s.repos.Batches.MarkExpired(ctx, batch.ID, now)
		if err != nil || !ok {
			return err
		}
		marked = true

		moves, err := s.repos.Inventory.MoveAllAvailableToExpired(ctx, batch.ID, now)
		if err != nil {
			return err
		}
		for _, m := range moves {
			moved += m.Quantity
			if err := s.repos.StockLogs.Append(ctx, &repository.StockLogEntry{
				MedicineID:    m.MedicineID,
				BatchID:       m.BatchID,
				QuantityUsed:  m.Quantity,
				Reason:        repository.ReasonExpired,
				ReferenceType: strPtr("expiry_scan"),
				LoggedAt:      now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return marked, moved, nil
}

// GetExpiringSoon lists unexpired batches whose expiry falls within the next days
func (s *BatchService) GetExpiringSoon(ctx context.Context, days int) ([]*repository.MedicineBatch, error) {
	if days < 0 {
		return nil, errors.InvalidArgument("days", "must not be negative")
	}
	now := s.now()
	return s.repos.Batches.ListExpiring(ctx, repository.ExpiringFilter{
		After: now,
		Until: now.AddDate(0, 0, days),
	})
}

// Deactivate withdraws a batch from FEFO selection
func (s *BatchService) Deactivate(ctx context.Context, batchID, reason string) (*repository.MedicineBatch, error) {
	reason = strings.TrimSpace(reason)
	batch, err := s.repos.Batches.Deactivate(ctx, batchID, strPtr(reason), s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("medicine_id", batch.MedicineID).
		Str("reason", reason).
		Msg("batch deactivated")
	return batch, nil
}

// GetBatchesForMedicine lists a medicine's batches by ascending expiry
func (s *BatchService) GetBatchesForMedicine(ctx context.Context, medicineID string, includeExpired bool) ([]*repository.MedicineBatch, error) {
	return s.repos.Batches.ListByMedicine(ctx, medicineID, includeExpired)
}

// GetBatch returns a batch with its inventory record
func (s *BatchService) GetBatch(ctx context.Context, batchID string) (*BatchDetails, error) {
	batch, err := s.repos.Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return s.withInventory(ctx, batch)
}

// GetBatchByNumber looks a batch up by its lot number. Lot numbers are unique
// per medicine only, so medicineID narrows the match when given; without it the
// earliest received batch with that number wins.
func (s *BatchService) GetBatchByNumber(ctx context.Context, batchNumber, medicineID string) (*BatchDetails, error) {
	batchNumber = strings.TrimSpace(batchNumber)
	if batchNumber == "" {
		return nil, errors.InvalidArgument("batch_number", "is required")
	}
	batch, err := s.repos.Batches.FindByNumber(ctx, batchNumber, strings.TrimSpace(medicineID))
	if err != nil {
		return nil, err
	}
	return s.withInventory(ctx, batch)
}

func (s *BatchService) withInventory(ctx context.Context, batch *repository.MedicineBatch) (*BatchDetails, error) {
	details := &BatchDetails{MedicineBatch: batch}
	record, err := s.repos.Inventory.Get(ctx, batch.MedicineID, batch.ID)
	switch {
	case err == nil:
		details.Inventory = record
		details.TotalUnits = record.Total()
	case !errors.Is(err, errors.ErrNotFound):
		return nil, err
	}
	return details, nil
}
