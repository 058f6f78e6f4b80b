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

// AdjustmentInput is one adjustment against a (medicine, batch) record.
// Quantity is signed for corrections and positive for every other type.
type AdjustmentInput struct {
	MedicineID string
	BatchID    string
	Quantity   int
	StaffID    string
	Reason     string
}

// adjustmentHandler applies one adjustment type to the ledger and returns
// the quantity and reason to log
type adjustmentHandler struct {
	apply     func(ctx context.Context, repo *repository.InventoryRepository, in AdjustmentInput, now time.Time) error
	logReason repository.LogReason
	// logged maps the input quantity to the stock log quantity; negative means stock came in
	logged func(qty int) int
	signed bool
}

// sellable reports whether units added to batch could still be picked by FEFO
func sellable(batch *repository.MedicineBatch, now time.Time) bool {
	return batch.IsActive && !batch.IsExpired && batch.ExpiryDate.After(now)
}

func decrease(qty int) int { return qty }
func increase(qty int) int { return -qty }

var adjustmentHandlers = map[repository.AdjustmentType]adjustmentHandler{
	repository.AdjustmentDamaged: {
		apply: func(ctx context.Context, repo *repository.InventoryRepository, in AdjustmentInput, now time.Time) error {
			return repo.MoveAvailableToBucket(ctx, in.MedicineID, in.BatchID, in.Quantity, repository.BucketDamaged, now)
		},
		logReason: repository.ReasonDamage,
		logged:    decrease,
	},
	repository.AdjustmentExpired: {
		apply: func(ctx context.Context, repo *repository.InventoryRepository, in AdjustmentInput, now time.Time) error {
			return repo.MoveAvailableToBucket(ctx, in.MedicineID, in.BatchID, in.Quantity, repository.BucketExpired, now)
		},
		logReason: repository.ReasonExpired,
		logged:    decrease,
	},
	repository.AdjustmentWaste: {
		apply: func(ctx context.Context, repo *repository.InventoryRepository, in AdjustmentInput, now time.Time) error {
			return repo.ConsumeAvailable(ctx, in.MedicineID, in.BatchID, in.Quantity, false, now)
		},
		logReason: repository.ReasonWaste,
		logged:    decrease,
	},
	repository.AdjustmentCorrection: {
		apply: func(ctx context.Context, repo *repository.InventoryRepository, in AdjustmentInput, now time.Time) error {
			return repo.AdjustAvailable(ctx, in.MedicineID, in.BatchID, in.Quantity, now)
		},
		logReason: repository.ReasonCorrection,
		logged:    increase,
		signed:    true,
	},
	repository.AdjustmentReturned: {
		apply: func(ctx context.Context, repo *repository.InventoryRepository, in AdjustmentInput, now time.Time) error {
			return repo.IncreaseAvailable(ctx, in.MedicineID, in.BatchID, in.Quantity, now)
		},
		logReason: repository.ReasonReturned,
		logged:    increase,
	},
}

// AdjustmentService applies non-FEFO stock changes to a single batch
type AdjustmentService struct {
	db        *database.DB
	repos     *repository.Repositories
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Collector
	opts      Options
	now       Clock
	logger    *logger.Logger
}

// NewAdjustmentService creates a new adjustment service
func NewAdjustmentService(
	db *database.DB,
	repos *repository.Repositories,
	publisher *events.InventoryEventPublisher,
	collector *metrics.Collector,
	opts Options,
	log *logger.Logger,
) *AdjustmentService {
	return &AdjustmentService{
		db:        db,
		repos:     repos,
		publisher: publisher,
		metrics:   collector,
		opts:      opts,
		now:       systemClock,
		logger:    log.WithComponent("adjustment-service"),
	}
}

// SetClock replaces the time source
func (s *AdjustmentService) SetClock(c Clock) {
	s.now = c
}

// AdjustDamaged moves units from available to damaged
func (s *AdjustmentService) AdjustDamaged(ctx context.Context, in AdjustmentInput) (*repository.StockAdjustment, error) {
	return s.Adjust(ctx, repository.AdjustmentDamaged, in)
}

// AdjustExpired moves units from available to expired
func (s *AdjustmentService) AdjustExpired(ctx context.Context, in AdjustmentInput) (*repository.StockAdjustment, error) {
	return s.Adjust(ctx, repository.AdjustmentExpired, in)
}

// AdjustWaste writes units off available
func (s *AdjustmentService) AdjustWaste(ctx context.Context, in AdjustmentInput) (*repository.StockAdjustment, error) {
	return s.Adjust(ctx, repository.AdjustmentWaste, in)
}

// AdjustCorrection applies a signed count correction to available
func (s *AdjustmentService) AdjustCorrection(ctx context.Context, in AdjustmentInput) (*repository.StockAdjustment, error) {
	return s.Adjust(ctx, repository.AdjustmentCorrection, in)
}

// AdjustReturned puts returned units back into available
func (s *AdjustmentService) AdjustReturned(ctx context.Context, in AdjustmentInput) (*repository.StockAdjustment, error) {
	return s.Adjust(ctx, repository.AdjustmentReturned, in)
}

// Adjust runs one adjustment: the ledger change, its stock log line and the
// adjustment row commit together
func (s *AdjustmentService) Adjust(ctx context.Context, kind repository.AdjustmentType, in AdjustmentInput) (*repository.StockAdjustment, error) {
	handler, ok := adjustmentHandlers[kind]
	if !ok {
		return nil, errors.InvalidArgument("adjustment_type", fmt.Sprintf("unknown adjustment type %q", kind))
	}
	if err := validateAdjustment(handler, in); err != nil {
		return nil, err
	}

	now := s.now()
	adj := &repository.StockAdjustment{
		MedicineID:         in.MedicineID,
		BatchID:            in.BatchID,
		AdjustmentType:     kind,
		AdjustmentQuantity: in.Quantity,
		Reason:             strPtr(strings.TrimSpace(in.Reason)),
		StaffID:            in.StaffID,
		CreatedAt:          now,
	}

	err := s.db.InTx(ctx, s.opts.tx(), func(ctx context.Context) error {
		if _, err := s.repos.Inventory.GetForUpdate(ctx, in.MedicineID, in.BatchID); err != nil {
			return err
		}
		batch, err := s.repos.Batches.GetByID(ctx, in.BatchID)
		if err != nil {
			return err
		}
		if handler.logged(in.Quantity) < 0 && !sellable(batch, now) {
			return errors.Conflict("batch is expired or inactive; stock cannot be added")
		}

		if err := handler.apply(ctx, s.repos.Inventory, in, now); err != nil {
			return err
		}
		if err := s.repos.StockLogs.Append(ctx, &repository.StockLogEntry{
			MedicineID:    in.MedicineID,
			BatchID:       in.BatchID,
			QuantityUsed:  handler.logged(in.Quantity),
			Reason:        handler.logReason,
			ReferenceType: strPtr("adjustment"),
			StaffID:       strPtr(in.StaffID),
			LoggedAt:      now,
		}); err != nil {
			return err
		}

		adj.CostImpact = costImpact(in.Quantity, batch.CostPrice)
		return s.repos.Adjustments.Create(ctx, adj)
	})

	s.metrics.RecordAdjustment(string(kind), metrics.Outcome(err))
	if err != nil {
		return nil, err
	}

	s.logger.WithMedicine(in.MedicineID).Info().
		Str("adjustment_id", adj.ID).
		Str("adjustment_type", string(kind)).
		Str("batch_id", in.BatchID).
		Int("quantity", in.Quantity).
		Msg("stock adjusted")
	s.publisher.PublishStockAdjusted(ctx, adj)

	return adj, nil
}

func validateAdjustment(h adjustmentHandler, in AdjustmentInput) error {
	switch {
	case in.MedicineID == "":
		return errors.InvalidArgument("medicine_id", "is required")
	case in.BatchID == "":
		return errors.InvalidArgument("batch_id", "is required")
	case strings.TrimSpace(in.StaffID) == "":
		return errors.InvalidArgument("staff_id", "is required")
	case h.signed && in.Quantity == 0:
		return errors.InvalidArgument("quantity", "must not be zero")
	case !h.signed && in.Quantity <= 0:
		return errors.InvalidArgument("quantity", "must be positive")
	}
	return nil
}

// costImpact values the adjusted units at the batch cost price
func costImpact(qty int, costPrice decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(qty)).Mul(costPrice).Round(2)
}

// ApproveAdjustment records who approved an adjustment. Approval is an
// annotation; the stock change already took effect.
func (s *AdjustmentService) ApproveAdjustment(ctx context.Context, id, approvedBy string) (*repository.StockAdjustment, error) {
	if strings.TrimSpace(approvedBy) == "" {
		return nil, errors.InvalidArgument("approved_by", "is required")
	}
	adj, err := s.repos.Adjustments.Approve(ctx, id, approvedBy, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("adjustment_id", id).
		Str("approved_by", approvedBy).
		Msg("adjustment approved")
	return adj, nil
}

// GetAdjustmentHistory lists adjustments newest first
func (s *AdjustmentService) GetAdjustmentHistory(ctx context.Context, f repository.AdjustmentFilter) ([]*repository.StockAdjustment, error) {
	if f.Type != "" {
		if _, ok := adjustmentHandlers[f.Type]; !ok {
			return nil, errors.InvalidArgument("type", fmt.Sprintf("unknown adjustment type %q", f.Type))
		}
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, errors.InvalidArgument("limit", "must not be negative")
	}
	return s.repos.Adjustments.List(ctx, f)
}
