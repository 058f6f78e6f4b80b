package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/medflow/pharmacy-inventory/internal/inventory/events"
	"github.com/medflow/pharmacy-inventory/internal/inventory/metrics"
	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/database"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
)

// DefaultReferenceType is recorded on sold log entries when the caller gives none
const DefaultReferenceType = "order"

// DeductRequest asks for quantity units of a medicine
type DeductRequest struct {
	MedicineID    string `json:"-"`
	Quantity      int    `json:"quantity" validate:"required,gt=0"`
	IssuedTo      string `json:"issued_to,omitempty" validate:"omitempty,max=255"`
	ReferenceType string `json:"reference_type,omitempty" validate:"omitempty,max=50"`
	ReferenceID   string `json:"reference_id,omitempty" validate:"omitempty,max=100"`
	StaffID       string `json:"-"`
}

// BatchDeduction is one batch's share of a deduction
type BatchDeduction struct {
	BatchID          string    `json:"batch_id"`
	BatchNumber      string    `json:"batch_number"`
	ExpiryDate       time.Time `json:"expiry_date"`
	QuantityDeducted int       `json:"quantity_deducted"`
}

// FEFOEngine deducts stock from the batches that expire first
type FEFOEngine struct {
	db        *database.DB
	repos     *repository.Repositories
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Collector
	opts      Options
	now       Clock
	logger    *logger.Logger
}

// NewFEFOEngine creates a new FEFO deduction engine
func NewFEFOEngine(
	db *database.DB,
	repos *repository.Repositories,
	publisher *events.InventoryEventPublisher,
	collector *metrics.Collector,
	opts Options,
	log *logger.Logger,
) *FEFOEngine {
	return &FEFOEngine{
		db:        db,
		repos:     repos,
		publisher: publisher,
		metrics:   collector,
		opts:      opts,
		now:       systemClock,
		logger:    log.WithComponent("fefo-engine"),
	}
}

// SetClock replaces the time source
func (e *FEFOEngine) SetClock(c Clock) {
	e.now = c
}

// DeductFEFO takes req.Quantity units from the eligible batches of a medicine
// in expiry order. The whole walk is one transaction: either every unit is
// deducted or nothing is.
func (e *FEFOEngine) DeductFEFO(ctx context.Context, req DeductRequest) ([]BatchDeduction, error) {
	if err := normalizeDeduct(&req); err != nil {
		return nil, err
	}

	start := time.Now()
	now := e.now()
	var trail []BatchDeduction

	err := e.db.InTx(ctx, e.opts.tx(), func(ctx context.Context) error {
		var err error
		trail, err = e.deduct(ctx, req, now)
		return err
	})

	e.metrics.RecordDeduction(metrics.Outcome(err), req.Quantity, len(trail), time.Since(start))
	if err != nil {
		e.logger.WithMedicine(req.MedicineID).Warn().Err(err).
			Int("quantity", req.Quantity).
			Msg("fefo deduction failed")
		return nil, err
	}

	e.deducted(ctx, req, trail)
	return trail, nil
}

// OrderDeduction is the trail of one line of a multi-line deduction
type OrderDeduction struct {
	MedicineID string           `json:"medicine_id"`
	Quantity   int              `json:"quantity"`
	Batches    []BatchDeduction `json:"batches"`
}

// DeductOrder deducts every line of an order in one transaction. A shortfall
// on any line rolls back all of them. When referenceID was already deducted,
// nothing happens and applied is false. Every line must carry the same
// reference type, which together with referenceID keys idempotency.
func (e *FEFOEngine) DeductOrder(ctx context.Context, referenceID string, in []DeductRequest) (result []OrderDeduction, applied bool, err error) {
	if referenceID == "" {
		return nil, false, errors.InvalidArgument("reference_id", "is required")
	}
	if len(in) == 0 {
		return nil, false, errors.InvalidArgument("lines", "must not be empty")
	}

	lines := make([]DeductRequest, len(in))
	copy(lines, in)
	for i := range lines {
		lines[i].ReferenceID = referenceID
		if err := normalizeDeduct(&lines[i]); err != nil {
			return nil, false, err
		}
		if lines[i].ReferenceType != lines[0].ReferenceType {
			return nil, false, errors.InvalidArgument("reference_type", "must be the same on every line")
		}
	}

	start := time.Now()
	now := e.now()
	refType := lines[0].ReferenceType

	err = e.db.InTx(ctx, e.opts.tx(), func(ctx context.Context) error {
		result = nil

		seen, err := e.repos.StockLogs.ExistsForReference(ctx, refType, referenceID)
		if err != nil || seen {
			return err
		}

		for _, line := range lines {
			trail, err := e.deduct(ctx, line, now)
			if err != nil {
				return fmt.Errorf("medicine %s: %w", line.MedicineID, err)
			}
			result = append(result, OrderDeduction{MedicineID: line.MedicineID, Quantity: line.Quantity, Batches: trail})
		}
		applied = true
		return nil
	})

	if err != nil {
		e.metrics.RecordDeduction(metrics.Outcome(err), 0, 0, time.Since(start))
		e.logger.Warn().Err(err).Str("reference_id", referenceID).Msg("order deduction failed")
		return nil, false, err
	}
	if !applied {
		e.logger.Info().Str("reference_id", referenceID).Msg("order already deducted, skipping")
		return nil, false, nil
	}

	for i, line := range lines {
		e.metrics.RecordDeduction(metrics.OutcomeOK, line.Quantity, len(result[i].Batches), time.Since(start))
		e.deducted(ctx, line, result[i].Batches)
	}
	return result, true, nil
}

// deduct walks the FEFO candidates of one medicine inside the caller's transaction
func (e *FEFOEngine) deduct(ctx context.Context, req DeductRequest, now time.Time) ([]BatchDeduction, error) {
	candidates, err := e.repos.Inventory.LockFEFOCandidates(ctx, req.MedicineID, now)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.NoStockAvailable(req.MedicineID)
	}

	stocked := 0
	for _, c := range candidates {
		if c.Record != nil {
			stocked += c.Record.QuantityAvailable
		}
	}

	var trail []BatchDeduction
	remaining := req.Quantity
	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		if c.Record == nil || c.Record.QuantityAvailable == 0 {
			continue
		}

		take := min(remaining, c.Record.QuantityAvailable)
		if err := e.repos.Inventory.ConsumeAvailable(ctx, req.MedicineID, c.BatchID, take, true, now); err != nil {
			return nil, err
		}
		if err := e.repos.StockLogs.Append(ctx, &repository.StockLogEntry{
			MedicineID:    req.MedicineID,
			BatchID:       c.BatchID,
			QuantityUsed:  take,
			Reason:        repository.ReasonSold,
			IssuedTo:      strPtr(req.IssuedTo),
			ReferenceType: strPtr(req.ReferenceType),
			ReferenceID:   strPtr(req.ReferenceID),
			StaffID:       strPtr(req.StaffID),
			Depleted:      take == remaining && stocked == req.Quantity,
			LoggedAt:      now,
		}); err != nil {
			return nil, err
		}

		trail = append(trail, BatchDeduction{
			BatchID:          c.BatchID,
			BatchNumber:      c.BatchNumber,
			ExpiryDate:       c.ExpiryDate,
			QuantityDeducted: take,
		})
		remaining -= take
	}

	if remaining > 0 {
		return nil, shortfall(req.Quantity, req.Quantity-remaining)
	}
	return trail, nil
}

func (e *FEFOEngine) deducted(ctx context.Context, req DeductRequest, trail []BatchDeduction) {
	e.logger.WithMedicine(req.MedicineID).Info().
		Int("quantity", req.Quantity).
		Int("batches", len(trail)).
		Str("reference_type", req.ReferenceType).
		Msg("stock deducted")
	e.publisher.PublishStockDeducted(ctx, req.MedicineID, req.Quantity, req.IssuedTo, req.ReferenceType, req.StaffID, deductedLines(trail))
}

func normalizeDeduct(req *DeductRequest) error {
	req.MedicineID = strings.TrimSpace(req.MedicineID)
	if req.MedicineID == "" {
		return errors.InvalidArgument("medicine_id", "is required")
	}
	if req.Quantity <= 0 {
		return errors.InvalidArgument("quantity", "must be positive")
	}
	if req.ReferenceType == "" {
		req.ReferenceType = DefaultReferenceType
	}
	return nil
}

// ValidateAvailability reports whether a FEFO walk at the current time could
// supply quantity units
func (e *FEFOEngine) ValidateAvailability(ctx context.Context, medicineID string, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, errors.InvalidArgument("quantity", "must be positive")
	}
	available, err := e.repos.Inventory.GetEligibleAvailable(ctx, medicineID, e.now())
	if err != nil {
		return false, err
	}
	return available >= quantity, nil
}

func shortfall(requested, deducted int) *errors.AppError {
	return errors.InsufficientStock(requested, deducted).
		WithDetails(map[string]string{"deducted": strconv.Itoa(deducted)})
}

func deductedLines(trail []BatchDeduction) []events.DeductedLine {
	lines := make([]events.DeductedLine, len(trail))
	for i, d := range trail {
		lines[i] = events.DeductedLine{
			BatchID:     d.BatchID,
			BatchNumber: d.BatchNumber,
			ExpiryDate:  d.ExpiryDate,
			Quantity:    d.QuantityDeducted,
		}
	}
	return lines
}
