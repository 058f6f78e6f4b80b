package events

import (
	"context"
	"time"

	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
	"github.com/medflow/pharmacy-inventory/pkg/messaging"
)

// InventoryEventPublisher publishes inventory events after their transaction commits.
// A nil publisher is valid and drops every event, which is how the service runs with messaging disabled.
type InventoryEventPublisher struct {
	sender messaging.EventSender
	logger *logger.Logger
}

// NewInventoryEventPublisher declares the inventory exchange and returns a publisher on it
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, source string, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, source, log)
	if err != nil {
		return nil, err
	}
	return NewWithSender(publisher, log), nil
}

// NewWithSender wraps any EventSender
func NewWithSender(sender messaging.EventSender, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{
		sender: sender,
		logger: log.WithComponent("event-publisher"),
	}
}

// PublishBatchCreated publishes a batch created event
func (p *InventoryEventPublisher) PublishBatchCreated(ctx context.Context, batch *repository.MedicineBatch, quantityReceived int) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventBatchCreated, batch.MedicineID, messaging.BatchCreatedEvent{
		MedicineID:       batch.MedicineID,
		BatchID:          batch.ID,
		BatchNumber:      batch.BatchNumber,
		ExpiryDate:       batch.ExpiryDate,
		QuantityReceived: quantityReceived,
	})
}

// PublishBatchExpired publishes a batch expired event
func (p *InventoryEventPublisher) PublishBatchExpired(ctx context.Context, batch *repository.MedicineBatch, quantityExpired int) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventBatchExpired, batch.MedicineID, messaging.BatchExpiredEvent{
		MedicineID:      batch.MedicineID,
		BatchID:         batch.ID,
		BatchNumber:     batch.BatchNumber,
		ExpiryDate:      batch.ExpiryDate,
		QuantityExpired: quantityExpired,
	})
}

// DeductedLine is the publisher's view of one batch in a deduction trail
type DeductedLine struct {
	BatchID     string
	BatchNumber string
	ExpiryDate  time.Time
	Quantity    int
}

// PublishStockDeducted publishes a stock deducted event
func (p *InventoryEventPublisher) PublishStockDeducted(ctx context.Context, medicineID string, quantity int, issuedTo, referenceType, staffID string, lines []DeductedLine) {
	if p == nil {
		return
	}
	data := messaging.StockDeductedEvent{
		MedicineID:    medicineID,
		Quantity:      quantity,
		IssuedTo:      issuedTo,
		ReferenceType: referenceType,
		StaffID:       staffID,
		Lines:         make([]messaging.DeductionLine, len(lines)),
	}
	for i, l := range lines {
		data.Lines[i] = messaging.DeductionLine{
			BatchID:          l.BatchID,
			BatchNumber:      l.BatchNumber,
			ExpiryDate:       l.ExpiryDate,
			QuantityDeducted: l.Quantity,
		}
	}
	p.publish(ctx, messaging.EventStockDeducted, medicineID, data)
}

// PublishStockAdjusted publishes a stock adjusted event
func (p *InventoryEventPublisher) PublishStockAdjusted(ctx context.Context, adj *repository.StockAdjustment) {
	if p == nil {
		return
	}
	reason := ""
	if adj.Reason != nil {
		reason = *adj.Reason
	}
	p.publish(ctx, messaging.EventStockAdjusted, adj.MedicineID, messaging.StockAdjustedEvent{
		AdjustmentID:   adj.ID,
		MedicineID:     adj.MedicineID,
		BatchID:        adj.BatchID,
		AdjustmentType: string(adj.AdjustmentType),
		Quantity:       adj.AdjustmentQuantity,
		StaffID:        adj.StaffID,
		Reason:         reason,
	})
}

// PublishAlertGenerated publishes an alert generated event
func (p *InventoryEventPublisher) PublishAlertGenerated(ctx context.Context, alert *repository.StockAlert) {
	if p == nil {
		return
	}
	batchID := ""
	if alert.BatchID != nil {
		batchID = *alert.BatchID
	}
	p.publish(ctx, messaging.EventAlertGenerated, alert.MedicineID, messaging.AlertGeneratedEvent{
		AlertID:         alert.ID,
		AlertType:       string(alert.AlertType),
		MedicineID:      alert.MedicineID,
		BatchID:         batchID,
		CurrentQuantity: alert.CurrentQuantity,
		ThresholdValue:  alert.ThresholdValue,
	})
}

// publish never fails the caller; the state change is already committed
func (p *InventoryEventPublisher) publish(ctx context.Context, eventType, medicineID string, data any) {
	if p.sender == nil {
		return
	}
	if err := p.sender.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("medicine_id", medicineID).
			Msg("failed to publish event")
	}
}
