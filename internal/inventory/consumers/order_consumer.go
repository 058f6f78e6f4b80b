package consumers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/medflow/pharmacy-inventory/internal/inventory/service"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
	"github.com/medflow/pharmacy-inventory/pkg/messaging"
)

// OrderQueue is the queue the inventory service reads dispensed orders from
const OrderQueue = "inventory-service.order-events"

// OrderDeductor applies a dispensed order to stock
type OrderDeductor interface {
	DeductOrder(ctx context.Context, referenceID string, lines []service.DeductRequest) ([]service.OrderDeduction, bool, error)
}

// OrderEventConsumer deducts stock for orders dispensed by the pharmacy
type OrderEventConsumer struct {
	consumer *messaging.Consumer
	deductor OrderDeductor
	logger   *logger.Logger
}

// NewOrderEventConsumer declares the order queue, binds it and registers the handler
func NewOrderEventConsumer(rmq *messaging.RabbitMQ, deductor OrderDeductor, log *logger.Logger) (*OrderEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, OrderQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangePharmacyEvents, messaging.EventOrderDispensed); err != nil {
		return nil, err
	}

	c := &OrderEventConsumer{
		consumer: consumer,
		deductor: deductor,
		logger:   log.WithComponent("order-consumer"),
	}
	consumer.RegisterHandler(messaging.EventOrderDispensed, c.HandleOrderDispensed)

	return c, nil
}

// Start starts consuming messages
func (c *OrderEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// HandleOrderDispensed deducts all lines of an order. Business rejections
// are permanent; contention and infrastructure errors are retried.
func (c *OrderEventConsumer) HandleOrderDispensed(ctx context.Context, event *messaging.Event) error {
	var data messaging.OrderDispensedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode order dispensed event: %w", err))
	}
	if data.OrderID == "" || len(data.Lines) == 0 {
		return messaging.Permanent(fmt.Errorf("order dispensed event %s has no order id or lines", event.ID))
	}
	if err := validateOrderIDs(data); err != nil {
		return messaging.Permanent(fmt.Errorf("order dispensed event %s: %w", event.ID, err))
	}

	lines := make([]service.DeductRequest, len(data.Lines))
	for i, l := range data.Lines {
		lines[i] = service.DeductRequest{
			MedicineID:    l.MedicineID,
			Quantity:      l.Quantity,
			IssuedTo:      data.IssuedTo,
			ReferenceType: service.DefaultReferenceType,
			StaffID:       data.StaffID,
		}
	}

	result, applied, err := c.deductor.DeductOrder(ctx, data.OrderID, lines)
	if err != nil {
		if isRejection(err) {
			return messaging.Permanent(err)
		}
		return err
	}

	c.logger.Info().
		Str("order_id", data.OrderID).
		Int("lines", len(result)).
		Bool("applied", applied).
		Msg("order dispensed event processed")
	return nil
}

// validateOrderIDs checks the ids that end up in uuid columns, so a bad id is
// rejected here instead of failing inside the deduction transaction.
func validateOrderIDs(data messaging.OrderDispensedEvent) error {
	if data.StaffID != "" {
		if _, err := uuid.Parse(data.StaffID); err != nil {
			return errors.InvalidArgument("staff_id", "must be a valid UUID")
		}
	}
	for i, l := range data.Lines {
		if _, err := uuid.Parse(l.MedicineID); err != nil {
			return errors.InvalidArgument(fmt.Sprintf("lines[%d].medicine_id", i), "must be a valid UUID")
		}
	}
	return nil
}

// isRejection reports errors that will fail the same way on every redelivery
func isRejection(err error) bool {
	for _, kind := range []error{
		errors.ErrInsufficientStock,
		errors.ErrNoStockAvailable,
		errors.ErrValidation,
		errors.ErrNotFound,
		errors.ErrBadRequest,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
