package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Inventory events (published)
	EventBatchCreated   = "inventory.batch.created"
	EventBatchExpired   = "inventory.batch.expired"
	EventStockDeducted  = "inventory.stock.deducted"
	EventStockAdjusted  = "inventory.stock.adjusted"
	EventAlertGenerated = "inventory.alert.generated"

	// Pharmacy events (consumed)
	EventOrderDispensed = "pharmacy.order.dispensed"
)

// Exchange names
const (
	ExchangeInventoryEvents = "inventory.events"
	ExchangePharmacyEvents  = "pharmacy.events"
	ExchangeDeadLetter      = "dlx.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// BatchCreatedEvent is published when stock is received as a new batch
type BatchCreatedEvent struct {
	MedicineID       string    `json:"medicine_id"`
	BatchID          string    `json:"batch_id"`
	BatchNumber      string    `json:"batch_number"`
	ExpiryDate       time.Time `json:"expiry_date"`
	QuantityReceived int       `json:"quantity_received"`
}

// BatchExpiredEvent is published by the expiry scan for every batch it marks
type BatchExpiredEvent struct {
	MedicineID      string    `json:"medicine_id"`
	BatchID         string    `json:"batch_id"`
	BatchNumber     string    `json:"batch_number"`
	ExpiryDate      time.Time `json:"expiry_date"`
	QuantityExpired int       `json:"quantity_expired"`
}

// DeductionLine is one batch's share of a FEFO deduction
type DeductionLine struct {
	BatchID          string    `json:"batch_id"`
	BatchNumber      string    `json:"batch_number"`
	ExpiryDate       time.Time `json:"expiry_date"`
	QuantityDeducted int       `json:"quantity_deducted"`
}

// StockDeductedEvent is published after a FEFO deduction commits
type StockDeductedEvent struct {
	MedicineID    string          `json:"medicine_id"`
	Quantity      int             `json:"quantity"`
	IssuedTo      string          `json:"issued_to,omitempty"`
	ReferenceType string          `json:"reference_type"`
	StaffID       string          `json:"staff_id,omitempty"`
	Lines         []DeductionLine `json:"lines"`
}

// StockAdjustedEvent is published when stock is adjusted
type StockAdjustedEvent struct {
	AdjustmentID   string `json:"adjustment_id"`
	MedicineID     string `json:"medicine_id"`
	BatchID        string `json:"batch_id"`
	AdjustmentType string `json:"adjustment_type"`
	Quantity       int    `json:"quantity"`
	StaffID        string `json:"staff_id"`
	Reason         string `json:"reason,omitempty"`
}

// AlertGeneratedEvent is published when an alert is generated
type AlertGeneratedEvent struct {
	AlertID         string `json:"alert_id"`
	AlertType       string `json:"alert_type"`
	MedicineID      string `json:"medicine_id"`
	BatchID         string `json:"batch_id,omitempty"`
	CurrentQuantity int    `json:"current_quantity"`
	ThresholdValue  int    `json:"threshold_value"`
}

// OrderDispensedEvent is consumed from the pharmacy order flow.
// Each line is deducted with FEFO.
type OrderDispensedEvent struct {
	OrderID  string              `json:"order_id"`
	IssuedTo string              `json:"issued_to"`
	StaffID  string              `json:"staff_id"`
	Lines    []OrderDispensedLine `json:"lines"`
}

// OrderDispensedLine is a single medicine on a dispensed order
type OrderDispensedLine struct {
	MedicineID string `json:"medicine_id"`
	Quantity   int    `json:"quantity"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.NewString()
}
