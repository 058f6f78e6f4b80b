package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// MedicineFixture represents a medicine row
type MedicineFixture struct {
	ID                    string
	Name                  string
	UnitPrice             decimal.Decimal
	MinimumStockThreshold int
	MaximumStockLevel     *int
	IsActive              bool
}

// BatchFixture represents a batch row together with its inventory record
type BatchFixture struct {
	ID              string
	MedicineID      string
	BatchNumber     string
	ManufactureDate time.Time
	ExpiryDate      time.Time
	CostPrice       decimal.Decimal
	IsActive        bool
	IsExpired       bool
	Available       int
	ReorderLevel    int
}

// FixtureFactory inserts rows with sensible defaults
type FixtureFactory struct {
	db       sqlx.ExtContext
	sequence int
}

// NewFixtureFactory creates a fixture factory writing through db
func NewFixtureFactory(db sqlx.ExtContext) *FixtureFactory {
	return &FixtureFactory{db: db}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Medicine inserts a medicine
func (f *FixtureFactory) Medicine(t *testing.T, opts ...func(*MedicineFixture)) MedicineFixture {
	t.Helper()
	seq := f.nextSeq()

	m := MedicineFixture{
		ID:                    uuid.New().String(),
		Name:                  fmt.Sprintf("Test Medicine %d", seq),
		UnitPrice:             decimal.NewFromFloat(2.50),
		MinimumStockThreshold: 10,
		IsActive:              true,
	}
	for _, opt := range opts {
		opt(&m)
	}

	_, err := f.db.ExecContext(context.Background(), `
		INSERT INTO medicines (id, name, unit_price, minimum_stock_threshold, maximum_stock_level, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Name, m.UnitPrice, m.MinimumStockThreshold, m.MaximumStockLevel, m.IsActive)
	if err != nil {
		t.Fatalf("failed to insert medicine fixture: %v", err)
	}
	return m
}

// WithThreshold sets the minimum stock threshold
func WithThreshold(n int) func(*MedicineFixture) {
	return func(m *MedicineFixture) {
		m.MinimumStockThreshold = n
	}
}

// WithMaximumStock sets the maximum stock level
func WithMaximumStock(n int) func(*MedicineFixture) {
	return func(m *MedicineFixture) {
		m.MaximumStockLevel = &n
	}
}

// Batch inserts a batch of medicineID with available units in its inventory record
func (f *FixtureFactory) Batch(t *testing.T, medicineID string, expiry time.Time, available int, opts ...func(*BatchFixture)) BatchFixture {
	t.Helper()
	seq := f.nextSeq()

	b := BatchFixture{
		ID:              uuid.New().String(),
		MedicineID:      medicineID,
		BatchNumber:     fmt.Sprintf("LOT-%04d", seq),
		ManufactureDate: expiry.AddDate(-2, 0, 0),
		ExpiryDate:      expiry,
		CostPrice:       decimal.NewFromFloat(1.25),
		IsActive:        true,
		Available:       available,
	}
	for _, opt := range opts {
		opt(&b)
	}

	ctx := context.Background()
	_, err := f.db.ExecContext(ctx, `
		INSERT INTO medicine_batches
			(id, medicine_id, batch_number, manufacture_date, expiry_date, cost_price, received_date, is_active, is_expired)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7, $8)`,
		b.ID, b.MedicineID, b.BatchNumber, b.ManufactureDate, b.ExpiryDate, b.CostPrice, b.IsActive, b.IsExpired)
	if err != nil {
		t.Fatalf("failed to insert batch fixture: %v", err)
	}

	_, err = f.db.ExecContext(ctx, `
		INSERT INTO inventory (id, medicine_id, batch_id, quantity_available, reorder_level)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), b.MedicineID, b.ID, b.Available, b.ReorderLevel)
	if err != nil {
		t.Fatalf("failed to insert inventory fixture: %v", err)
	}
	return b
}

// WithBatchNumber sets the batch number
func WithBatchNumber(n string) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.BatchNumber = n
	}
}

// WithCostPrice sets the batch cost price
func WithCostPrice(p decimal.Decimal) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.CostPrice = p
	}
}

// Inactive marks the batch deactivated
func Inactive() func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.IsActive = false
	}
}

// WithReorderLevel sets the inventory reorder level
func WithReorderLevel(n int) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.ReorderLevel = n
	}
}
