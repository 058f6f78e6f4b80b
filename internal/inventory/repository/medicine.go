package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/medflow/pharmacy-inventory/pkg/database"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/shopspring/decimal"
)

// Medicine is the catalog entry the stock engine reads thresholds from
type Medicine struct {
	ID                    string          `db:"id" json:"id"`
	Name                  string          `db:"name" json:"name"`
	UnitPrice             decimal.Decimal `db:"unit_price" json:"unit_price"`
	MinimumStockThreshold int             `db:"minimum_stock_threshold" json:"minimum_stock_threshold"`
	MaximumStockLevel     *int            `db:"maximum_stock_level" json:"maximum_stock_level,omitempty"`
	IsActive              bool            `db:"is_active" json:"is_active"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// MedicineRepository handles medicine catalog reads
type MedicineRepository struct {
	db *database.DB
}

// NewMedicineRepository creates a new medicine repository
func NewMedicineRepository(db *database.DB) *MedicineRepository {
	return &MedicineRepository{db: db}
}

// Create inserts a catalog entry. The catalog is owned elsewhere; this exists for seeding.
func (r *MedicineRepository) Create(ctx context.Context, m *Medicine) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO medicines (id, name, unit_price, minimum_stock_threshold, maximum_stock_level, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		m.ID, m.Name, m.UnitPrice, m.MinimumStockThreshold, m.MaximumStockLevel, m.IsActive,
	).Scan(&m.CreatedAt)
	return database.MapError(err)
}

// GetByID gets a medicine by ID
func (r *MedicineRepository) GetByID(ctx context.Context, id string) (*Medicine, error) {
	var m Medicine
	query := `SELECT * FROM medicines WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("medicine")
		}
		return nil, database.MapError(err)
	}
	return &m, nil
}

// ListActive returns every active medicine ordered by name
func (r *MedicineRepository) ListActive(ctx context.Context) ([]*Medicine, error) {
	var medicines []*Medicine
	query := `SELECT * FROM medicines WHERE is_active = true ORDER BY name, id`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &medicines, query); err != nil {
		return nil, database.MapError(err)
	}
	return medicines, nil
}
