package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/medflow/pharmacy-inventory/pkg/database"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/shopspring/decimal"
)

// psql is the squirrel builder used for every dynamic query in this package
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// MedicineBatch represents a received lot of a medicine
type MedicineBatch struct {
	ID                 string          `db:"id" json:"id"`
	MedicineID         string          `db:"medicine_id" json:"medicine_id"`
	BatchNumber        string          `db:"batch_number" json:"batch_number"`
	ManufactureDate    time.Time       `db:"manufacture_date" json:"manufacture_date"`
	ExpiryDate         time.Time       `db:"expiry_date" json:"expiry_date"`
	CostPrice          decimal.Decimal `db:"cost_price" json:"cost_price"`
	SupplierID         *string         `db:"supplier_id" json:"supplier_id,omitempty"`
	ReceivedDate       time.Time       `db:"received_date" json:"received_date"`
	IsActive           bool            `db:"is_active" json:"is_active"`
	IsExpired          bool            `db:"is_expired" json:"is_expired"`
	DeactivationReason *string         `db:"deactivation_reason" json:"deactivation_reason,omitempty"`
	DeactivatedAt      *time.Time      `db:"deactivated_at" json:"deactivated_at,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// ExpiringFilter selects batches whose expiry falls in (After, Until]
type ExpiringFilter struct {
	MedicineID string
	After      time.Time
	Until      time.Time
	ActiveOnly bool
}

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create creates a new batch
func (r *BatchRepository) Create(ctx context.Context, batch *MedicineBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}

	query := `
		INSERT INTO medicine_batches (
			id, medicine_id, batch_number, manufacture_date, expiry_date, cost_price,
			supplier_id, received_date, is_active, is_expired
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		batch.ID, batch.MedicineID, batch.BatchNumber, batch.ManufactureDate, batch.ExpiryDate,
		batch.CostPrice, batch.SupplierID, batch.ReceivedDate, batch.IsActive, batch.IsExpired,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
	return database.MapError(err)
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*MedicineBatch, error) {
	var batch MedicineBatch
	query := `SELECT * FROM medicine_batches WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, database.MapError(err)
	}
	return &batch, nil
}

// FindByNumber returns the earliest received batch with this number, limited
// to one medicine when medicineID is set
func (r *BatchRepository) FindByNumber(ctx context.Context, batchNumber, medicineID string) (*MedicineBatch, error) {
	q := psql.Select("*").
		From("medicine_batches").
		Where(sq.Eq{"batch_number": batchNumber}).
		OrderBy("received_date ASC", "id ASC").
		Limit(1)
	if medicineID != "" {
		q = q.Where(sq.Eq{"medicine_id": medicineID})
	}

	batches, err := r.selectBatches(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, errors.NotFound("batch")
	}
	return batches[0], nil
}

// ExistsByNumber reports whether a medicine already has a batch with this number
func (r *BatchRepository) ExistsByNumber(ctx context.Context, medicineID, batchNumber string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM medicine_batches WHERE medicine_id = $1 AND batch_number = $2)`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &exists, query, medicineID, batchNumber); err != nil {
		return false, database.MapError(err)
	}
	return exists, nil
}

// ListByMedicine lists a medicine's batches by ascending expiry
func (r *BatchRepository) ListByMedicine(ctx context.Context, medicineID string, includeExpired bool) ([]*MedicineBatch, error) {
	q := psql.Select("*").
		From("medicine_batches").
		Where(sq.Eq{"medicine_id": medicineID}).
		OrderBy("expiry_date ASC", "id ASC")
	if !includeExpired {
		q = q.Where(sq.Eq{"is_expired": false})
	}
	return r.selectBatches(ctx, q)
}

// ListExpiring lists non-expired batches with After < expiry_date <= Until, soonest first
func (r *BatchRepository) ListExpiring(ctx context.Context, f ExpiringFilter) ([]*MedicineBatch, error) {
	q := psql.Select("*").
		From("medicine_batches").
		Where(sq.Eq{"is_expired": false}).
		Where(sq.Gt{"expiry_date": f.After}).
		Where(sq.LtOrEq{"expiry_date": f.Until}).
		OrderBy("expiry_date ASC", "id ASC")
	if f.MedicineID != "" {
		q = q.Where(sq.Eq{"medicine_id": f.MedicineID})
	}
	if f.ActiveOnly {
		q = q.Where(sq.Eq{"is_active": true})
	}
	return r.selectBatches(ctx, q)
}

// ListDueForExpiry lists batches not yet marked expired whose expiry_date <= now
func (r *BatchRepository) ListDueForExpiry(ctx context.Context, now time.Time) ([]*MedicineBatch, error) {
	var batches []*MedicineBatch
	query := `
		SELECT * FROM medicine_batches
		WHERE is_expired = false AND expiry_date <= $1
		ORDER BY expiry_date, id
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &batches, query, now); err != nil {
		return nil, database.MapError(err)
	}
	return batches, nil
}

// MarkExpired flips is_expired for one batch. It reports false when another
// caller already marked it, which keeps the expiry scan idempotent.
func (r *BatchRepository) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE medicine_batches
		SET is_expired = true, updated_at = $2
		WHERE id = $1 AND is_expired = false AND expiry_date <= $2
	`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, id, now)
	if err != nil {
		return false, database.MapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark expired: rows affected: %w", err)
	}
	return rows == 1, nil
}

// Deactivate excludes a batch from future FEFO selection. Quantities are untouched.
// A nil reason leaves deactivation_reason NULL.
func (r *BatchRepository) Deactivate(ctx context.Context, id string, reason *string, now time.Time) (*MedicineBatch, error) {
	var batch MedicineBatch
	query := `
		UPDATE medicine_batches
		SET is_active = false, deactivation_reason = $2, deactivated_at = $3, updated_at = $3
		WHERE id = $1
		RETURNING *
	`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &batch, query, id, reason, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, database.MapError(err)
	}
	return &batch, nil
}

func (r *BatchRepository) selectBatches(ctx context.Context, q sq.SelectBuilder) ([]*MedicineBatch, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build batch query: %w", err)
	}
	var batches []*MedicineBatch
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &batches, query, args...); err != nil {
		return nil, database.MapError(err)
	}
	return batches, nil
}
