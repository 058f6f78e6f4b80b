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

// AdjustmentType is the kind of non-FEFO stock mutation
type AdjustmentType string

const (
	AdjustmentDamaged    AdjustmentType = "damaged"
	AdjustmentExpired    AdjustmentType = "expired"
	AdjustmentWaste      AdjustmentType = "waste"
	AdjustmentCorrection AdjustmentType = "correction"
	AdjustmentReturned   AdjustmentType = "returned"
)

// AdjustmentTypes lists every adjustment type
var AdjustmentTypes = []AdjustmentType{
	AdjustmentDamaged,
	AdjustmentExpired,
	AdjustmentWaste,
	AdjustmentCorrection,
	AdjustmentReturned,
}

// StockAdjustment records one adjustment and its later approval
type StockAdjustment struct {
	ID                 string          `db:"id" json:"id"`
	MedicineID         string          `db:"medicine_id" json:"medicine_id"`
	BatchID            string          `db:"batch_id" json:"batch_id"`
	AdjustmentType     AdjustmentType  `db:"adjustment_type" json:"adjustment_type"`
	AdjustmentQuantity int             `db:"adjustment_quantity" json:"adjustment_quantity"`
	Reason             *string         `db:"reason" json:"reason,omitempty"`
	CostImpact         decimal.Decimal `db:"cost_impact" json:"cost_impact"`
	StaffID            string          `db:"staff_id" json:"staff_id"`
	ApprovedBy         *string         `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt         *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// AdjustmentFilter narrows GetAdjustmentHistory. Zero values mean "any".
type AdjustmentFilter struct {
	MedicineID string
	BatchID    string
	Type       AdjustmentType
	Since      *time.Time
	Limit      int
	Offset     int
}

// AdjustmentRepository handles stock adjustment persistence
type AdjustmentRepository struct {
	db *database.DB
}

// NewAdjustmentRepository creates a new adjustment repository
func NewAdjustmentRepository(db *database.DB) *AdjustmentRepository {
	return &AdjustmentRepository{db: db}
}

// Create inserts an adjustment row
func (r *AdjustmentRepository) Create(ctx context.Context, a *StockAdjustment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_adjustments (
			id, medicine_id, batch_id, adjustment_type, adjustment_quantity,
			reason, cost_impact, staff_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Querier(ctx).ExecContext(ctx, query,
		a.ID, a.MedicineID, a.BatchID, a.AdjustmentType, a.AdjustmentQuantity,
		a.Reason, a.CostImpact, a.StaffID, a.CreatedAt,
	)
	return database.MapError(err)
}

// GetByID gets an adjustment by ID
func (r *AdjustmentRepository) GetByID(ctx context.Context, id string) (*StockAdjustment, error) {
	var a StockAdjustment
	query := `SELECT * FROM stock_adjustments WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &a, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("adjustment")
		}
		return nil, database.MapError(err)
	}
	return &a, nil
}

// Approve stamps approval fields. Re-approving overwrites them.
func (r *AdjustmentRepository) Approve(ctx context.Context, id, approvedBy string, now time.Time) (*StockAdjustment, error) {
	var a StockAdjustment
	query := `
		UPDATE stock_adjustments
		SET approved_by = $2, approved_at = $3
		WHERE id = $1
		RETURNING *
	`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &a, query, id, approvedBy, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("adjustment")
		}
		return nil, database.MapError(err)
	}
	return &a, nil
}

// List returns adjustments matching f, newest first
func (r *AdjustmentRepository) List(ctx context.Context, f AdjustmentFilter) ([]*StockAdjustment, error) {
	q := psql.Select("*").
		From("stock_adjustments").
		OrderBy("created_at DESC", "id DESC")

	if f.MedicineID != "" {
		q = q.Where(sq.Eq{"medicine_id": f.MedicineID})
	}
	if f.BatchID != "" {
		q = q.Where(sq.Eq{"batch_id": f.BatchID})
	}
	if f.Type != "" {
		q = q.Where(sq.Eq{"adjustment_type": f.Type})
	}
	if f.Since != nil {
		q = q.Where(sq.GtOrEq{"created_at": *f.Since})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build adjustment query: %w", err)
	}

	var out []*StockAdjustment
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &out, query, args...); err != nil {
		return nil, database.MapError(err)
	}
	return out, nil
}
