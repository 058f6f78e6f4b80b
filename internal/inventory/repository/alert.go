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
)

// AlertType is the condition an alert reports
type AlertType string

const (
	AlertLowStock      AlertType = "low_stock"
	AlertCriticalStock AlertType = "critical_stock"
	AlertExpiryWarning AlertType = "expiry_warning"
	AlertOverstock     AlertType = "overstock"
)

// StockAlert represents a stock alert
type StockAlert struct {
	ID              string     `db:"id" json:"id"`
	MedicineID      string     `db:"medicine_id" json:"medicine_id"`
	BatchID         *string    `db:"batch_id" json:"batch_id,omitempty"`
	AlertType       AlertType  `db:"alert_type" json:"alert_type"`
	CurrentQuantity int        `db:"current_quantity" json:"current_quantity"`
	ThresholdValue  int        `db:"threshold_value" json:"threshold_value"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	IsAcknowledged  bool       `db:"is_acknowledged" json:"is_acknowledged"`
	AcknowledgedBy  *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// AlertFilter narrows alert listings
type AlertFilter struct {
	MedicineID      string
	AlertType       AlertType
	Acknowledged    *bool
	IncludeResolved bool
}

// AlertRepository handles alert persistence
type AlertRepository struct {
	db *database.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts an active alert. A concurrent sweep that already inserted the
// same active alert surfaces as a Conflict from the partial unique index.
func (r *AlertRepository) Create(ctx context.Context, a *StockAlert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_alerts (
			id, medicine_id, batch_id, alert_type, current_quantity, threshold_value,
			is_active, is_acknowledged, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, true, false, $7)
	`
	_, err := r.db.Querier(ctx).ExecContext(ctx, query,
		a.ID, a.MedicineID, a.BatchID, a.AlertType, a.CurrentQuantity, a.ThresholdValue, a.CreatedAt,
	)
	if err != nil {
		return database.MapError(err)
	}
	a.IsActive = true
	return nil
}

// ExistsActive checks for an active alert with the same medicine and type,
// and the same batch when batchID is given
func (r *AlertRepository) ExistsActive(ctx context.Context, medicineID string, alertType AlertType, batchID *string) (bool, error) {
	var exists bool
	var err error
	q := r.db.Querier(ctx)
	if batchID != nil {
		err = sqlx.GetContext(ctx, q, &exists, `
			SELECT EXISTS(
				SELECT 1 FROM stock_alerts
				WHERE medicine_id = $1 AND alert_type = $2 AND batch_id = $3 AND is_active = true
			)`, medicineID, alertType, *batchID)
	} else {
		err = sqlx.GetContext(ctx, q, &exists, `
			SELECT EXISTS(
				SELECT 1 FROM stock_alerts
				WHERE medicine_id = $1 AND alert_type = $2 AND batch_id IS NULL AND is_active = true
			)`, medicineID, alertType)
	}
	if err != nil {
		return false, database.MapError(err)
	}
	return exists, nil
}

// GetByID gets an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*StockAlert, error) {
	var a StockAlert
	query := `SELECT * FROM stock_alerts WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &a, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("alert")
		}
		return nil, database.MapError(err)
	}
	return &a, nil
}

// Acknowledge marks an alert as seen by a staff member. The alert stays active.
func (r *AlertRepository) Acknowledge(ctx context.Context, id, staffID string, now time.Time) (*StockAlert, error) {
	return r.update(ctx, `
		UPDATE stock_alerts
		SET is_acknowledged = true, acknowledged_by = $2, acknowledged_at = $3
		WHERE id = $1
		RETURNING *
	`, id, staffID, now)
}

// Resolve deactivates an alert
func (r *AlertRepository) Resolve(ctx context.Context, id string, now time.Time) (*StockAlert, error) {
	return r.update(ctx, `
		UPDATE stock_alerts
		SET is_active = false, resolved_at = COALESCE(resolved_at, $2)
		WHERE id = $1
		RETURNING *
	`, id, now)
}

// ResolveActive resolves the active medicine-level alert of a type, if any.
// It returns the number of alerts resolved.
func (r *AlertRepository) ResolveActive(ctx context.Context, medicineID string, alertType AlertType, now time.Time) (int64, error) {
	result, err := r.db.Querier(ctx).ExecContext(ctx, `
		UPDATE stock_alerts
		SET is_active = false, resolved_at = $3
		WHERE medicine_id = $1 AND alert_type = $2 AND batch_id IS NULL AND is_active = true
	`, medicineID, alertType, now)
	if err != nil {
		return 0, database.MapError(err)
	}
	return result.RowsAffected()
}

// List returns alerts matching f, newest first. Only active alerts unless IncludeResolved.
func (r *AlertRepository) List(ctx context.Context, f AlertFilter) ([]*StockAlert, error) {
	q := psql.Select("*").
		From("stock_alerts").
		OrderBy("created_at DESC", "id DESC")

	if !f.IncludeResolved {
		q = q.Where(sq.Eq{"is_active": true})
	}
	if f.MedicineID != "" {
		q = q.Where(sq.Eq{"medicine_id": f.MedicineID})
	}
	if f.AlertType != "" {
		q = q.Where(sq.Eq{"alert_type": f.AlertType})
	}
	if f.Acknowledged != nil {
		q = q.Where(sq.Eq{"is_acknowledged": *f.Acknowledged})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build alert query: %w", err)
	}

	var alerts []*StockAlert
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &alerts, query, args...); err != nil {
		return nil, database.MapError(err)
	}
	return alerts, nil
}

func (r *AlertRepository) update(ctx context.Context, query string, args ...any) (*StockAlert, error) {
	var a StockAlert
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &a, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("alert")
		}
		return nil, database.MapError(err)
	}
	return &a, nil
}
