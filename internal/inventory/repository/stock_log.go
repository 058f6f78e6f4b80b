package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/medflow/pharmacy-inventory/pkg/database"
)

// LogReason classifies a stock log entry
type LogReason string

const (
	ReasonSold       LogReason = "sold"
	ReasonDamage     LogReason = "damage"
	ReasonExpired    LogReason = "expired"
	ReasonWaste      LogReason = "waste"
	ReasonCorrection LogReason = "correction"
	ReasonReturned   LogReason = "returned"
	ReasonAdjustment LogReason = "adjustment"
)

// StockLogEntry is one append-only audit line. A negative QuantityUsed records a stock increase.
type StockLogEntry struct {
	ID            string    `db:"id" json:"id"`
	MedicineID    string    `db:"medicine_id" json:"medicine_id"`
	BatchID       string    `db:"batch_id" json:"batch_id"`
	QuantityUsed  int       `db:"quantity_used" json:"quantity_used"`
	Reason        LogReason `db:"reason" json:"reason"`
	IssuedTo      *string   `db:"issued_to" json:"issued_to,omitempty"`
	ReferenceType *string   `db:"reference_type" json:"reference_type,omitempty"`
	ReferenceID   *string   `db:"reference_id" json:"reference_id,omitempty"`
	StaffID       *string   `db:"staff_id" json:"staff_id,omitempty"`
	// Depleted marks the sold line that took a medicine's eligible stock to zero
	Depleted      bool      `db:"depleted" json:"depleted"`
	LoggedAt      time.Time `db:"logged_at" json:"logged_at"`
}

// DailyConsumption is the sold quantity of one calendar day (UTC)
type DailyConsumption struct {
	Day      time.Time `db:"day" json:"day"`
	Quantity int       `db:"quantity" json:"quantity"`
}

// StockLogRepository appends and aggregates stock log entries
type StockLogRepository struct {
	db *database.DB
}

// NewStockLogRepository creates a new stock log repository
func NewStockLogRepository(db *database.DB) *StockLogRepository {
	return &StockLogRepository{db: db}
}

// Append writes one entry
func (r *StockLogRepository) Append(ctx context.Context, e *StockLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_logs (
			id, medicine_id, batch_id, quantity_used, reason, issued_to,
			reference_type, reference_id, staff_id, depleted, logged_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Querier(ctx).ExecContext(ctx, query,
		e.ID, e.MedicineID, e.BatchID, e.QuantityUsed, e.Reason, e.IssuedTo,
		e.ReferenceType, e.ReferenceID, e.StaffID, e.Depleted, e.LoggedAt,
	)
	return database.MapError(err)
}

// ExistsForReference reports whether any entry was logged for an external reference
func (r *StockLogRepository) ExistsForReference(ctx context.Context, referenceType, referenceID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM stock_logs WHERE reference_type = $1 AND reference_id = $2)`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &exists, query, referenceType, referenceID); err != nil {
		return false, database.MapError(err)
	}
	return exists, nil
}

// ListByBatch returns a batch's entries oldest first
func (r *StockLogRepository) ListByBatch(ctx context.Context, batchID string) ([]*StockLogEntry, error) {
	var entries []*StockLogEntry
	query := `SELECT * FROM stock_logs WHERE batch_id = $1 ORDER BY logged_at, id`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &entries, query, batchID); err != nil {
		return nil, database.MapError(err)
	}
	return entries, nil
}

// DailySold sums sold quantities per day for a medicine since the given time
func (r *StockLogRepository) DailySold(ctx context.Context, medicineID string, since time.Time) ([]DailyConsumption, error) {
	var days []DailyConsumption
	query := `
		SELECT date_trunc('day', logged_at AT TIME ZONE 'UTC') AS day, SUM(quantity_used) AS quantity
		FROM stock_logs
		WHERE medicine_id = $1 AND reason = 'sold' AND logged_at >= $2
		GROUP BY day
		ORDER BY day
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &days, query, medicineID, since); err != nil {
		return nil, database.MapError(err)
	}
	return days, nil
}

// TotalSold sums sold quantities for a medicine since the given time
func (r *StockLogRepository) TotalSold(ctx context.Context, medicineID string, since time.Time) (int, error) {
	var total int
	query := `
		SELECT COALESCE(SUM(quantity_used), 0)
		FROM stock_logs
		WHERE medicine_id = $1 AND reason = 'sold' AND logged_at >= $2
	`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &total, query, medicineID, since); err != nil {
		return 0, database.MapError(err)
	}
	return total, nil
}

// MedicineSales is the sold total of one medicine over a window
type MedicineSales struct {
	MedicineID string `db:"medicine_id" json:"medicine_id"`
	Name       string `db:"name" json:"medicine_name"`
	TotalSold  int    `db:"total_sold" json:"total_sold"`
}

// SlowMover is an active medicine with little or no demand over a window
type SlowMover struct {
	MedicineID        string `db:"medicine_id" json:"medicine_id"`
	Name              string `db:"name" json:"medicine_name"`
	QuantityAvailable int    `db:"quantity_available" json:"quantity_available"`
	TotalSold         int    `db:"total_sold" json:"total_sold"`
}

// StockoutSummary counts the times a medicine's eligible stock was sold out
type StockoutSummary struct {
	MedicineID     string    `db:"medicine_id" json:"medicine_id"`
	Name           string    `db:"name" json:"medicine_name"`
	StockoutEvents int       `db:"stockout_events" json:"stockout_events"`
	LastStockoutAt time.Time `db:"last_stockout_at" json:"last_stockout_at"`
}

// MonthlyConsumption is the sold quantity of one calendar month (UTC), formatted YYYY-MM
type MonthlyConsumption struct {
	Month    string `db:"month" json:"month"`
	Quantity int    `db:"quantity" json:"quantity"`
}

// TopSold ranks medicines by sold quantity since the given time, highest first
func (r *StockLogRepository) TopSold(ctx context.Context, since time.Time, limit int) ([]MedicineSales, error) {
	sales := []MedicineSales{}
	query := `
		SELECT l.medicine_id, m.name, SUM(l.quantity_used) AS total_sold
		FROM stock_logs l
		JOIN medicines m ON m.id = l.medicine_id
		WHERE l.reason = 'sold' AND l.logged_at >= $1
		GROUP BY l.medicine_id, m.name
		ORDER BY total_sold DESC, m.name
		LIMIT $2
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &sales, query, since, limit); err != nil {
		return nil, database.MapError(err)
	}
	return sales, nil
}

// SlowMovers lists active medicines that sold fewer than below units since the
// given time, including those that sold nothing
func (r *StockLogRepository) SlowMovers(ctx context.Context, since time.Time, below int) ([]SlowMover, error) {
	movers := []SlowMover{}
	query := `
		SELECT m.id AS medicine_id, m.name,
			COALESCE((SELECT SUM(i.quantity_available) FROM inventory i WHERE i.medicine_id = m.id), 0) AS quantity_available,
			COALESCE(SUM(l.quantity_used), 0) AS total_sold
		FROM medicines m
		LEFT JOIN stock_logs l
			ON l.medicine_id = m.id AND l.reason = 'sold' AND l.logged_at >= $1
		WHERE m.is_active = true
		GROUP BY m.id, m.name
		HAVING COALESCE(SUM(l.quantity_used), 0) < $2
		ORDER BY total_sold, m.name
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &movers, query, since, below); err != nil {
		return nil, database.MapError(err)
	}
	return movers, nil
}

// Stockouts counts depleting sales per medicine since the given time, most frequent first
func (r *StockLogRepository) Stockouts(ctx context.Context, since time.Time) ([]StockoutSummary, error) {
	summaries := []StockoutSummary{}
	query := `
		SELECT l.medicine_id, m.name, COUNT(*) AS stockout_events, MAX(l.logged_at) AS last_stockout_at
		FROM stock_logs l
		JOIN medicines m ON m.id = l.medicine_id
		WHERE l.depleted = true AND l.logged_at >= $1
		GROUP BY l.medicine_id, m.name
		ORDER BY stockout_events DESC, m.name
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &summaries, query, since); err != nil {
		return nil, database.MapError(err)
	}
	return summaries, nil
}

// MonthlySold sums sold quantities per calendar month for a medicine since the given time
func (r *StockLogRepository) MonthlySold(ctx context.Context, medicineID string, since time.Time) ([]MonthlyConsumption, error) {
	months := []MonthlyConsumption{}
	query := `
		SELECT to_char(date_trunc('month', logged_at AT TIME ZONE 'UTC'), 'YYYY-MM') AS month,
			SUM(quantity_used) AS quantity
		FROM stock_logs
		WHERE medicine_id = $1 AND reason = 'sold' AND logged_at >= $2
		GROUP BY month
		ORDER BY month
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &months, query, medicineID, since); err != nil {
		return nil, database.MapError(err)
	}
	return months, nil
}
