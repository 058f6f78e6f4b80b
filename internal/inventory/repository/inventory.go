package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/medflow/pharmacy-inventory/pkg/database"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
)

// InventoryRecord holds the quantity buckets of one (medicine, batch) pair.
// available + reserved + damaged + expired only ever grows through receipts and returns.
type InventoryRecord struct {
	ID                string     `db:"id" json:"id"`
	MedicineID        string     `db:"medicine_id" json:"medicine_id"`
	BatchID           string     `db:"batch_id" json:"batch_id"`
	QuantityAvailable int        `db:"quantity_available" json:"quantity_available"`
	QuantityReserved  int        `db:"quantity_reserved" json:"quantity_reserved"`
	QuantityDamaged   int        `db:"quantity_damaged" json:"quantity_damaged"`
	QuantityExpired   int        `db:"quantity_expired" json:"quantity_expired"`
	ReorderLevel      int        `db:"reorder_level" json:"reorder_level"`
	ReorderQuantity   int        `db:"reorder_quantity" json:"reorder_quantity"`
	LastStockUpdate   time.Time  `db:"last_stock_update" json:"last_stock_update"`
	LastDispensedAt   *time.Time `db:"last_dispensed_at" json:"last_dispensed_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// Total is the physical unit count across all four buckets
func (r *InventoryRecord) Total() int {
	return r.QuantityAvailable + r.QuantityReserved + r.QuantityDamaged + r.QuantityExpired
}

// Bucket names a non-available quantity bucket that units can be moved into
type Bucket string

const (
	BucketDamaged Bucket = "damaged"
	BucketExpired Bucket = "expired"
)

func (b Bucket) column() (string, error) {
	switch b {
	case BucketDamaged:
		return "quantity_damaged", nil
	case BucketExpired:
		return "quantity_expired", nil
	default:
		return "", errors.InvalidArgument("bucket", fmt.Sprintf("unknown bucket %q", b))
	}
}

// FEFOCandidate is a deduction-eligible batch with its locked inventory record.
// Record is nil when the batch has never been stocked.
type FEFOCandidate struct {
	BatchID     string
	BatchNumber string
	ExpiryDate  time.Time
	Record      *InventoryRecord
}

// ExpiredMove reports units moved from available to expired by the expiry scan
type ExpiredMove struct {
	MedicineID string `db:"medicine_id"`
	BatchID    string `db:"batch_id"`
	Quantity   int    `db:"moved"`
}

// InventoryRepository is the ledger over inventory records. Every transfer is a
// single conditional UPDATE, so a bucket can never be driven below zero even
// without an explicit row lock.
type InventoryRepository struct {
	db *database.DB
}

// NewInventoryRepository creates a new inventory ledger repository
func NewInventoryRepository(db *database.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// Create inserts the initial record for a batch
func (r *InventoryRepository) Create(ctx context.Context, rec *InventoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory (
			id, medicine_id, batch_id, quantity_available, quantity_reserved,
			quantity_damaged, quantity_expired, reorder_level, reorder_quantity, last_stock_update
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		rec.ID, rec.MedicineID, rec.BatchID, rec.QuantityAvailable, rec.QuantityReserved,
		rec.QuantityDamaged, rec.QuantityExpired, rec.ReorderLevel, rec.ReorderQuantity, rec.LastStockUpdate,
	).Scan(&rec.CreatedAt)
	return database.MapError(err)
}

// Get returns the record for a (medicine, batch) pair
func (r *InventoryRepository) Get(ctx context.Context, medicineID, batchID string) (*InventoryRecord, error) {
	return r.get(ctx, `SELECT * FROM inventory WHERE medicine_id = $1 AND batch_id = $2`, medicineID, batchID)
}

// GetForUpdate returns the record and row-locks it until the surrounding transaction ends
func (r *InventoryRepository) GetForUpdate(ctx context.Context, medicineID, batchID string) (*InventoryRecord, error) {
	return r.get(ctx, `SELECT * FROM inventory WHERE medicine_id = $1 AND batch_id = $2 FOR UPDATE`, medicineID, batchID)
}

// MoveAvailableToBucket moves qty units from available into the damaged or expired bucket
func (r *InventoryRepository) MoveAvailableToBucket(ctx context.Context, medicineID, batchID string, qty int, bucket Bucket, now time.Time) error {
	col, err := bucket.column()
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE inventory
		SET quantity_available = quantity_available - $3,
			%[1]s = %[1]s + $3,
			last_stock_update = $4
		WHERE medicine_id = $1 AND batch_id = $2 AND quantity_available >= $3
	`, col)
	return r.execGuarded(ctx, query, medicineID, batchID, qty, qty, now)
}

// ConsumeAvailable removes qty units from available without crediting another bucket.
// dispensed also stamps last_dispensed_at, which feeds overstock detection.
func (r *InventoryRepository) ConsumeAvailable(ctx context.Context, medicineID, batchID string, qty int, dispensed bool, now time.Time) error {
	query := `
		UPDATE inventory
		SET quantity_available = quantity_available - $3,
			last_stock_update = $4,
			last_dispensed_at = CASE WHEN $5 THEN $4 ELSE last_dispensed_at END
		WHERE medicine_id = $1 AND batch_id = $2 AND quantity_available >= $3
	`
	return r.execGuarded(ctx, query, medicineID, batchID, qty, qty, now, dispensed)
}

// IncreaseAvailable adds qty units to available (receipts and returns)
func (r *InventoryRepository) IncreaseAvailable(ctx context.Context, medicineID, batchID string, qty int, now time.Time) error {
	query := `
		UPDATE inventory
		SET quantity_available = quantity_available + $3, last_stock_update = $4
		WHERE medicine_id = $1 AND batch_id = $2
	`
	return r.execGuarded(ctx, query, medicineID, batchID, 0, qty, now)
}

// AdjustAvailable applies a signed delta to available. A delta that would take
// available below zero is rejected with InsufficientStock.
func (r *InventoryRepository) AdjustAvailable(ctx context.Context, medicineID, batchID string, delta int, now time.Time) error {
	query := `
		UPDATE inventory
		SET quantity_available = quantity_available + $3, last_stock_update = $4
		WHERE medicine_id = $1 AND batch_id = $2 AND quantity_available + $3 >= 0
	`
	need := 0
	if delta < 0 {
		need = -delta
	}
	return r.execGuarded(ctx, query, medicineID, batchID, need, delta, now)
}

// MoveAllAvailableToExpired zeroes available on every record of a batch, crediting expired
func (r *InventoryRepository) MoveAllAvailableToExpired(ctx context.Context, batchID string, now time.Time) ([]ExpiredMove, error) {
	query := `
		WITH moved AS (
			SELECT id, quantity_available AS qty
			FROM inventory
			WHERE batch_id = $1 AND quantity_available > 0
			FOR UPDATE
		)
		UPDATE inventory i
		SET quantity_expired = i.quantity_expired + moved.qty,
			quantity_available = 0,
			last_stock_update = $2
		FROM moved
		WHERE i.id = moved.id
		RETURNING i.medicine_id, i.batch_id, moved.qty AS moved
	`
	var moves []ExpiredMove
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &moves, query, batchID, now); err != nil {
		return nil, database.MapError(err)
	}
	return moves, nil
}

// GetTotalAvailable sums available across every batch of a medicine
func (r *InventoryRepository) GetTotalAvailable(ctx context.Context, medicineID string) (int, error) {
	var total int
	query := `SELECT COALESCE(SUM(quantity_available), 0) FROM inventory WHERE medicine_id = $1`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &total, query, medicineID); err != nil {
		return 0, database.MapError(err)
	}
	return total, nil
}

// GetEligibleAvailable sums available across batches a FEFO walk at now could draw from
func (r *InventoryRepository) GetEligibleAvailable(ctx context.Context, medicineID string, now time.Time) (int, error) {
	var total int
	query := `
		SELECT COALESCE(SUM(i.quantity_available), 0)
		FROM inventory i
		JOIN medicine_batches b ON b.id = i.batch_id
		WHERE i.medicine_id = $1
			AND b.is_active = true AND b.is_expired = false AND b.expiry_date > $2
	`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &total, query, medicineID, now); err != nil {
		return 0, database.MapError(err)
	}
	return total, nil
}

// LockFEFOCandidates returns the deduction-eligible batches of a medicine in
// FEFO order (expiry, then batch id) and locks their inventory rows. Batch rows
// are share-locked so the expiry scan or a deactivation cannot change
// eligibility while the caller's transaction is open.
func (r *InventoryRepository) LockFEFOCandidates(ctx context.Context, medicineID string, now time.Time) ([]FEFOCandidate, error) {
	q := r.db.Querier(ctx)

	var batches []struct {
		ID          string    `db:"id"`
		BatchNumber string    `db:"batch_number"`
		ExpiryDate  time.Time `db:"expiry_date"`
	}
	batchQuery := `
		SELECT id, batch_number, expiry_date
		FROM medicine_batches
		WHERE medicine_id = $1 AND is_active = true AND is_expired = false AND expiry_date > $2
		ORDER BY expiry_date, id
		FOR SHARE
	`
	if err := sqlx.SelectContext(ctx, q, &batches, batchQuery, medicineID, now); err != nil {
		return nil, database.MapError(err)
	}
	if len(batches) == 0 {
		return nil, nil
	}

	ids := make([]string, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}

	var recs []*InventoryRecord
	recQuery := `
		SELECT * FROM inventory
		WHERE medicine_id = $1 AND batch_id = ANY($2::uuid[])
		ORDER BY batch_id
		FOR UPDATE
	`
	if err := sqlx.SelectContext(ctx, q, &recs, recQuery, medicineID, pq.Array(ids)); err != nil {
		return nil, database.MapError(err)
	}

	byBatch := make(map[string]*InventoryRecord, len(recs))
	for _, rec := range recs {
		byBatch[rec.BatchID] = rec
	}

	candidates := make([]FEFOCandidate, len(batches))
	for i, b := range batches {
		candidates[i] = FEFOCandidate{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			ExpiryDate:  b.ExpiryDate,
			Record:      byBatch[b.ID],
		}
	}
	return candidates, nil
}

// GetPrimaryRecord returns the oldest record of a medicine, the one stock-level alerts evaluate
func (r *InventoryRepository) GetPrimaryRecord(ctx context.Context, medicineID string) (*InventoryRecord, error) {
	return r.get(ctx, `
		SELECT * FROM inventory
		WHERE medicine_id = $1
		ORDER BY created_at, id
		LIMIT 1
	`, medicineID)
}

func (r *InventoryRepository) get(ctx context.Context, query string, args ...any) (*InventoryRecord, error) {
	var rec InventoryRecord
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &rec, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inventory record")
		}
		return nil, database.MapError(err)
	}
	return &rec, nil
}

// execGuarded runs a conditional update on one record. When it touches no row
// the record is re-read to tell a missing record apart from a short one.
// args are passed after (medicineID, batchID); need is the available quantity the guard required.
func (r *InventoryRepository) execGuarded(ctx context.Context, query, medicineID, batchID string, need int, args ...any) error {
	all := append([]any{medicineID, batchID}, args...)
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, all...)
	if err != nil {
		return database.MapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger update: rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	rec, err := r.Get(ctx, medicineID, batchID)
	if err != nil {
		return err
	}
	return errors.InsufficientStock(need, rec.QuantityAvailable)
}
