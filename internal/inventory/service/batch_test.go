package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
	"github.com/medflow/pharmacy-inventory/pkg/messaging"
	"github.com/medflow/pharmacy-inventory/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCreateBatch(t *testing.T) {
	valid := CreateBatchInput{
		MedicineID:       mockMedicine,
		BatchNumber:      "LOT-1",
		ManufactureDate:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiryDate:       time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		CostPrice:        decimal.NewFromFloat(0.8),
		QuantityReceived: 100,
	}
	require.NoError(t, validateCreateBatch(valid))

	tests := []struct {
		name  string
		field string
		edit  func(*CreateBatchInput)
	}{
		{"missing medicine", "medicine_id", func(in *CreateBatchInput) { in.MedicineID = "" }},
		{"missing batch number", "batch_number", func(in *CreateBatchInput) { in.BatchNumber = "" }},
		{"negative quantity", "quantity_received", func(in *CreateBatchInput) { in.QuantityReceived = -1 }},
		{"negative cost", "cost_price", func(in *CreateBatchInput) { in.CostPrice = decimal.NewFromInt(-1) }},
		{"expiry before manufacture", "expiry_date", func(in *CreateBatchInput) { in.ExpiryDate = in.ManufactureDate.AddDate(0, 0, -1) }},
		{"expiry equals manufacture", "expiry_date", func(in *CreateBatchInput) { in.ExpiryDate = in.ManufactureDate }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.edit(&in)

			err := validateCreateBatch(in)
			require.Error(t, err)

			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Contains(t, appErr.Details, tt.field)
		})
	}
}

func TestCreateBatch_OpensRecordAndLogsReceipt(t *testing.T) {
	env := newTestEnv(t, "batch-create", DefaultOptions())
	ctx := context.Background()
	med := env.fixtures.Medicine(t)

	batch, err := env.batches.CreateBatch(ctx, CreateBatchInput{
		MedicineID:       med.ID,
		BatchNumber:      "  LOT-A1  ",
		ManufactureDate:  env.days(-100),
		ExpiryDate:       env.days(400),
		CostPrice:        decimal.NewFromFloat(1.10),
		QuantityReceived: 120,
		StaffID:          testStaff,
	})
	require.NoError(t, err)
	assert.Equal(t, "LOT-A1", batch.BatchNumber)
	assert.True(t, batch.IsActive)
	assert.False(t, batch.IsExpired)

	rec := env.record(t, med.ID, batch.ID)
	assert.Equal(t, 120, rec.QuantityAvailable)
	assert.Equal(t, med.MinimumStockThreshold, rec.ReorderLevel)
	assert.Equal(t, DefaultOptions().DefaultReorderQuantity, rec.ReorderQuantity)

	logs, err := env.repos.StockLogs.ListByBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, -120, logs[0].QuantityUsed)
	assert.Equal(t, repository.ReasonAdjustment, logs[0].Reason)

	env.publisher.AssertEventPublished(t, messaging.EventBatchCreated)
}

func TestCreateBatch_DuplicateNumberConflicts(t *testing.T) {
	env := newTestEnv(t, "batch-duplicate", DefaultOptions())
	ctx := context.Background()
	med := env.fixtures.Medicine(t)

	in := CreateBatchInput{
		MedicineID:      med.ID,
		BatchNumber:     "LOT-DUP",
		ManufactureDate: env.days(-10),
		ExpiryDate:      env.days(300),
	}
	_, err := env.batches.CreateBatch(ctx, in)
	require.NoError(t, err)

	_, err = env.batches.CreateBatch(ctx, in)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConflict)

	// the same number under another medicine is fine
	other := env.fixtures.Medicine(t)
	in.MedicineID = other.ID
	_, err = env.batches.CreateBatch(ctx, in)
	assert.NoError(t, err)
}

func TestCreateBatch_UnknownMedicine(t *testing.T) {
	env := newTestEnv(t, "batch-unknown", DefaultOptions())

	_, err := env.batches.CreateBatch(context.Background(), CreateBatchInput{
		MedicineID:      "9b2e3f4a-0000-4000-8000-000000000000",
		BatchNumber:     "LOT-X",
		ManufactureDate: env.days(-10),
		ExpiryDate:      env.days(300),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestScanAndMarkExpired_IsIdempotent(t *testing.T) {
	env := newTestEnv(t, "batch-expiry-scan", DefaultOptions())
	ctx := context.Background()
	med := env.fixtures.Medicine(t)

	expired := env.fixtures.Batch(t, med.ID, env.days(-2), 30)
	fresh := env.fixtures.Batch(t, med.ID, env.days(30), 30)

	count, err := env.batches.ScanAndMarkExpired(ctx, env.now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rec := env.record(t, med.ID, expired.ID)
	assert.Equal(t, 0, rec.QuantityAvailable)
	assert.Equal(t, 30, rec.QuantityExpired)
	assert.Equal(t, 30, rec.Total(), "expiry moves units between buckets")
	assert.Equal(t, 30, env.available(t, med.ID, fresh.ID))

	batch, err := env.repos.Batches.GetByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.True(t, batch.IsExpired)

	count, err = env.batches.ScanAndMarkExpired(ctx, env.now)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 30, env.record(t, med.ID, expired.ID).QuantityExpired)

	logs, err := env.repos.StockLogs.ListByBatch(ctx, expired.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, repository.ReasonExpired, logs[0].Reason)

	assert.Len(t, env.publisher.Events(messaging.EventBatchExpired), 1)
}

func TestGetExpiringSoon(t *testing.T) {
	env := newTestEnv(t, "batch-expiring", DefaultOptions())
	ctx := context.Background()
	med := env.fixtures.Medicine(t)

	soon := env.fixtures.Batch(t, med.ID, env.days(10), 5)
	env.fixtures.Batch(t, med.ID, env.days(90), 5)
	env.fixtures.Batch(t, med.ID, env.days(-3), 5)

	batches, err := env.batches.GetExpiringSoon(ctx, 30)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, soon.ID, batches[0].ID)

	_, err = env.batches.GetExpiringSoon(ctx, -1)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestDeactivate_RemovesBatchFromFEFO(t *testing.T) {
	env := newTestEnv(t, "batch-deactivate", DefaultOptions())
	ctx := context.Background()
	med := env.fixtures.Medicine(t)

	recalled := env.fixtures.Batch(t, med.ID, env.days(10), 5)
	kept := env.fixtures.Batch(t, med.ID, env.days(50), 5)

	batch, err := env.batches.Deactivate(ctx, recalled.ID, "supplier recall")
	require.NoError(t, err)
	assert.False(t, batch.IsActive)
	require.NotNil(t, batch.DeactivationReason)
	assert.Equal(t, "supplier recall", *batch.DeactivationReason)

	trail, err := env.engine.DeductFEFO(ctx, DeductRequest{MedicineID: med.ID, Quantity: 2})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, kept.ID, trail[0].BatchID)

	details, err := env.batches.GetBatch(ctx, recalled.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, details.TotalUnits)
}

func TestScanAndMarkExpired_ContinuesPastFailedBatch(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })
	db := mockDB.Wrap()
	repos := repository.NewRepositories(db)
	svc := NewBatchService(db, repos, repos.Medicines, nil, nil, DefaultOptions(), logger.Nop())

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	const stuck = "44444444-4444-4444-4444-444444444444"

	mockDB.Mock.ExpectQuery(`FROM medicine_batches`).
		WithArgs(now).
		WillReturnRows(testutil.MockRows("id", "medicine_id", "expiry_date").
			AddRow(stuck, mockMedicine, now.AddDate(0, 0, -2)).
			AddRow(mockBatch, mockMedicine, now.AddDate(0, 0, -1)))

	mockDB.ExpectBegin()
	mockDB.ExpectLockTimeout(DefaultOptions().LockTimeout)
	mockDB.Mock.ExpectExec(`UPDATE medicine_batches`).
		WithArgs(stuck, now).
		WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
	mockDB.ExpectRollback()

	mockDB.ExpectBegin()
	mockDB.ExpectLockTimeout(DefaultOptions().LockTimeout)
	mockDB.Mock.ExpectExec(`UPDATE medicine_batches`).
		WithArgs(mockBatch, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery(`WITH moved`).
		WithArgs(mockBatch, now).
		WillReturnRows(testutil.MockRows("medicine_id", "batch_id", "moved").
			AddRow(mockMedicine, mockBatch, 6))
	mockDB.Mock.ExpectExec(`INSERT INTO stock_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	count, err := svc.ScanAndMarkExpired(context.Background(), now)

	assert.Equal(t, 1, count)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBusy)
	assert.Contains(t, err.Error(), stuck)
	mockDB.ExpectationsWereMet(t)
}

func TestDeactivate_BlankReasonStoresNull(t *testing.T) {
	env := newTestEnv(t, "batch-deactivate-blank", DefaultOptions())
	ctx := context.Background()
	med := env.fixtures.Medicine(t)
	b := env.fixtures.Batch(t, med.ID, env.days(10), 5)

	batch, err := env.batches.Deactivate(ctx, b.ID, "   ")
	require.NoError(t, err)
	assert.False(t, batch.IsActive)
	assert.Nil(t, batch.DeactivationReason)
}

func TestGetBatchByNumber(t *testing.T) {
	env := newTestEnv(t, "batch-by-number", DefaultOptions())
	ctx := context.Background()
	med := env.fixtures.Medicine(t)
	other := env.fixtures.Medicine(t)
	b := env.fixtures.Batch(t, med.ID, env.days(60), 12, testutil.WithBatchNumber("LOT-42"))
	env.fixtures.Batch(t, other.ID, env.days(60), 3, testutil.WithBatchNumber("LOT-42"))

	details, err := env.batches.GetBatchByNumber(ctx, " LOT-42 ", med.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, details.ID)
	assert.Equal(t, 12, details.TotalUnits)

	_, err = env.batches.GetBatchByNumber(ctx, "LOT-404", "")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = env.batches.GetBatchByNumber(ctx, " ", "")
	assert.ErrorIs(t, err, errors.ErrValidation)
}
