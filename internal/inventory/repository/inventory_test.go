package repository_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryRepository_GuardedUpdateDistinguishesMissingRecord(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := repository.NewInventoryRepository(mockDB.Wrap())

	// guard fails, record is missing
	mockDB.Mock.ExpectExec(`UPDATE inventory`).WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM inventory`).
		WillReturnRows(testutil.MockRows("id"))

	err := repo.ConsumeAvailable(context.Background(), "m", "b", 5, false, now)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	// guard fails, record has too little
	mockDB.Mock.ExpectExec(`UPDATE inventory`).WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM inventory`).
		WillReturnRows(testutil.MockRows("id", "medicine_id", "batch_id", "quantity_available").
			AddRow("r", "m", "b", 2))

	err = repo.ConsumeAvailable(context.Background(), "m", "b", 5, false, now)
	require.ErrorIs(t, err, errors.ErrInsufficientStock)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "2", appErr.Details["available"])

	mockDB.ExpectationsWereMet(t)
}

func TestInventoryRepository_UnknownBucket(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := repository.NewInventoryRepository(mockDB.Wrap())

	err := repo.MoveAvailableToBucket(context.Background(), "m", "b", 1, repository.Bucket("reserved"), now)
	assert.ErrorIs(t, err, errors.ErrValidation)
	mockDB.ExpectationsWereMet(t)
}

func TestInventoryRepository_BucketMovesConserveUnits(t *testing.T) {
	repos, fx := setup(t, "repo-buckets")
	ctx := context.Background()
	med := fx.Medicine(t)
	batch := fx.Batch(t, med.ID, now.AddDate(0, 6, 0), 10)

	require.NoError(t, repos.Inventory.MoveAvailableToBucket(ctx, med.ID, batch.ID, 4, repository.BucketDamaged, now))
	require.NoError(t, repos.Inventory.IncreaseAvailable(ctx, med.ID, batch.ID, 3, now))
	require.NoError(t, repos.Inventory.AdjustAvailable(ctx, med.ID, batch.ID, -2, now))

	err := repos.Inventory.AdjustAvailable(ctx, med.ID, batch.ID, -100, now)
	assert.ErrorIs(t, err, errors.ErrInsufficientStock)

	rec, err := repos.Inventory.Get(ctx, med.ID, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, rec.QuantityAvailable)
	assert.Equal(t, 4, rec.QuantityDamaged)
	assert.Equal(t, 11, rec.Total())
}

func TestInventoryRepository_ConsumeStampsDispense(t *testing.T) {
	repos, fx := setup(t, "repo-dispense")
	ctx := context.Background()
	med := fx.Medicine(t)
	batch := fx.Batch(t, med.ID, now.AddDate(0, 6, 0), 10)

	require.NoError(t, repos.Inventory.ConsumeAvailable(ctx, med.ID, batch.ID, 1, false, now))
	rec, err := repos.Inventory.Get(ctx, med.ID, batch.ID)
	require.NoError(t, err)
	assert.Nil(t, rec.LastDispensedAt, "waste is not a dispense")

	require.NoError(t, repos.Inventory.ConsumeAvailable(ctx, med.ID, batch.ID, 1, true, now))
	rec, err = repos.Inventory.Get(ctx, med.ID, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.LastDispensedAt)
	assert.True(t, rec.LastDispensedAt.Equal(now))
	assert.Equal(t, 8, rec.QuantityAvailable)
}

func TestInventoryRepository_LockFEFOCandidatesOrder(t *testing.T) {
	repos, fx := setup(t, "repo-fefo")
	ctx := context.Background()
	med := fx.Medicine(t)

	later := fx.Batch(t, med.ID, now.AddDate(0, 3, 0), 5)
	sooner := fx.Batch(t, med.ID, now.AddDate(0, 1, 0), 5)
	fx.Batch(t, med.ID, now.AddDate(0, 0, -1), 5)
	fx.Batch(t, med.ID, now.AddDate(0, 0, 10), 5, testutil.Inactive())

	candidates, err := repos.Inventory.LockFEFOCandidates(ctx, med.ID, now)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, sooner.ID, candidates[0].BatchID)
	assert.Equal(t, later.ID, candidates[1].BatchID)
	require.NotNil(t, candidates[0].Record)
	assert.Equal(t, 5, candidates[0].Record.QuantityAvailable)

	eligible, err := repos.Inventory.GetEligibleAvailable(ctx, med.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 10, eligible)

	total, err := repos.Inventory.GetTotalAvailable(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, total)
}

func TestInventoryRepository_UnstockedBatchHasNoRecord(t *testing.T) {
	repos, fx := setup(t, "repo-unstocked")
	ctx := context.Background()
	med := fx.Medicine(t)

	batch := &repository.MedicineBatch{
		MedicineID:      med.ID,
		BatchNumber:     "NO-RECORD",
		ManufactureDate: now.AddDate(-1, 0, 0),
		ExpiryDate:      now.AddDate(0, 2, 0),
		ReceivedDate:    now,
		IsActive:        true,
	}
	require.NoError(t, repos.Batches.Create(ctx, batch))

	candidates, err := repos.Inventory.LockFEFOCandidates(ctx, med.ID, now)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Nil(t, candidates[0].Record)

	_, err = repos.Inventory.Get(ctx, med.ID, batch.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestInventoryRepository_MoveAllAvailableToExpired(t *testing.T) {
	repos, fx := setup(t, "repo-expire-move")
	ctx := context.Background()
	med := fx.Medicine(t)
	batch := fx.Batch(t, med.ID, now.AddDate(0, 0, -1), 12)

	moves, err := repos.Inventory.MoveAllAvailableToExpired(ctx, batch.ID, now)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, 12, moves[0].Quantity)
	assert.Equal(t, med.ID, moves[0].MedicineID)

	rec, err := repos.Inventory.Get(ctx, med.ID, batch.ID)
	require.NoError(t, err)
	assert.Zero(t, rec.QuantityAvailable)
	assert.Equal(t, 12, rec.QuantityExpired)

	moves, err = repos.Inventory.MoveAllAvailableToExpired(ctx, batch.ID, now)
	require.NoError(t, err)
	assert.Empty(t, moves)
}
