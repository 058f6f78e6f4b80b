package repository_test

import (
	"context"
	"testing"

	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertRepository_OneActiveAlertPerKey(t *testing.T) {
	repos, fx := setup(t, "repo-alert-unique")
	ctx := context.Background()
	med := fx.Medicine(t)
	batch := fx.Batch(t, med.ID, now.AddDate(0, 0, 10), 5)

	low := &repository.StockAlert{MedicineID: med.ID, AlertType: repository.AlertLowStock, CurrentQuantity: 5, ThresholdValue: 10, CreatedAt: now}
	require.NoError(t, repos.Alerts.Create(ctx, low))

	dup := &repository.StockAlert{MedicineID: med.ID, AlertType: repository.AlertLowStock, CurrentQuantity: 4, ThresholdValue: 10, CreatedAt: now}
	assert.ErrorIs(t, repos.Alerts.Create(ctx, dup), errors.ErrConflict)

	// a batch-scoped alert of another type lives beside it
	expiry := &repository.StockAlert{MedicineID: med.ID, BatchID: &batch.ID, AlertType: repository.AlertExpiryWarning, CurrentQuantity: 5, ThresholdValue: 30, CreatedAt: now}
	require.NoError(t, repos.Alerts.Create(ctx, expiry))

	exists, err := repos.Alerts.ExistsActive(ctx, med.ID, repository.AlertLowStock, nil)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repos.Alerts.ExistsActive(ctx, med.ID, repository.AlertExpiryWarning, nil)
	require.NoError(t, err)
	assert.False(t, exists, "batch alerts do not match a medicine-level lookup")

	exists, err = repos.Alerts.ExistsActive(ctx, med.ID, repository.AlertExpiryWarning, &batch.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	// once resolved the key is free again
	_, err = repos.Alerts.Resolve(ctx, low.ID, now)
	require.NoError(t, err)
	require.NoError(t, repos.Alerts.Create(ctx, dup))
}

func TestAlertRepository_AcknowledgeAndList(t *testing.T) {
	repos, fx := setup(t, "repo-alert-list")
	ctx := context.Background()
	med := fx.Medicine(t)

	a := &repository.StockAlert{MedicineID: med.ID, AlertType: repository.AlertCriticalStock, ThresholdValue: 2, CreatedAt: now}
	require.NoError(t, repos.Alerts.Create(ctx, a))
	b := &repository.StockAlert{MedicineID: med.ID, AlertType: repository.AlertOverstock, CurrentQuantity: 900, ThresholdValue: 500, CreatedAt: now.AddDate(0, 0, 1)}
	require.NoError(t, repos.Alerts.Create(ctx, b))

	acked, err := repos.Alerts.Acknowledge(ctx, a.ID, "6a1f3b2c-7d4e-4f5a-8b9c-0d1e2f3a4b5c", now)
	require.NoError(t, err)
	assert.True(t, acked.IsAcknowledged)
	assert.True(t, acked.IsActive)

	unacked, err := repos.Alerts.List(ctx, repository.AlertFilter{MedicineID: med.ID, Acknowledged: testutil.PtrBool(false)})
	require.NoError(t, err)
	require.Len(t, unacked, 1)
	assert.Equal(t, b.ID, unacked[0].ID)

	n, err := repos.Alerts.ResolveActive(ctx, med.ID, repository.AlertOverstock, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	active, err := repos.Alerts.List(ctx, repository.AlertFilter{MedicineID: med.ID})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	all, err := repos.Alerts.List(ctx, repository.AlertFilter{MedicineID: med.ID, IncludeResolved: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = repos.Alerts.Acknowledge(ctx, "00000000-0000-0000-0000-000000000001", "6a1f3b2c-7d4e-4f5a-8b9c-0d1e2f3a4b5c", now)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
