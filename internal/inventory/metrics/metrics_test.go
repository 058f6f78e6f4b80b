package metrics

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordDeduction(t *testing.T) {
	c := NewCollector()

	c.RecordDeduction(OutcomeOK, 12, 2, 5*time.Millisecond)
	c.RecordDeduction("INSUFFICIENT_STOCK", 50, 0, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.deductions.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deductions.WithLabelValues("INSUFFICIENT_STOCK")))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.unitsDeducted))
	assert.Equal(t, 1, testutil.CollectAndCount(c.batchesTouched))
}

func TestCollector_RecordAdjustmentAndAlerts(t *testing.T) {
	c := NewCollector()

	c.RecordAdjustment("damaged", OutcomeOK)
	c.RecordAdjustment("damaged", OutcomeOK)
	c.RecordBatchesExpired(3)
	c.RecordBatchesExpired(0)
	c.RecordAlertCreated("low_stock")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.adjustments.WithLabelValues("damaged", OutcomeOK)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.batchesExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertsCreated.WithLabelValues("low_stock")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordDeduction(OutcomeOK, 1, 1, time.Millisecond)
		c.RecordAdjustment("waste", OutcomeOK)
		c.RecordBatchesExpired(1)
		c.RecordAlertCreated("overstock")
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordBatchesExpired(1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "inventory_batches_expired_total 1")
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeOK, Outcome(nil))
	assert.Equal(t, "INSUFFICIENT_STOCK", Outcome(errors.InsufficientStock(5, 2)))
	assert.Equal(t, "NOT_FOUND", Outcome(fmt.Errorf("wrap: %w", errors.NotFound("batch"))))
	assert.Equal(t, "error", Outcome(fmt.Errorf("boom")))
}
