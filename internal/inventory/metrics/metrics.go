package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the stock engine metrics on its own registry.
// All Record methods are no-ops on a nil Collector.
type Collector struct {
	registry *prometheus.Registry

	deductions        *prometheus.CounterVec
	unitsDeducted     prometheus.Counter
	deductionDuration prometheus.Histogram
	batchesTouched    prometheus.Histogram
	adjustments       *prometheus.CounterVec
	batchesExpired    prometheus.Counter
	alertsCreated     *prometheus.CounterVec
}

// NewCollector creates and registers the inventory metrics
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		deductions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "inventory",
				Name:      "fefo_deductions_total",
				Help:      "FEFO deduction attempts by outcome",
			},
			[]string{"outcome"},
		),
		unitsDeducted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "fefo_units_deducted_total",
			Help:      "Units removed from stock by committed FEFO deductions",
		}),
		deductionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "inventory",
			Name:      "fefo_deduction_duration_seconds",
			Help:      "Time spent in FEFO deduction transactions",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		batchesTouched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "inventory",
			Name:      "fefo_batches_per_deduction",
			Help:      "Number of batches drawn from per committed deduction",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		adjustments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "inventory",
				Name:      "stock_adjustments_total",
				Help:      "Stock adjustments by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		batchesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "batches_expired_total",
			Help:      "Batches marked expired by the expiry scan",
		}),
		alertsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "inventory",
				Name:      "alerts_created_total",
				Help:      "Stock alerts created by type",
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		c.deductions,
		c.unitsDeducted,
		c.deductionDuration,
		c.batchesTouched,
		c.adjustments,
		c.batchesExpired,
		c.alertsCreated,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordDeduction records one FEFO deduction. outcome is "ok" or an error code.
func (c *Collector) RecordDeduction(outcome string, units, batches int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.deductions.WithLabelValues(outcome).Inc()
	c.deductionDuration.Observe(elapsed.Seconds())
	if outcome == OutcomeOK {
		c.unitsDeducted.Add(float64(units))
		c.batchesTouched.Observe(float64(batches))
	}
}

// RecordAdjustment records one adjustment attempt
func (c *Collector) RecordAdjustment(adjustmentType, outcome string) {
	if c == nil {
		return
	}
	c.adjustments.WithLabelValues(adjustmentType, outcome).Inc()
}

// RecordBatchesExpired adds to the expired batch counter
func (c *Collector) RecordBatchesExpired(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.batchesExpired.Add(float64(n))
}

// RecordAlertCreated counts a newly created alert
func (c *Collector) RecordAlertCreated(alertType string) {
	if c == nil {
		return
	}
	c.alertsCreated.WithLabelValues(alertType).Inc()
}

// OutcomeOK labels a successful operation
const OutcomeOK = "ok"
