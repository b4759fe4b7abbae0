package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "mortar"

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Collector records migration operations and units
type Collector struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Units             *prometheus.CounterVec
	UnitDuration      *prometheus.HistogramVec
	CurrentBatch      prometheus.Gauge
}

// New creates the collector and registers it when a registerer is given
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of migrator operations",
		}, []string{"operation", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of migrator operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		Units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "units_total",
			Help:      "Total number of applied or reverted migration units",
		}, []string{"direction", "status"}),
		UnitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "unit_duration_seconds",
			Help:      "Duration of a single migration unit in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		CurrentBatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "current_batch",
			Help:      "Most recent batch recorded in the ledger",
		}),
	}

	if reg == nil {
		return c, nil
	}

	for _, col := range []prometheus.Collector{c.Operations, c.OperationDuration, c.Units, c.UnitDuration, c.CurrentBatch} {
		if err := reg.Register(col); err != nil {
			return nil, errors.Wrap(err, "could not register migrator metrics")
		}
	}

	return c, nil
}

// Operation observes a finished migrator operation
func (c *Collector) Operation(operation string, started time.Time, err error) {
	if c == nil {
		return
	}

	c.Operations.WithLabelValues(operation, status(err)).Inc()
	c.OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Unit observes a single applied or reverted unit
func (c *Collector) Unit(direction string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}

	c.Units.WithLabelValues(direction, status(err)).Inc()
	c.UnitDuration.WithLabelValues(direction).Observe(elapsed.Seconds())
}

func (c *Collector) Batch(batch int) {
	if c == nil {
		return
	}

	c.CurrentBatch.Set(float64(batch))
}

func status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}
