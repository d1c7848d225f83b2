// Package metrics exports run telemetry in the Prometheus text format. A
// Collector is an orchestrate.Observer; attach it to a run and write the
// registry to a file for the node exporter's textfile collector.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"impactloop/internal/contract"
	"impactloop/internal/orchestrate"
)

const namespace = "impactloop"

// Collector counts units and runs and records their latency.
type Collector struct {
	reg *prometheus.Registry

	units        *prometheus.CounterVec
	unitSeconds  *prometheus.HistogramVec
	phaseSeconds *prometheus.HistogramVec
	runs         *prometheus.CounterVec

	selected     prometheus.Gauge
	budgetUsed   prometheus.Gauge
	meanAbsError prometheus.Gauge
}

// New returns a Collector backed by its own registry.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Stage units executed, by phase, stage and outcome.",
		}, []string{"phase", "stage", "outcome"}),
		unitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Wall time of a single stage unit.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase", "stage"}),
		phaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time of a phase, from first submission to barrier.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs, by outcome.",
		}, []string{"outcome"}),
		selected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_selected_initiatives",
			Help:      "Initiatives funded by the most recent successful run.",
		}),
		budgetUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_budget_used",
			Help:      "Budget committed by the most recent successful run.",
		}),
		meanAbsError: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_mean_abs_prediction_error",
			Help:      "Mean absolute prediction error of the most recent successful run.",
		}),
	}
	c.reg.MustRegister(c.units, c.unitSeconds, c.phaseSeconds, c.runs, c.selected, c.budgetUsed, c.meanAbsError)
	return c
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// OnEvent implements orchestrate.Observer.
func (c *Collector) OnEvent(e orchestrate.Event) {
	switch e.Type {
	case orchestrate.EventUnitDone:
		c.units.WithLabelValues(string(e.Phase), e.Stage, "ok").Inc()
		c.unitSeconds.WithLabelValues(string(e.Phase), e.Stage).Observe(e.Elapsed.Seconds())
	case orchestrate.EventUnitError:
		outcome := "error"
		if errors.Is(e.Err, contract.ErrContractViolation) {
			outcome = "violation"
		}
		c.units.WithLabelValues(string(e.Phase), e.Stage, outcome).Inc()
		c.unitSeconds.WithLabelValues(string(e.Phase), e.Stage).Observe(e.Elapsed.Seconds())
	case orchestrate.EventPhaseDone:
		c.phaseSeconds.WithLabelValues(string(e.Phase)).Observe(e.Elapsed.Seconds())
	case orchestrate.EventRunDone:
		c.runs.WithLabelValues("ok").Inc()
	case orchestrate.EventRunError:
		c.runs.WithLabelValues("error").Inc()
	}
}

// RecordSummary sets the last-run gauges.
func (c *Collector) RecordSummary(s orchestrate.Summary) {
	c.selected.Set(float64(s.Selected))
	c.budgetUsed.Set(s.BudgetUsed)
	c.meanAbsError.Set(s.MeanAbsError)
}

// WriteFile writes every metric to path atomically.
func (c *Collector) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, c.reg)
}
