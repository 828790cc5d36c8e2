// Package metrics exports the counters of a daq.Controller to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-daq/daq"
)

// Namespace is the prometheus namespace of every exported metric.
const Namespace = "daq"

// Collector is a prometheus.Collector reading daq.Metrics at scrape time.
type Collector struct {
	collectors []prometheus.Collector
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector for m. constLabels are attached to every metric, e.g. the
// host and platform of the controller.
func NewCollector(m *daq.Metrics, constLabels prometheus.Labels) *Collector {
	counter := func(name, help string, load func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, func() float64 { return float64(load()) })
	}

	return &Collector{
		collectors: []prometheus.Collector{
			counter("connects_total", "Number of successful connects.", m.ConnectCount.Load),
			counter("connect_errors_total", "Number of failed connects.", m.ConnectErrCount.Load),
			counter("configures_total", "Number of configurations accepted by the daq.", m.ConfigureCount.Load),
			counter("configure_errors_total", "Number of configurations rejected by the daq.", m.ConfigureErrCount.Load),
			counter("kickoffs_total", "Number of kickoffs requested.", m.KickoffCount.Load),
			counter("kickoff_errors_total", "Number of kickoffs resolved as failed.", m.KickoffErrCount.Load),
			counter("begins_total", "Number of begin commands issued.", m.BeginCount.Load),
			counter("stops_total", "Number of stop commands issued.", m.StopCount.Load),
			counter("end_runs_total", "Number of runs ended.", m.EndRunCount.Load),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   Namespace,
				Name:        "inflight_operations",
				Help:        "Number of unresolved asynchronous operations.",
				ConstLabels: constLabels,
			}, func() float64 { return float64(m.InflightOps.Load()) }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, col := range c.collectors {
		col.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, col := range c.collectors {
		col.Collect(ch)
	}
}

// NewRegistry returns a registry holding the collectors of ctrl and the go runtime collectors.
func NewRegistry(ctrl *daq.Controller) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"host": ctrl.Host()}

	if err := reg.Register(NewCollector(ctrl.Metrics(), labels)); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}

	return reg, nil
}

// Handler serves the metrics of reg in the prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
