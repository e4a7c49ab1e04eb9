// Package metrics exposes the control channel and engine counters to
// Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all control plane metrics.
type Registry struct {
	reg *prometheus.Registry

	// Control channel
	Requests       *prometheus.CounterVec
	RequestErrors  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec

	// Engine state
	ConfigLoads *prometheus.CounterVec
	Rules       prometheus.Gauge
	NATPolicies prometheus.Gauge
	Tables      prometheus.Gauge
	Connections prometheus.Gauge
	LastLoad    prometheus.Gauge
}

// Get returns the process-wide registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
	})
	return registry
}

// New returns a registry backed by its own prometheus.Registry, so tests
// and embedded servers do not collide on metric names.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "npf_ctl_requests_total",
		Help: "Control channel requests by command",
	}, []string{"command"})

	r.RequestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "npf_ctl_request_errors_total",
		Help: "Failed control channel requests by command and errno",
	}, []string{"command", "errno"})

	r.RequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "npf_ctl_request_duration_seconds",
		Help:    "Control channel request handling time",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	r.ConfigLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "npf_config_loads_total",
		Help: "Configuration loads by result",
	}, []string{"result"})

	r.Rules = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "npf_rules",
		Help: "Rules in the active ruleset, groups included",
	})
	r.NATPolicies = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "npf_nat_policies",
		Help: "NAT policies in the active configuration",
	})
	r.Tables = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "npf_tables",
		Help: "Tables in the active configuration",
	})
	r.Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "npf_connections",
		Help: "Tracked connections",
	})
	r.LastLoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "npf_last_load_timestamp",
		Help: "Unix timestamp of the last successful load",
	})

	r.reg.MustRegister(
		r.Requests, r.RequestErrors, r.RequestLatency,
		r.ConfigLoads, r.Rules, r.NATPolicies, r.Tables, r.Connections, r.LastLoad,
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordRequest counts one handled request.
func (r *Registry) RecordRequest(command string, errno int32, d time.Duration) {
	r.Requests.WithLabelValues(command).Inc()
	r.RequestLatency.WithLabelValues(command).Observe(d.Seconds())
	if errno != 0 {
		r.RequestErrors.WithLabelValues(command, errnoString(errno)).Inc()
	}
}

// RecordLoad counts a configuration load and, on success, updates the
// state gauges.
func (r *Registry) RecordLoad(err error, rules, nat, tables int) {
	if err != nil {
		r.ConfigLoads.WithLabelValues("error").Inc()
		return
	}
	r.ConfigLoads.WithLabelValues("ok").Inc()
	r.Rules.Set(float64(rules))
	r.NATPolicies.Set(float64(nat))
	r.Tables.Set(float64(tables))
	r.LastLoad.SetToCurrentTime()
}
