/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsProvider is what the server and the mailbox service report to
type MetricsProvider interface {
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)
	IncHTTPRequestsInFlight()
	DecHTTPRequestsInFlight()

	RecordOperation(operation, result string, duration time.Duration)
	RecordPersistence(target, result string, duration time.Duration)
	RecordDecodeError(target string)
	RecordError(component, errorCode string)

	SetAgents(count int)
	SetMailboxesLoaded(count int)

	Handler() http.Handler
}

// Operation results
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics holds all Prometheus metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Mailbox operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Persistence metrics
	PersistenceWritesTotal *prometheus.CounterVec
	PersistenceDuration    *prometheus.HistogramVec
	DecodeErrorsTotal      *prometheus.CounterVec

	// State metrics
	AgentsKnown     prometheus.Gauge
	MailboxesLoaded prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

var _ MetricsProvider = (*Metrics)(nil)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailbox_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		// Mailbox operation metrics
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbox_operations_total",
				Help: "Total number of mailbox operations",
			},
			[]string{"operation", "result"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailbox_operation_duration_seconds",
				Help:    "Mailbox operation duration in seconds, including the durable write",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),

		// Persistence metrics
		PersistenceWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbox_persistence_writes_total",
				Help: "Total number of durable writes",
			},
			[]string{"target", "result"},
		),
		PersistenceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailbox_persistence_write_duration_seconds",
				Help:    "Durable write duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"target"},
		),
		DecodeErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbox_decode_errors_total",
				Help: "Total number of stored values that could not be decoded",
			},
			[]string{"target"},
		),

		// State metrics
		AgentsKnown: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailbox_agents_registered",
				Help: "Number of agents in the registry",
			},
		),
		MailboxesLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailbox_mailboxes_loaded",
				Help: "Number of mailboxes held in memory",
			},
		),

		// Error metrics
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbox_errors_total",
				Help: "Total number of errors",
			},
			[]string{"component", "error_code"},
		),
	}
}

// NewMetricsProvider creates the default metrics provider
func NewMetricsProvider() MetricsProvider {
	return NewMetrics()
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// IncHTTPRequestsInFlight increments in-flight HTTP requests
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements in-flight HTTP requests
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordOperation records one mailbox service operation
func (m *Metrics) RecordOperation(operation, result string, duration time.Duration) {
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPersistence records one durable write of a registry or mailbox
func (m *Metrics) RecordPersistence(target, result string, duration time.Duration) {
	m.PersistenceWritesTotal.WithLabelValues(target, result).Inc()
	m.PersistenceDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// RecordDecodeError records a stored value that had to be discarded
func (m *Metrics) RecordDecodeError(target string) {
	m.DecodeErrorsTotal.WithLabelValues(target).Inc()
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorCode string) {
	m.ErrorsTotal.WithLabelValues(component, errorCode).Inc()
}

// SetAgents sets the number of registered agents
func (m *Metrics) SetAgents(count int) {
	m.AgentsKnown.Set(float64(count))
}

// SetMailboxesLoaded sets the number of mailboxes held in memory
func (m *Metrics) SetMailboxesLoaded(count int) {
	m.MailboxesLoaded.Set(float64(count))
}
