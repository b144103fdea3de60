// Package metrics exposes the server's Prometheus collectors. A single
// Metrics value observes store calls, verifier runs, lifecycle outcomes and
// RPCs, and serves them on its own registry.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/server/verifier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "gophid"

type Metrics struct {
	registry *prometheus.Registry

	storeOps      *prometheus.HistogramVec
	verifications *prometheus.HistogramVec
	lifecycle     *prometheus.CounterVec
	rpcs          *prometheus.HistogramVec
	backups       *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		storeOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of store operations by operation and result.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op", "result"}),
		verifications: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verifier",
			Name:      "verification_duration_seconds",
			Help:      "Duration of assertion verifications by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Account lifecycle operations by operation and result.",
		}, []string{"op", "result"}),
		rpcs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of gRPC requests by method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "uploads_total",
			Help:      "Store snapshot uploads by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.storeOps,
		m.verifications,
		m.lifecycle,
		m.rpcs,
		m.backups,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveStoreOp(op string, d time.Duration, err error) {
	m.storeOps.WithLabelValues(op, Result(err)).Observe(d.Seconds())
}

func (m *Metrics) ObserveVerification(outcome string, d time.Duration) {
	m.verifications.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveLifecycle(op string, err error) {
	m.lifecycle.WithLabelValues(op, Result(err)).Inc()
}

func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	m.rpcs.WithLabelValues(method, code).Observe(d.Seconds())
}

func (m *Metrics) ObserveBackup(err error) {
	m.backups.WithLabelValues(Result(err)).Inc()
}

var results = []struct {
	err   error
	label string
}{
	{common.ErrNotFound, "not_found"},
	{common.ErrInvalidArgument, "invalid_argument"},
	{common.ErrUnauthorized, "unauthorized"},
	{common.ErrThrottled, "throttled"},
	{common.ErrPasswordNotAllowed, "password_not_allowed"},
	{common.ErrPasswordRequired, "password_required"},
	{common.ErrAccountLocked, "locked"},
	{common.ErrInvalidToken, "invalid_token"},
	{common.ErrTokenExpired, "token_expired"},
	{common.ErrStaleSession, "stale_session"},
	{common.ErrPermissionDenied, "permission_denied"},
	{common.ErrNotReady, "not_ready"},
	{common.ErrDataInconsistency, "data_inconsistency"},
	{common.ErrBackendUnavailable, "unavailable"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "deadline_exceeded"},
}

// Result turns err into a low-cardinality label.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	var verr *verifier.Error
	if errors.As(err, &verr) {
		return "verifier_" + string(verr.Kind)
	}
	for _, r := range results {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "error"
}
