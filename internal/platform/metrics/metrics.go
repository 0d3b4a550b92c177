package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the reset protocol.
type Metrics struct {
	RequestOutcomes    *prometheus.CounterVec
	RedemptionOutcomes *prometheus.CounterVec
	FilterRebuilds     prometheus.Counter
	FilterMembers      prometheus.Gauge
	LimiterFailOpens   prometheus.Counter
	AuditDropped       prometheus.Counter
}

// New creates and registers all metrics on the given registerer. Passing
// prometheus.DefaultRegisterer wires the standard /metrics endpoint; tests
// pass a fresh registry to avoid duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resetgate_request_outcomes_total",
			Help: "Password reset request flow terminals by outcome.",
		}, []string{"outcome"}),
		RedemptionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resetgate_redemption_outcomes_total",
			Help: "Password reset redemption flow terminals by outcome.",
		}, []string{"outcome"}),
		FilterRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "resetgate_filter_rebuilds_total",
			Help: "Membership filter rebuilds completed.",
		}),
		FilterMembers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resetgate_filter_members",
			Help: "Addresses loaded into the membership filter at last rebuild.",
		}),
		LimiterFailOpens: factory.NewCounter(prometheus.CounterOpts{
			Name: "resetgate_limiter_fail_opens_total",
			Help: "Rate limit checks allowed because the backing store was unreachable.",
		}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "resetgate_audit_dropped_total",
			Help: "Audit records lost because the append failed.",
		}),
	}
}
