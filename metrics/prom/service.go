package prom

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ServiceMetrics exports election-state, dispatch-tick-outcome, and
// replay-stream-length observability, generalized from the cache-only
// Adapter above to cover the rest of the service (SPEC_FULL.md's ambient
// metrics section).
type ServiceMetrics struct {
	leaderState      prometheus.Gauge
	electionRenewals *prometheus.CounterVec
	dispatchTicks    *prometheus.CounterVec
	streamLength     prometheus.Gauge
}

// NewServiceMetrics constructs a ServiceMetrics adapter registered on reg
// (nil => prometheus.DefaultRegisterer).
func NewServiceMetrics(reg prometheus.Registerer, ns string) *ServiceMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &ServiceMetrics{
		leaderState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "election",
			Name:      "is_leader",
			Help:      "1 if this replica currently believes itself leader, else 0",
		}),
		electionRenewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "election",
			Name:      "renewals_total",
			Help:      "Leader lock renewal attempts by outcome",
		}, []string{"outcome"}),
		dispatchTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "dispatch",
			Name:      "ticks_total",
			Help:      "Dispatcher ticks by role and outcome",
		}, []string{"role", "outcome"}),
		streamLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "stream",
			Name:      "length",
			Help:      "Current length of the capped replay stream",
		}),
	}
	reg.MustRegister(s.leaderState, s.electionRenewals, s.dispatchTicks, s.streamLength)
	return s
}

// SetLeaderState records this replica's current leadership belief.
func (s *ServiceMetrics) SetLeaderState(isLeader bool) {
	if isLeader {
		s.leaderState.Set(1)
		return
	}
	s.leaderState.Set(0)
}

// ObserveRenewal records a lock-renewal attempt's outcome: "ok", "rejected",
// or "error".
func (s *ServiceMetrics) ObserveRenewal(outcome string) {
	s.electionRenewals.WithLabelValues(outcome).Inc()
}

// ObserveDispatchTick records one dispatcher tick's role ("leader" or
// "follower") and outcome ("broadcast", "skipped", "error").
func (s *ServiceMetrics) ObserveDispatchTick(role, outcome string) {
	s.dispatchTicks.WithLabelValues(role, outcome).Inc()
}

// SetStreamLength records the capped stream's current length.
func (s *ServiceMetrics) SetStreamLength(n int) {
	s.streamLength.Set(float64(n))
}
