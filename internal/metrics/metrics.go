// Package metrics holds the Prometheus collectors shared by the market engine,
// the election registry, the HTTP server and the event relays.
package metrics

import (
	"sync"

	"cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taskmarket/internal/domain"
)

type Metrics struct {
	// Engine
	Operations           *prometheus.CounterVec
	ContestationOutcomes *prometheus.CounterVec
	SlashedTokens        prometheus.Counter
	RewardedTokens       prometheus.Counter
	TotalHeldTokens      prometheus.Gauge
	BlockHeight          prometheus.Gauge

	// Election
	ElectionVotes    prometheus.Counter
	ElectionEpoch    prometheus.Gauge
	MasterContesters prometheus.Gauge

	// Delivery and API
	HTTPRequests      *prometheus.CounterVec
	RateLimited       prometheus.Counter
	RelayPublished    prometheus.Counter
	RelayFailures     prometheus.Counter
	WebhookDeliveries *prometheus.CounterVec
}

var (
	once    sync.Once
	current *Metrics
)

// Default creates and registers the collectors once per process.
func Default() *Metrics {
	once.Do(func() {
		current = &Metrics{
			Operations: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "taskmarket", Subsystem: "engine", Name: "operations_total",
				Help: "Engine and registry operations by name and result",
			}, []string{"op", "result"}),
			ContestationOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "taskmarket", Subsystem: "engine", Name: "contestation_outcomes_total",
				Help: "Resolved contestations by outcome",
			}, []string{"outcome"}),
			SlashedTokens: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "taskmarket", Subsystem: "engine", Name: "slashed_tokens_total",
				Help: "Tokens slashed from voters",
			}),
			RewardedTokens: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "taskmarket", Subsystem: "engine", Name: "rewarded_tokens_total",
				Help: "Tokens minted as solution rewards",
			}),
			TotalHeldTokens: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "taskmarket", Subsystem: "engine", Name: "total_held_tokens",
				Help: "Tokens held by the engine",
			}),
			BlockHeight: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "taskmarket", Subsystem: "engine", Name: "block_height",
				Help: "Last committed block height",
			}),
			ElectionVotes: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "taskmarket", Subsystem: "election", Name: "votes_total",
				Help: "Ballots cast",
			}),
			ElectionEpoch: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "taskmarket", Subsystem: "election", Name: "epoch",
				Help: "Current election epoch",
			}),
			MasterContesters: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "taskmarket", Subsystem: "election", Name: "master_contesters",
				Help: "Size of the elected set",
			}),
			HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "taskmarket", Subsystem: "http", Name: "requests_total",
				Help: "HTTP requests by method and status",
			}, []string{"method", "status"}),
			RateLimited: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "taskmarket", Subsystem: "http", Name: "rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			}),
			RelayPublished: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "taskmarket", Subsystem: "relay", Name: "published_total",
				Help: "Events published to Kafka",
			}),
			RelayFailures: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "taskmarket", Subsystem: "relay", Name: "failures_total",
				Help: "Failed Kafka publish attempts",
			}),
			WebhookDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "taskmarket", Subsystem: "webhook", Name: "deliveries_total",
				Help: "Webhook deliveries by result",
			}, []string{"result"}),
		}
	})
	return current
}

// ObserveOp counts one operation outcome.
func (m *Metrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

// Tokens converts base units to a float token count for gauges.
func Tokens(v math.Int) float64 {
	if v.IsNil() {
		return 0
	}
	f, err := math.LegacyNewDecFromIntWithPrec(v, domain.Decimals).Float64()
	if err != nil {
		return 0
	}
	return f
}
