package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Standard Prometheus collectors for the gateway
var (
	// promptgate_requests_total (counter): total requests received
	RequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptgate_requests_total",
		Help: "Total number of chat requests received by the gateway",
	})

	// promptgate_decision_count{action=allow|block|sanitize|monitor}
	DecisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptgate_decision_count",
		Help: "Number of input validation decisions made",
	}, []string{"action"})

	// promptgate_blocked_total{stage=length|input|output|policy}
	BlockedByStage = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptgate_blocked_total",
		Help: "Number of requests blocked, by pipeline stage",
	}, []string{"stage"})

	// promptgate_attack_detected{category=direct_override|role_manipulation|...}
	AttackDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptgate_attack_detected",
		Help: "Number of times a specific attack category was detected",
	}, []string{"category"})

	// promptgate_latency_seconds (histogram): request duration
	LatencyHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "promptgate_latency_seconds",
		Help:    "Request processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// RecordDecision increments the decision counter
func RecordDecision(action string) {
	DecisionCount.WithLabelValues(action).Inc()
}

// RecordBlocked increments the per-stage block counter
func RecordBlocked(stage string) {
	BlockedByStage.WithLabelValues(stage).Inc()
}

// RecordAttack increments the attack category counter
func RecordAttack(category string) {
	AttackDetected.WithLabelValues(category).Inc()
}

// Safe initialization check (though promauto handles registration automatically)
func Init() {
	log.Println("[metrics] Prometheus collectors initialized")
}
