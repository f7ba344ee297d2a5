package metrics

import (
	"sort"
	"sync"
	"time"
)

// Summary aggregates the collector's window of samples.
type Summary struct {
	TotalRequests      int            `json:"total_requests"`
	SuccessfulRequests int            `json:"successful_requests"`
	BlockedRequests    int            `json:"blocked_requests"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	AvgRiskScore       float64        `json:"avg_risk_score"`
	AttacksByType      map[string]int `json:"attacks_by_type"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
}

// BlockRate returns blocked requests as a percentage of the total.
func (s Summary) BlockRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.BlockedRequests) / float64(s.TotalRequests) * 100
}

// SuccessRate returns successful requests as a percentage of the total.
func (s Summary) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests) * 100
}

type sample struct {
	latencyMs float64
	riskScore float64
	blocked   bool
	when      time.Time
}

// Collector keeps a bounded in-memory window of per-request samples for
// percentile and distribution queries that Prometheus counters cannot
// answer locally.
type Collector struct {
	mu         sync.Mutex
	windowSize int
	samples    []sample
	attacks    []string

	totalRequests      int
	successfulRequests int
	blockedRequests    int

	now func() time.Time
}

// NewCollector creates a collector keeping at most windowSize samples.
func NewCollector(windowSize int) *Collector {
	if windowSize <= 0 {
		windowSize = 10_000
	}
	return &Collector{windowSize: windowSize, now: time.Now}
}

// Record stores one request's outcome. attackType is empty when no attack
// was detected.
func (c *Collector) Record(latencyMs, riskScore float64, blocked bool, attackType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if blocked {
		c.blockedRequests++
		if attackType != "" {
			c.attacks = append(c.attacks, attackType)
		}
	} else {
		c.successfulRequests++
	}

	c.samples = append(c.samples, sample{
		latencyMs: latencyMs,
		riskScore: riskScore,
		blocked:   blocked,
		when:      c.now(),
	})

	if len(c.samples) > c.windowSize {
		c.samples = c.samples[len(c.samples)-c.windowSize:]
	}
	if len(c.attacks) > c.windowSize/2 {
		c.attacks = c.attacks[len(c.attacks)-c.windowSize/2:]
	}
}

// GetSummary aggregates the current window. Counters cover the process
// lifetime; latency and risk statistics cover only the window.
func (c *Collector) GetSummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		TotalRequests:      c.totalRequests,
		SuccessfulRequests: c.successfulRequests,
		BlockedRequests:    c.blockedRequests,
		AttacksByType:      map[string]int{},
	}
	if len(c.samples) == 0 {
		return s
	}

	latencies := make([]float64, len(c.samples))
	var latencySum, riskSum float64
	for i, smp := range c.samples {
		latencies[i] = smp.latencyMs
		latencySum += smp.latencyMs
		riskSum += smp.riskScore
	}
	sort.Float64s(latencies)

	s.AvgLatencyMs = latencySum / float64(len(latencies))
	s.AvgRiskScore = riskSum / float64(len(c.samples))
	s.P50LatencyMs = percentile(latencies, 50)
	s.P95LatencyMs = percentile(latencies, 95)
	s.P99LatencyMs = percentile(latencies, 99)
	for _, a := range c.attacks {
		s.AttacksByType[a]++
	}
	return s
}

// RequestsInWindow counts requests within the last windowMinutes.
func (c *Collector) RequestsInWindow(windowMinutes int) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-time.Duration(windowMinutes) * time.Minute)
	var total, successful, blocked float64
	for _, smp := range c.samples {
		if smp.when.Before(cutoff) {
			continue
		}
		total++
		if smp.blocked {
			blocked++
		} else {
			successful++
		}
	}
	out := map[string]float64{
		"total":      total,
		"successful": successful,
		"blocked":    blocked,
	}
	if windowMinutes > 0 {
		out["requests_per_minute"] = total / float64(windowMinutes)
	}
	return out
}

// AttackDistribution returns attack type percentages over the window.
func (c *Collector) AttackDistribution() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.attacks) == 0 {
		return map[string]float64{}
	}
	counts := map[string]int{}
	for _, a := range c.attacks {
		counts[a]++
	}
	out := make(map[string]float64, len(counts))
	for a, n := range counts {
		out[a] = float64(n) / float64(len(c.attacks)) * 100
	}
	return out
}

// Reset clears all samples and counters.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = nil
	c.attacks = nil
	c.totalRequests = 0
	c.successfulRequests = 0
	c.blockedRequests = 0
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
