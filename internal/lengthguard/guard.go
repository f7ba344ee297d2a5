package lengthguard

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Recommended actions for a failed (or passed) length check.
const (
	ActionAllow     = "allow"
	ActionBlock     = "block"
	ActionTruncate  = "truncate"
	ActionRateLimit = "rate_limit"
)

// Hard operational limits. These are deterministic controls, not signals.
const (
	MaxChars             = 50_000
	MaxRequestsPerMinute = 100
	MaxTokensPerMinute   = 100_000

	costPer1KInputTokens  = 0.00015
	costPer1KOutputTokens = 0.0006

	rateWindow = time.Minute
)

// Token ceilings per service tier.
var tierLimits = map[string]int{
	"free":       2_000,
	"starter":    8_000,
	"pro":        16_000,
	"enterprise": 32_000,
}

// TruncationMarker is appended whenever TruncateSafely shortens text. The
// guard never silently drops content.
const TruncationMarker = "\n\n[... Content truncated due to length limit ...]"

// Result holds the outcome of a length/rate check.
type Result struct {
	Valid             bool    `json:"valid"`
	Reason            string  `json:"reason"`
	CharCount         int     `json:"char_count"`
	TokenCount        int     `json:"token_count"`
	EstimatedCost     float64 `json:"estimated_cost"`
	RecommendedAction string  `json:"recommended_action"`
}

// UsageStats summarizes one identity's recent consumption.
type UsageStats struct {
	Identity          string  `json:"identity"`
	Tier              string  `json:"tier"`
	RequestsLastMin   int     `json:"requests_last_minute"`
	RequestsLastHour  int     `json:"requests_last_hour"`
	TokensLastMin     int     `json:"tokens_last_minute"`
	TokensLastHour    int     `json:"tokens_last_hour"`
	EstimatedCostHour float64 `json:"estimated_cost_hour"`
}

type tokenSample struct {
	at     time.Time
	tokens int
}

// Guard rejects oversized or over-frequent input before any expensive work
// runs. Three ordered layers: character ceiling, token estimate against the
// tier limit, then a per-identity sliding 60-second window.
type Guard struct {
	tier      string
	maxTokens int

	mu       sync.Mutex
	requests map[string][]time.Time
	tokens   map[string][]tokenSample

	now func() time.Time
}

// NewGuard creates a Guard for the given tier. Unknown tiers fall back to
// the starter limit.
func NewGuard(tier string) *Guard {
	limit, ok := tierLimits[tier]
	if !ok {
		limit = tierLimits["starter"]
	}
	return &Guard{
		tier:      tier,
		maxTokens: limit,
		requests:  make(map[string][]time.Time),
		tokens:    make(map[string][]tokenSample),
		now:       time.Now,
	}
}

// Tier returns the configured tier name.
func (g *Guard) Tier() string { return g.tier }

// MaxTokens returns the per-request token ceiling for the configured tier.
func (g *Guard) MaxTokens() int { return g.maxTokens }

// Validate runs the layered checks. identity may be empty, in which case
// rate limiting is skipped. The layers short-circuit: a character-ceiling
// reject never reaches the token estimator.
func (g *Guard) Validate(text, identity string) *Result {
	charCount := len([]rune(text))
	if charCount > MaxChars {
		return &Result{
			Valid:             false,
			Reason:            fmt.Sprintf("input too long: %d characters (max %d)", charCount, MaxChars),
			CharCount:         charCount,
			RecommendedAction: ActionBlock,
		}
	}

	tokenCount := EstimateTokens(text)
	if tokenCount > g.maxTokens {
		action := ActionBlock
		if tokenCount < g.maxTokens*2 {
			action = ActionTruncate
		}
		return &Result{
			Valid:             false,
			Reason:            fmt.Sprintf("token limit exceeded: %d tokens (max %d for %s tier)", tokenCount, g.maxTokens, g.tier),
			CharCount:         charCount,
			TokenCount:        tokenCount,
			EstimatedCost:     EstimateCost(tokenCount),
			RecommendedAction: action,
		}
	}

	if identity != "" {
		if reason, ok := g.admit(identity, tokenCount); !ok {
			return &Result{
				Valid:             false,
				Reason:            reason,
				CharCount:         charCount,
				TokenCount:        tokenCount,
				RecommendedAction: ActionRateLimit,
			}
		}
	}

	return &Result{
		Valid:             true,
		Reason:            "input length valid",
		CharCount:         charCount,
		TokenCount:        tokenCount,
		EstimatedCost:     EstimateCost(tokenCount),
		RecommendedAction: ActionAllow,
	}
}

// admit checks and, on success, records the request in the identity's
// sliding window.
func (g *Guard) admit(identity string, tokenCount int) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-rateWindow)

	reqs := pruneTimes(g.requests[identity], cutoff)
	samples := pruneSamples(g.tokens[identity], cutoff)
	g.requests[identity] = reqs
	g.tokens[identity] = samples

	if len(reqs) >= MaxRequestsPerMinute {
		return fmt.Sprintf("rate limit exceeded: %d requests in last minute (max %d)", len(reqs), MaxRequestsPerMinute), false
	}

	windowTokens := 0
	for _, s := range samples {
		windowTokens += s.tokens
	}
	if windowTokens+tokenCount > MaxTokensPerMinute {
		return fmt.Sprintf("token rate limit exceeded: %d tokens in last minute (max %d)", windowTokens+tokenCount, MaxTokensPerMinute), false
	}

	g.requests[identity] = append(reqs, now)
	g.tokens[identity] = append(samples, tokenSample{at: now, tokens: tokenCount})
	return "", true
}

// Usage reports an identity's consumption over the last minute and hour.
func (g *Guard) Usage(identity string) UsageStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	minuteAgo := now.Add(-rateWindow)
	hourAgo := now.Add(-time.Hour)

	stats := UsageStats{Identity: identity, Tier: g.tier}
	for _, t := range g.requests[identity] {
		if t.After(hourAgo) {
			stats.RequestsLastHour++
			if t.After(minuteAgo) {
				stats.RequestsLastMin++
			}
		}
	}
	for _, s := range g.tokens[identity] {
		if s.at.After(hourAgo) {
			stats.TokensLastHour += s.tokens
			if s.at.After(minuteAgo) {
				stats.TokensLastMin += s.tokens
			}
		}
	}
	stats.EstimatedCostHour = EstimateCost(stats.TokensLastHour)
	return stats
}

// EstimateTokens approximates the token count of text without a tokenizer.
// Alphanumeric runs average ~4 chars per token, punctuation ~2; whitespace
// is free. A 10% buffer keeps the estimate conservative.
func EstimateTokens(text string) int {
	alnum, space := 0, 0
	total := 0
	for _, r := range text {
		total++
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			alnum++
		case unicode.IsSpace(r):
			space++
		}
	}
	special := total - alnum - space
	estimate := float64(alnum)/4 + float64(special)/2
	return int(math.Round(estimate * 1.1))
}

// EstimateCost projects the USD cost of a request, assuming output roughly
// twice the input size.
func EstimateCost(tokenCount int) float64 {
	inputCost := float64(tokenCount) / 1000 * costPer1KInputTokens
	outputCost := float64(tokenCount) * 2 / 1000 * costPer1KOutputTokens
	return inputCost + outputCost
}

// TruncateSafely cuts text to roughly maxTokens, preferring to end at a
// sentence or line boundary when one falls in the last 20% of the cut, and
// always appends TruncationMarker when anything was dropped.
func (g *Guard) TruncateSafely(text string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	maxRunes := maxTokens * 3

	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}

	truncated := string(runes[:maxRunes])
	lastPeriod := strings.LastIndex(truncated, ".")
	lastNewline := strings.LastIndex(truncated, "\n")
	cutPoint := lastPeriod
	if lastNewline > cutPoint {
		cutPoint = lastNewline
	}
	if cutPoint > len(truncated)*4/5 {
		truncated = truncated[:cutPoint+1]
	}
	return truncated + TruncationMarker
}

func pruneTimes(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func pruneSamples(ss []tokenSample, cutoff time.Time) []tokenSample {
	kept := ss[:0]
	for _, s := range ss {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}
