package protect

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Leakage pattern families, checked in this order. First match wins.
const (
	LeakNone            = "none"
	LeakSystemPrompt    = "system_prompt"
	LeakSecretKey       = "secret_key"
	LeakProtectedPhrase = "protected_phrase"
	LeakSentinel        = "sentinel"
)

// DefaultSentinels mark protected content when no explicit sentinel tokens
// are configured.
var DefaultSentinels = []string{"[SYSTEM]", "[SECRET]", "[PROTECTED]"}

// Context describes everything that must never appear in generated output.
// It is long-lived configuration: immutable during a request, mutable
// between requests via AddProtectedPhrase.
type Context struct {
	SystemPrompt     string
	SecretKeys       []string
	ProtectedPhrases []string
	SentinelTokens   []string
}

// Result holds the outcome of one leakage check.
type Result struct {
	Leaked     bool     `json:"leaked"`
	Type       string   `json:"leakage_type"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Redaction tokens per pattern family.
var redactions = map[string]string{
	LeakSystemPrompt:    "[REDACTED]",
	LeakSecretKey:       "[KEY_REDACTED]",
	LeakProtectedPhrase: "[PROTECTED]",
	LeakSentinel:        "[REMOVED]",
}

const genericRefusal = "I apologize, but I cannot provide that information."

// collapseMarkerLimit: above this many redaction markers the response is
// considered too compromised to salvage and replaced wholesale.
const collapseMarkerLimit = 3

type indirectPattern struct {
	re         *regexp.Regexp
	confidence float64
	name       string
}

// Signatures of indirect disclosure: the model talking about its
// instructions rather than quoting them.
var indirectPatterns = []indirectPattern{
	{regexp.MustCompile(`(?i)(my|the)\s+(system\s+)?(prompt|instruction|rule)s?\s+(is|says|states|are)`), 0.8, "prompt_disclosure"},
	{regexp.MustCompile(`(?i)i\s+am\s+(programmed|configured|instructed)\s+to`), 0.7, "instruction_disclosure"},
	{regexp.MustCompile(`(?i)(according to|as per|following)\s+my\s+(instruction|guideline|rule)`), 0.7, "rule_disclosure"},
	{regexp.MustCompile(`(?i)my\s+(creator|developer|programmer)\s+(told|said|instructed)`), 0.6, "origin_disclosure"},
	{regexp.MustCompile(`(?i)(secret|api|token|key)[\s:]+[a-zA-Z0-9]{8,}`), 0.9, "secret_pattern"},
}

// Sentence-level removal patterns for indirect disclosures.
var indirectSentences = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(my|the)\s+(system\s+)?(prompt|instruction|rule)[^.!?]*[.!?]`),
	regexp.MustCompile(`(?i)i\s+am\s+(programmed|configured|instructed)[^.!?]*[.!?]`),
	regexp.MustCompile(`(?i)(according to|as per|following)\s+my\s+(instruction|guideline|rule)[^.!?]*[.!?]`),
}

// Protector detects and redacts leakage of protected context in output
// text. Patterns are derived from the Context at construction and rebuilt
// when the context changes.
type Protector struct {
	mu      sync.RWMutex
	context Context
	// families keeps the fixed check order; patterns maps family name to
	// its compiled patterns.
	families []string
	patterns map[string][]*regexp.Regexp
}

// NewProtector builds a Protector for the given context. Sentinel tokens
// default to DefaultSentinels when unset.
func NewProtector(ctx Context) *Protector {
	if len(ctx.SentinelTokens) == 0 {
		ctx.SentinelTokens = append([]string(nil), DefaultSentinels...)
	}
	p := &Protector{
		context:  ctx,
		families: []string{LeakSystemPrompt, LeakSecretKey, LeakProtectedPhrase, LeakSentinel},
	}
	p.rebuild()
	return p
}

// rebuild derives the detection patterns from the context. Callers must
// hold no lock; rebuild takes the write lock itself.
func (p *Protector) rebuild() {
	patterns := map[string][]*regexp.Regexp{
		LeakSystemPrompt:    nil,
		LeakSecretKey:       nil,
		LeakProtectedPhrase: nil,
		LeakSentinel:        nil,
	}

	// Sliding word windows over the system prompt so even a partial
	// verbatim leak of a sizeable chunk is caught.
	if p.context.SystemPrompt != "" {
		words := strings.Fields(p.context.SystemPrompt)
		for _, phraseLen := range []int{7, 5, 4, 3} {
			if len(words) < phraseLen {
				continue
			}
			for i := 0; i+phraseLen <= len(words); i++ {
				phrase := strings.Join(words[i:i+phraseLen], " ")
				if len(phrase) < 15 {
					continue
				}
				patterns[LeakSystemPrompt] = append(patterns[LeakSystemPrompt],
					regexp.MustCompile(`(?i)`+regexp.QuoteMeta(phrase)))
			}
		}
	}

	// Keys longer than 8 chars get a first4/last4 anchor with a wildcard
	// gap so partially masked leaks still match.
	for _, key := range p.context.SecretKeys {
		if len(key) > 8 {
			start := regexp.QuoteMeta(key[:4])
			end := regexp.QuoteMeta(key[len(key)-4:])
			expr := fmt.Sprintf(`(?i)%s.{%d,%d}%s`, start, len(key)-8, len(key), end)
			patterns[LeakSecretKey] = append(patterns[LeakSecretKey], regexp.MustCompile(expr))
		} else if key != "" {
			patterns[LeakSecretKey] = append(patterns[LeakSecretKey],
				regexp.MustCompile(`(?i)`+regexp.QuoteMeta(key)))
		}
	}

	for _, phrase := range p.context.ProtectedPhrases {
		patterns[LeakProtectedPhrase] = append(patterns[LeakProtectedPhrase],
			regexp.MustCompile(`(?i)`+regexp.QuoteMeta(phrase)))
	}

	for _, token := range p.context.SentinelTokens {
		patterns[LeakSentinel] = append(patterns[LeakSentinel],
			regexp.MustCompile(`(?i)`+regexp.QuoteMeta(token)))
	}

	p.mu.Lock()
	p.patterns = patterns
	p.mu.Unlock()
}

// DetectLeakage checks output for protected content. Exact pattern families
// are checked first in fixed order; if none match, the indirect-disclosure
// signatures run as a second pass.
func (p *Protector) DetectLeakage(output string) *Result {
	if output == "" {
		return &Result{Type: LeakNone}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, family := range p.families {
		for _, re := range p.patterns[family] {
			if match := re.FindString(output); match != "" {
				confidence := 0.9
				if family == LeakSecretKey {
					confidence = 1.0
				}
				return &Result{
					Leaked:     true,
					Type:       family,
					Confidence: confidence,
					Evidence:   []string{match},
					Suggestion: suggestionFor(family),
				}
			}
		}
	}

	for _, ip := range indirectPatterns {
		if match := ip.re.FindString(output); match != "" {
			return &Result{
				Leaked:     true,
				Type:       "indirect_" + ip.name,
				Confidence: ip.confidence,
				Evidence:   []string{match},
				Suggestion: "block or heavily sanitize response",
			}
		}
	}

	return &Result{Type: LeakNone}
}

// SanitizeOutput removes protected content from output. leakage may be a
// pre-computed result; pass nil to detect internally. If more than
// collapseMarkerLimit redaction markers remain, the whole response is
// replaced with a generic refusal.
func (p *Protector) SanitizeOutput(output string, leakage *Result) string {
	if output == "" {
		return output
	}
	if leakage == nil {
		leakage = p.DetectLeakage(output)
	}
	if !leakage.Leaked {
		return output
	}

	p.mu.RLock()
	sanitized := output
	for _, family := range p.families {
		replacement := redactions[family]
		for _, re := range p.patterns[family] {
			sanitized = re.ReplaceAllString(sanitized, replacement)
		}
	}
	p.mu.RUnlock()

	for _, re := range indirectSentences {
		sanitized = re.ReplaceAllString(sanitized, "")
	}

	markers := 0
	for _, token := range redactions {
		markers += strings.Count(sanitized, token)
	}
	if markers > collapseMarkerLimit {
		return genericRefusal
	}
	return strings.TrimSpace(sanitized)
}

// AddProtectedPhrase registers an additional phrase and rebuilds the
// pattern tables. Safe to call between requests.
func (p *Protector) AddProtectedPhrase(phrase string) {
	p.mu.Lock()
	for _, existing := range p.context.ProtectedPhrases {
		if existing == phrase {
			p.mu.Unlock()
			return
		}
	}
	p.context.ProtectedPhrases = append(p.context.ProtectedPhrases, phrase)
	p.mu.Unlock()
	p.rebuild()
}

// Summary reports what is being protected, for diagnostics.
func (p *Protector) Summary() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for _, pats := range p.patterns {
		total += len(pats)
	}
	return map[string]any{
		"system_prompt_protected": p.context.SystemPrompt != "",
		"secret_keys_count":       len(p.context.SecretKeys),
		"protected_phrases_count": len(p.context.ProtectedPhrases),
		"sentinel_tokens_count":   len(p.context.SentinelTokens),
		"total_patterns":          total,
	}
}

func suggestionFor(family string) string {
	switch family {
	case LeakSystemPrompt:
		return "block response - system prompt leaked"
	case LeakSecretKey:
		return "block immediately - secret key exposed"
	case LeakProtectedPhrase:
		return "sanitize - protected content detected"
	case LeakSentinel:
		return "remove sentinel tokens"
	default:
		return "review and sanitize"
	}
}
