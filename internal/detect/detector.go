package detect

import (
	"regexp"
	"strings"
)

// RiskLevel buckets a risk score for reporting.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Attack categories. The order of Catalog below fixes the tie-break when two
// categories produce the same maximum severity: the first category in
// catalog order wins.
const (
	CategoryNone                = "none"
	CategoryInstructionOverride = "instruction_override"
	CategoryRoleManipulation    = "role_manipulation"
	CategoryPromptExtraction    = "prompt_extraction"
	CategoryJailbreak           = "jailbreak"
	CategoryPrivilegeEscalation = "privilege_escalation"
	CategoryDelimiterBreaking   = "delimiter_breaking"
)

// Result holds the outcome of one detection pass. It is created fresh per
// call and never persisted.
type Result struct {
	Detected         bool           `json:"detected"`
	RiskScore        float64        `json:"risk_score"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	DetectedPatterns []string       `json:"detected_patterns,omitempty"`
	Category         string         `json:"category"`
	Details          map[string]any `json:"details,omitempty"`
}

// Pattern is a single weighted attack signature.
type Pattern struct {
	Expr     string
	Severity float64
	Name     string

	re *regexp.Regexp
}

// CategoryPatterns groups the patterns of one attack category.
type CategoryPatterns struct {
	Category string
	Patterns []Pattern
}

// Catalog is the static attack-pattern table. Adding a pattern is a data
// change; no calling code depends on its contents.
var Catalog = []CategoryPatterns{
	{CategoryInstructionOverride, []Pattern{
		{Expr: `\b(ignore|disregard|forget)\b.*\b(previous|prior|all|above)\b.*\b(instruction|command|prompt|rule)`, Severity: 0.95, Name: "direct_override"},
		{Expr: `\bignore\s+all\b`, Severity: 0.90, Name: "ignore_all"},
		{Expr: `\bnew\s+instructions?\s*:`, Severity: 0.85, Name: "instruction_injection"},
	}},
	{CategoryRoleManipulation, []Pattern{
		{Expr: `\byou\s+are\s+(now|no longer|a)\b.*\b(different|new|unrestricted)`, Severity: 0.85, Name: "role_change"},
		{Expr: `\b(pretend|act as|roleplay)\b`, Severity: 0.75, Name: "roleplay_attempt"},
	}},
	{CategoryPromptExtraction, []Pattern{
		{Expr: `\b(show|reveal|display|output|print|repeat|tell)\b.*\b(your|the)\b.*\b(prompt|instruction|system|guideline)`, Severity: 0.95, Name: "prompt_request"},
		{Expr: `\bwhat\s+(are|were|is)\s+your\s+(instruction|rule|guideline|prompt)`, Severity: 0.90, Name: "instruction_query"},
	}},
	{CategoryJailbreak, []Pattern{
		{Expr: `\b(DAN|STAN)\b`, Severity: 0.98, Name: "known_jailbreak"},
		{Expr: `do anything now`, Severity: 0.98, Name: "dan_jailbreak"},
		{Expr: `\bdeveloper\s+mode\b`, Severity: 0.90, Name: "developer_mode"},
	}},
	{CategoryPrivilegeEscalation, []Pattern{
		{Expr: `\bi\s+am\s+(an?\s+)?(admin|administrator|developer|owner|supervisor)`, Severity: 0.90, Name: "privilege_claim"},
		{Expr: `\bemergency\b.*\b(override|bypass|disable)`, Severity: 0.85, Name: "emergency_claim"},
	}},
	{CategoryDelimiterBreaking, []Pattern{
		{Expr: `(---|"""|###)\s*(end|stop|finish)`, Severity: 0.80, Name: "delimiter_end"},
		{Expr: `\[system\]`, Severity: 0.80, Name: "sentinel_injection"},
	}},
}

// Detector matches text against the attack catalog. All patterns are
// compiled once at construction; Detect is safe for concurrent use.
type Detector struct {
	catalog []CategoryPatterns
	total   int
}

// NewDetector compiles the default catalog.
func NewDetector() *Detector {
	return NewDetectorWithCatalog(Catalog)
}

// NewDetectorWithCatalog compiles a custom catalog. Patterns that fail to
// compile panic: the catalog is static data and a bad entry is a programming
// error, not an input condition.
func NewDetectorWithCatalog(catalog []CategoryPatterns) *Detector {
	compiled := make([]CategoryPatterns, len(catalog))
	total := 0
	for i, cat := range catalog {
		patterns := make([]Pattern, len(cat.Patterns))
		for j, p := range cat.Patterns {
			p.re = regexp.MustCompile(`(?i)` + p.Expr)
			patterns[j] = p
			total++
		}
		compiled[i] = CategoryPatterns{Category: cat.Category, Patterns: patterns}
	}
	return &Detector{catalog: compiled, total: total}
}

// Detect scores text against every pattern in the catalog. The result's
// risk score is the maximum severity among matches; its category is that of
// the first pattern (in catalog order) reaching the maximum.
func (d *Detector) Detect(text string) *Result {
	if strings.TrimSpace(text) == "" {
		return d.safeResult()
	}

	lower := strings.ToLower(text)
	var matched []string
	maxSeverity := 0.0
	category := CategoryNone

	for _, cat := range d.catalog {
		for _, p := range cat.Patterns {
			if p.re.MatchString(lower) {
				matched = append(matched, p.Name)
				if p.Severity > maxSeverity {
					maxSeverity = p.Severity
					category = cat.Category
				}
			}
		}
	}

	return &Result{
		Detected:         len(matched) > 0,
		RiskScore:        maxSeverity,
		RiskLevel:        LevelForScore(maxSeverity),
		DetectedPatterns: matched,
		Category:         category,
		Details: map[string]any{
			"method":           "pattern_matching",
			"patterns_checked": d.total,
		},
	}
}

// LevelForScore buckets a risk score into a RiskLevel.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 0.85:
		return RiskCritical
	case score >= 0.65:
		return RiskHigh
	case score >= 0.40:
		return RiskMedium
	case score > 0:
		return RiskLow
	default:
		return RiskNone
	}
}

func (d *Detector) safeResult() *Result {
	return &Result{
		Detected:  false,
		RiskScore: 0.0,
		RiskLevel: RiskNone,
		Category:  CategoryNone,
		Details:   map[string]any{"method": "pattern_matching"},
	}
}
