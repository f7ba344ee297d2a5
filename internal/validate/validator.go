package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/promptgate/promptgate/internal/detect"
	"github.com/promptgate/promptgate/internal/normalize"
)

// Action is the decision the validator hands back for an input. Blocked and
// sanitized inputs are normal control-flow outcomes, never errors.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionMonitor  Action = "monitor"
	ActionSanitize Action = "sanitize"
	ActionBlock    Action = "block"
)

// Decision thresholds on the combined risk score.
type Thresholds struct {
	Block    float64
	Sanitize float64
	Monitor  float64
}

// DefaultThresholds per the layered-defense tuning.
var DefaultThresholds = Thresholds{Block: 0.8, Sanitize: 0.6, Monitor: 0.4}

// Detector is the attack-detection capability the validator depends on.
type Detector interface {
	Detect(text string) *detect.Result
}

// Result holds a validation decision. Invariants: Valid == (Action !=
// ActionBlock); SanitizedInput is non-empty iff Action == ActionSanitize.
type Result struct {
	Valid          bool           `json:"valid"`
	Action         Action         `json:"action"`
	SanitizedInput string         `json:"sanitized_input,omitempty"`
	RiskScore      float64        `json:"risk_score"`
	Detection      *detect.Result `json:"detection,omitempty"`
	Reasoning      string         `json:"reasoning"`
}

const (
	removedMarker    = "[REMOVED]"
	sanitizedAllText = "[Input contained suspicious content and was sanitized]"

	// Weight of the encoding-suspicion bonus added on top of detection.
	encodingBonus = 0.2
)

// Phrases stripped out during sanitization.
var sanitizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\s+((all|previous|prior|the|above)\s+)+(instruction|command|prompt)s?`),
	regexp.MustCompile(`(?i)\b(show|reveal|display)\s+(your|the)\s+(prompt|instruction)`),
	regexp.MustCompile(`(?i)\byou\s+are\s+(now|no longer)`),
	regexp.MustCompile(`(?i)\bDAN\b|\bSTAN\b`),
}

var repeatedMarkers = regexp.MustCompile(`(\[REMOVED\]\s*)+`)

// Validator combines normalization and detection into a single
// allow/monitor/sanitize/block decision.
type Validator struct {
	detector   Detector
	normalizer *normalize.Normalizer
	thresholds Thresholds

	// collapseRatio is the marker-to-token ratio above which a sanitized
	// input is replaced wholesale instead of returned half-redacted.
	// Tunable; 0.5 by default.
	collapseRatio float64
}

// NewValidator creates a Validator with default thresholds.
func NewValidator(detector Detector) *Validator {
	return &Validator{
		detector:      detector,
		normalizer:    normalize.NewNormalizer(),
		thresholds:    DefaultThresholds,
		collapseRatio: 0.5,
	}
}

// WithThresholds overrides the decision thresholds.
func (v *Validator) WithThresholds(t Thresholds) *Validator {
	v.thresholds = t
	return v
}

// Validate decides what to do with an input. Detection runs on both the raw
// and the normalized text: a pattern may only surface after decoding, or the
// raw surface form may score higher. The higher-scoring result wins, then an
// encoding-suspicion bonus is added for obfuscation attempts that matched no
// literal pattern.
func (v *Validator) Validate(text string) *Result {
	if strings.TrimSpace(text) == "" {
		return &Result{
			Valid:     false,
			Action:    ActionBlock,
			RiskScore: 0.0,
			Reasoning: "empty input",
		}
	}

	normalized := v.normalizer.Normalize(text)

	detection := v.detector.Detect(text)
	detectionNorm := v.detector.Detect(normalized.Normalized)
	if detectionNorm.RiskScore > detection.RiskScore {
		detection = detectionNorm
	}

	encodingScore := v.normalizer.EncodingScore(normalized)
	combined := detection.RiskScore + encodingScore*encodingBonus
	if combined > 1.0 {
		combined = 1.0
	}

	action := v.determineAction(combined)

	sanitized := ""
	if action == ActionSanitize {
		sanitized = v.sanitize(text)
	}

	return &Result{
		Valid:          action != ActionBlock,
		Action:         action,
		SanitizedInput: sanitized,
		RiskScore:      combined,
		Detection:      detection,
		Reasoning:      reasoning(action, detection, normalized),
	}
}

func (v *Validator) determineAction(riskScore float64) Action {
	switch {
	case riskScore >= v.thresholds.Block:
		return ActionBlock
	case riskScore >= v.thresholds.Sanitize:
		return ActionSanitize
	case riskScore >= v.thresholds.Monitor:
		return ActionMonitor
	default:
		return ActionAllow
	}
}

// sanitize strips known attack phrases. If redaction ate more than
// collapseRatio of the tokens the whole input is replaced: a mangled
// half-redacted string is worse than an honest placeholder.
func (v *Validator) sanitize(text string) string {
	sanitized := text
	for _, p := range sanitizePatterns {
		sanitized = p.ReplaceAllString(sanitized, removedMarker)
	}
	sanitized = repeatedMarkers.ReplaceAllString(sanitized, removedMarker+" ")

	markers := strings.Count(sanitized, removedMarker)
	tokens := len(strings.Fields(sanitized))
	if tokens > 0 && float64(markers) > float64(tokens)*v.collapseRatio {
		return sanitizedAllText
	}
	return strings.TrimSpace(sanitized)
}

// reasoning names the category and level that drove the decision. The
// string ends up in audit events, so it must identify the cause.
func reasoning(action Action, detection *detect.Result, norm *normalize.Result) string {
	switch action {
	case ActionBlock:
		if detection.RiskLevel == detect.RiskCritical {
			return fmt.Sprintf("critical %s attack detected", detection.Category)
		}
		return fmt.Sprintf("high-risk %s detected", detection.Category)
	case ActionSanitize:
		reasons := []string{fmt.Sprintf("%s patterns found", detection.Category)}
		if norm.Modified {
			reasons = append(reasons, "obfuscation detected")
		}
		return "suspicious content: " + strings.Join(reasons, ", ")
	case ActionMonitor:
		return fmt.Sprintf("low-risk patterns detected: %s", detection.Category)
	default:
		return "input appears safe"
	}
}
