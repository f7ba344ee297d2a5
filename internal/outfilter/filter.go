package outfilter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/promptgate/promptgate/internal/protect"
)

// Output limits.
const (
	MaxOutputChars   = 10_000
	TruncationMarker = "... [truncated]"
)

// blockThreshold: leakage results at or above this confidence block the
// response outright instead of being sanitized.
const blockThreshold = 0.8

const (
	leakageRefusal = "I apologize, but I cannot provide that information."
	harmfulRefusal = "I cannot provide that information as it may be harmful."
	removedNotice  = "[Content removed for safety]."
)

// harmfulPattern flags generated text that itself tries to manipulate the
// reader or relay dangerous instructions.
type harmfulPattern struct {
	re       *regexp.Regexp
	severity float64
	category string
}

var harmfulPatterns = []harmfulPattern{
	{regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\b.*\b(instruction|command)`), 0.9, "injection_attempt"},
	{regexp.MustCompile(`(?i)\byou\s+(should|must|need to)\s+(ignore|disregard)`), 0.9, "injection_attempt"},
	{regexp.MustCompile(`(?i)\b(trick|manipulate|deceive)\s+(the\s+)?(user|human|person)`), 0.8, "manipulation"},
	{regexp.MustCompile(`(?i)\bbypass\s+(security|safety|filter)`), 0.8, "manipulation"},
	{regexp.MustCompile(`(?i)\bhow\s+to\s+(hack|exploit|attack)`), 0.95, "harmful_instruction"},
	{regexp.MustCompile(`(?i)\b(create|build|make)\s+(a\s+)?(virus|malware|exploit)`), 0.95, "harmful_instruction"},
}

// Result describes the outcome of filtering one model response. Approved
// is true only when no issue of any kind was found.
type Result struct {
	Approved      bool     `json:"approved"`
	FilteredText  string   `json:"filtered_text"`
	RiskScore     float64  `json:"risk_score"`
	IssuesFound   []string `json:"issues_found"`
	Modifications []string `json:"modifications"`
}

// Filter screens model output before it reaches the caller. It combines
// context-leakage detection with a harmful-content catalog and a length
// cap.
type Filter struct {
	protector *protect.Protector
}

func NewFilter(protector *protect.Protector) *Filter {
	return &Filter{protector: protector}
}

// Filter checks output for leakage, harmful content, and excessive length,
// in that order. Each stage may rewrite the text before the next one runs.
func (f *Filter) Filter(output string) *Result {
	if strings.TrimSpace(output) == "" {
		return &Result{
			Approved:     false,
			FilteredText: "",
			IssuesFound:  []string{"empty_output"},
		}
	}

	res := &Result{FilteredText: output}

	leakage := f.protector.DetectLeakage(res.FilteredText)
	if leakage.Leaked {
		res.IssuesFound = append(res.IssuesFound, "leakage:"+leakage.Type)
		res.RiskScore = leakage.Confidence
		if leakage.Confidence >= blockThreshold {
			res.FilteredText = leakageRefusal
			res.Modifications = append(res.Modifications, "blocked_for_leakage")
			return res
		}
		res.FilteredText = f.protector.SanitizeOutput(res.FilteredText, leakage)
		res.Modifications = append(res.Modifications, "sanitized_leakage")
	}

	harmScore, harmIssues := scanHarmful(res.FilteredText)
	if len(harmIssues) > 0 {
		res.IssuesFound = append(res.IssuesFound, harmIssues...)
		if harmScore > res.RiskScore {
			res.RiskScore = harmScore
		}
		if harmScore >= blockThreshold {
			res.FilteredText = harmfulRefusal
			res.Modifications = append(res.Modifications, "blocked_for_harm")
			return res
		}
		res.FilteredText = removeHarmfulSentences(res.FilteredText)
		res.Modifications = append(res.Modifications, "removed_harmful_content")
	}

	if len([]rune(res.FilteredText)) > MaxOutputChars {
		runes := []rune(res.FilteredText)
		res.FilteredText = string(runes[:MaxOutputChars]) + TruncationMarker
		res.IssuesFound = append(res.IssuesFound, "excessive_length")
		res.Modifications = append(res.Modifications, "truncated")
	}

	res.Approved = len(res.IssuesFound) == 0
	return res
}

// scanHarmful returns the highest matched severity and one issue string
// per matched pattern.
func scanHarmful(text string) (float64, []string) {
	var score float64
	var issues []string
	for _, hp := range harmfulPatterns {
		if hp.re.MatchString(text) {
			issues = append(issues, fmt.Sprintf("harmful:%s", hp.category))
			if hp.severity > score {
				score = hp.severity
			}
		}
	}
	return score, issues
}

// removeHarmfulSentences excises sentences containing a harmful match and
// leaves a notice in their place.
func removeHarmfulSentences(text string) string {
	sentences := splitSentences(text)
	var kept []string
	removed := false
	for _, s := range sentences {
		harmful := false
		for _, hp := range harmfulPatterns {
			if hp.re.MatchString(s) {
				harmful = true
				break
			}
		}
		if harmful {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	out := strings.TrimSpace(strings.Join(kept, " "))
	if removed {
		if out != "" {
			out += " "
		}
		out += removedNotice
	}
	return out
}

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

func splitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}
