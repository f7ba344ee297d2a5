package normalize

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Flag names for the transformations a normalization pass may apply.
const (
	FlagBase64Decoded       = "base64_decoded"
	FlagURLDecoded          = "url_decoded"
	FlagUnicodeNormalized   = "unicode_normalized"
	FlagWhitespaceCollapsed = "whitespace_collapsed"
	FlagLeetspeakExpanded   = "leetspeak_expanded"
	FlagNullBytesRemoved    = "null_bytes_removed"
	FlagTyposCorrected      = "typos_corrected"
)

// Result holds the outcome of a single normalization pass.
type Result struct {
	Original   string   `json:"original"`
	Normalized string   `json:"normalized"`
	Flags      []string `json:"flags,omitempty"`
	Modified   bool     `json:"modified"`
}

// HasFlag reports whether the given transformation was applied.
func (r *Result) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// encodingWeights score how suspicious each transformation is. Flags not
// listed here contribute a default weight.
var encodingWeights = map[string]float64{
	FlagBase64Decoded:     0.6,
	FlagURLDecoded:        0.4,
	FlagLeetspeakExpanded: 0.3,
	FlagNullBytesRemoved:  0.8,
}

const defaultFlagWeight = 0.2

var (
	// Runs of 20+ base64-alphabet characters, optionally padded.
	base64Run = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)

	leetDigits = []struct {
		digit  string
		letter string
		// digit between two letters, e.g. "ru1es"
		between *regexp.Regexp
	}{
		{"0", "o", regexp.MustCompile(`([a-zA-Z])0([a-zA-Z])`)},
		{"1", "i", regexp.MustCompile(`([a-zA-Z])1([a-zA-Z])`)},
		{"3", "e", regexp.MustCompile(`([a-zA-Z])3([a-zA-Z])`)},
		{"4", "a", regexp.MustCompile(`([a-zA-Z])4([a-zA-Z])`)},
		{"5", "s", regexp.MustCompile(`([a-zA-Z])5([a-zA-Z])`)},
		{"7", "t", regexp.MustCompile(`([a-zA-Z])7([a-zA-Z])`)},
		{"8", "b", regexp.MustCompile(`([a-zA-Z])8([a-zA-Z])`)},
	}

	// Misspellings attackers use to slip keywords past naive matchers.
	typoFixes = []struct {
		re          *regexp.Regexp
		replacement string
	}{
		{regexp.MustCompile(`(?i)\bignor[e]?\b`), "ignore"},
		{regexp.MustCompile(`(?i)\bingore\b`), "ignore"},
		{regexp.MustCompile(`(?i)\bignro\b`), "ignore"},
		{regexp.MustCompile(`(?i)\bprevoius\b`), "previous"},
		{regexp.MustCompile(`(?i)\bprevius\b`), "previous"},
		{regexp.MustCompile(`(?i)\bprevios\b`), "previous"},
		{regexp.MustCompile(`(?i)\bprevous\b`), "previous"},
		{regexp.MustCompile(`(?i)\binstrction\w*\b`), "instruction"},
		{regexp.MustCompile(`(?i)\binstrution\w*\b`), "instruction"},
		{regexp.MustCompile(`(?i)\bsystme\b`), "system"},
		{regexp.MustCompile(`(?i)\bsysem\b`), "system"},
		{regexp.MustCompile(`(?i)\bsytem\b`), "system"},
		{regexp.MustCompile(`(?i)\brevael\b`), "reveal"},
		{regexp.MustCompile(`(?i)\bshwo\b`), "show"},
		{regexp.MustCompile(`(?i)\bb[py]+ass\b`), "bypass"},
		{regexp.MustCompile(`(?i)\bbipass\b`), "bypass"},
		{regexp.MustCompile(`(?i)\bbyppas\b`), "bypass"},
		{regexp.MustCompile(`(?i)\bbpypass\b`), "bypass"},
		{regexp.MustCompile(`(?i)\bovverride\b`), "override"},
		{regexp.MustCompile(`(?i)\bpromt\b`), "prompt"},
		{regexp.MustCompile(`(?i)\bpromtp\b`), "prompt"},
		{regexp.MustCompile(`(?i)\bsecurtiy\b`), "security"},
		{regexp.MustCompile(`(?i)\bsecurty\b`), "security"},
		{regexp.MustCompile(`(?i)\bdelte\b`), "delete"},
		{regexp.MustCompile(`(?i)\bimmidatley\b`), "immediately"},
		{regexp.MustCompile(`(?i)\bimediatley\b`), "immediately"},
		{regexp.MustCompile(`(?i)\bdisreg[aou]*rd\b`), "disregard"},
	}
)

// Normalizer decodes and canonicalizes text so that obfuscated attacks are
// visible to downstream pattern matching. The stages run in a fixed order:
// decoding happens before keyword fixing so the fixes see decoded payloads.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize runs the full normalization pipeline over text.
func (n *Normalizer) Normalize(text string) *Result {
	if text == "" {
		return &Result{}
	}

	original := text
	var flags []string

	if decoded, ok := decodeBase64Runs(text); ok {
		text = decoded
		flags = append(flags, FlagBase64Decoded)
	}

	if decoded, err := url.PathUnescape(text); err == nil && decoded != text {
		text = decoded
		flags = append(flags, FlagURLDecoded)
	}

	if folded := norm.NFKC.String(text); folded != text {
		text = folded
		flags = append(flags, FlagUnicodeNormalized)
	}

	if collapsed := strings.Join(strings.Fields(text), " "); collapsed != text {
		text = collapsed
		flags = append(flags, FlagWhitespaceCollapsed)
	}

	if expanded := expandLeetspeak(text); expanded != text {
		text = expanded
		flags = append(flags, FlagLeetspeakExpanded)
	}

	if strings.ContainsRune(text, 0) {
		text = strings.ReplaceAll(text, "\x00", "")
		flags = append(flags, FlagNullBytesRemoved)
	}

	fixed, corrected := fixAttackTypos(text)
	if corrected {
		flags = append(flags, FlagTyposCorrected)
	}
	text = fixed

	return &Result{
		Original:   original,
		Normalized: text,
		Flags:      flags,
		Modified:   text != original,
	}
}

// EncodingScore returns a suspicion score derived from the transformations
// that were applied, capped at 1.0. It contributes to the combined risk
// score; it is never a standalone decision.
func (n *Normalizer) EncodingScore(r *Result) float64 {
	if r == nil || !r.Modified {
		return 0.0
	}
	total := 0.0
	for _, flag := range r.Flags {
		if w, ok := encodingWeights[flag]; ok {
			total += w
		} else {
			total += defaultFlagWeight
		}
	}
	if total > 1.0 {
		return 1.0
	}
	return total
}

// decodeBase64Runs replaces base64 runs whose decoded form is printable
// UTF-8. Non-decodable or binary runs are left untouched.
func decodeBase64Runs(text string) (string, bool) {
	decodedAny := false
	for _, match := range base64Run.FindAllString(text, -1) {
		raw, err := base64.StdEncoding.DecodeString(match)
		if err != nil {
			raw, err = base64.RawStdEncoding.DecodeString(match)
		}
		if err != nil {
			continue
		}
		decoded := string(raw)
		if decoded == "" || !utf8.ValidString(decoded) || !isPrintable(decoded) {
			continue
		}
		text = strings.ReplaceAll(text, match, decoded)
		decodedAny = true
	}
	return text, decodedAny
}

func isPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func expandLeetspeak(text string) string {
	// Pass 1: digits sandwiched between letters.
	for _, ld := range leetDigits {
		for ld.between.MatchString(text) {
			text = ld.between.ReplaceAllString(text, "${1}"+ld.letter+"${2}")
		}
	}

	// Pass 2: aggressive substitution in tokens mixing letters and digits.
	words := strings.Split(text, " ")
	for i, word := range words {
		hasLetter := strings.IndexFunc(word, unicode.IsLetter) >= 0
		hasDigit := strings.IndexFunc(word, unicode.IsDigit) >= 0
		if hasLetter && hasDigit {
			for _, ld := range leetDigits {
				word = strings.ReplaceAll(word, ld.digit, ld.letter)
			}
			words[i] = word
		}
	}
	return strings.Join(words, " ")
}

// fixAttackTypos lower-cases the text and corrects known attack-keyword
// misspellings. The lower-cased form is what downstream detection sees.
func fixAttackTypos(text string) (string, bool) {
	lower := strings.ToLower(text)
	fixed := lower
	for _, tf := range typoFixes {
		fixed = tf.re.ReplaceAllString(fixed, tf.replacement)
	}
	return fixed, fixed != lower
}
