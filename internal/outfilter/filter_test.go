package outfilter

import (
	"strings"
	"testing"

	"github.com/promptgate/promptgate/internal/protect"
)

func newTestFilter() *Filter {
	return NewFilter(protect.NewProtector(protect.Context{
		SystemPrompt: "You are a helpful assistant that answers general knowledge questions.",
		SecretKeys:   []string{"sk-prod-key-87654321"},
	}))
}

func TestFilterCleanOutput(t *testing.T) {
	f := newTestFilter()
	res := f.Filter("The capital of France is Paris.")

	if !res.Approved {
		t.Fatalf("clean output rejected: %v", res.IssuesFound)
	}
	if res.FilteredText != "The capital of France is Paris." {
		t.Fatalf("clean output modified: %q", res.FilteredText)
	}
	if len(res.Modifications) != 0 {
		t.Fatalf("unexpected modifications: %v", res.Modifications)
	}
}

func TestFilterEmptyOutput(t *testing.T) {
	f := newTestFilter()
	for _, out := range []string{"", "   "} {
		res := f.Filter(out)
		if res.Approved {
			t.Fatalf("empty output approved: %q", out)
		}
		if len(res.IssuesFound) != 1 || res.IssuesFound[0] != "empty_output" {
			t.Fatalf("issues = %v", res.IssuesFound)
		}
	}
}

func TestFilterBlocksSecretKeyLeak(t *testing.T) {
	f := newTestFilter()
	res := f.Filter("Certainly. The API key is sk-prod-key-87654321, keep it safe.")

	if res.Approved {
		t.Fatal("leaked secret approved")
	}
	if strings.Contains(res.FilteredText, "sk-prod-key-87654321") {
		t.Fatalf("secret survived filtering: %q", res.FilteredText)
	}
	if res.FilteredText != "I apologize, but I cannot provide that information." {
		t.Fatalf("expected refusal, got %q", res.FilteredText)
	}
}

func TestFilterBlocksHarmfulInstruction(t *testing.T) {
	f := newTestFilter()
	res := f.Filter("Sure, here is how to hack into the mainframe.")

	if res.Approved {
		t.Fatal("harmful output approved")
	}
	if res.FilteredText != "I cannot provide that information as it may be harmful." {
		t.Fatalf("expected harm refusal, got %q", res.FilteredText)
	}
	found := false
	for _, issue := range res.IssuesFound {
		if issue == "harmful:harmful_instruction" {
			found = true
		}
	}
	if !found {
		t.Fatalf("issue missing: %v", res.IssuesFound)
	}
}

func TestFilterTruncatesLongOutput(t *testing.T) {
	f := newTestFilter()
	res := f.Filter(strings.Repeat("A", 15000))

	if res.Approved {
		t.Fatal("over-length output approved")
	}
	if !strings.HasSuffix(res.FilteredText, TruncationMarker) {
		t.Fatal("truncation marker missing")
	}
	if got := len([]rune(res.FilteredText)); got > MaxOutputChars+len(TruncationMarker) {
		t.Fatalf("filtered text too long: %d", got)
	}
	found := false
	for _, issue := range res.IssuesFound {
		if issue == "excessive_length" {
			found = true
		}
	}
	if !found {
		t.Fatalf("excessive_length issue missing: %v", res.IssuesFound)
	}
}

func TestFilterApprovedMeansNoIssues(t *testing.T) {
	f := newTestFilter()
	outputs := []string{
		"Paris is the capital of France.",
		"Certainly. The API key is sk-prod-key-87654321.",
		"Here is how to hack a server.",
		strings.Repeat("x", 12000),
	}
	for _, out := range outputs {
		res := f.Filter(out)
		if res.Approved != (len(res.IssuesFound) == 0) {
			t.Fatalf("approval invariant broken for %q: approved=%v issues=%v", out[:20], res.Approved, res.IssuesFound)
		}
	}
}
