package answer

import (
	"strings"
	"testing"

	"github.com/fabfab/docqa/index"
)

func TestSelectContextKeepsBestWithinBudget(t *testing.T) {
	long := strings.Repeat("word ", 400)
	hits := []index.Hit{
		{ChunkID: "doc-1:0", Text: long, Distance: 0.1},
		{ChunkID: "doc-1:1", Text: long, Distance: 0.3},
		{ChunkID: "doc-1:2", Text: long, Distance: 0.5},
	}

	selected := selectContext(hits, 500)
	if len(selected) != 1 {
		t.Fatalf("expected only the best chunk under budget, got %d", len(selected))
	}
	if selected[0].ChunkID != "doc-1:0" {
		t.Fatalf("expected the lowest-distance chunk kept, got %s", selected[0].ChunkID)
	}
}

func TestSelectContextAlwaysKeepsBestChunk(t *testing.T) {
	hits := []index.Hit{
		{ChunkID: "doc-1:0", Text: strings.Repeat("word ", 400), Distance: 0.1},
	}

	// Even a budget smaller than the best chunk keeps it whole rather
	// than truncating mid-chunk.
	selected := selectContext(hits, 10)
	if len(selected) != 1 {
		t.Fatalf("expected the best chunk kept, got %d", len(selected))
	}
	if selected[0].Text != hits[0].Text {
		t.Fatal("chunk text must not be truncated")
	}
}

func TestSelectContextNoBudgetKeepsAll(t *testing.T) {
	hits := []index.Hit{
		{ChunkID: "doc-1:0", Text: "a"},
		{ChunkID: "doc-1:1", Text: "b"},
	}
	if got := selectContext(hits, 0); len(got) != 2 {
		t.Fatalf("zero budget should disable trimming, got %d hits", len(got))
	}
}

func TestFormatUserPromptStructure(t *testing.T) {
	hits := []index.Hit{
		{Text: "The warranty period is 12 months."},
		{Text: "Payment is due within 30 days."},
	}

	prompt := formatUserPrompt("How long is the warranty?", hits)

	if !strings.Contains(prompt, "[Passage 1]") || !strings.Contains(prompt, "[Passage 2]") {
		t.Fatalf("missing passage markers:\n%s", prompt)
	}
	if !strings.Contains(prompt, "The warranty period is 12 months.") {
		t.Fatal("missing chunk text")
	}
	if !strings.HasSuffix(prompt, "Question: How long is the warranty?") {
		t.Fatalf("prompt must end with the question:\n%s", prompt)
	}

	bare := formatUserPrompt("What is Go?", nil)
	if strings.Contains(bare, "Context:") {
		t.Fatal("prompt without hits must not carry a context block")
	}
}

func TestCountTokensMonotonic(t *testing.T) {
	short := countTokens("warranty")
	long := countTokens(strings.Repeat("warranty period terms ", 50))
	if short <= 0 {
		t.Fatalf("expected positive token count, got %d", short)
	}
	if long <= short {
		t.Fatalf("longer text should cost more tokens: %d vs %d", short, long)
	}
	if countTokens("") != 0 {
		t.Fatal("empty text must cost zero tokens")
	}
}
