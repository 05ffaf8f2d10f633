package answer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/fabfab/docqa/index"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens measures text with the cl100k_base encoding, falling back
// to a bytes/4 estimate if the encoding cannot be loaded.
func countTokens(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// selectContext keeps hits best-first until the combined token budget is
// reached, dropping the lowest-relevance chunks first and never cutting
// inside a chunk. At least the best chunk is always kept.
func selectContext(hits []index.Hit, budget int) []index.Hit {
	if budget <= 0 || len(hits) == 0 {
		return hits
	}

	selected := make([]index.Hit, 0, len(hits))
	used := 0
	for i, hit := range hits {
		cost := countTokens(hit.Text)
		if i > 0 && used+cost > budget {
			break
		}
		selected = append(selected, hit)
		used += cost
	}
	return selected
}

func systemPrompt() string {
	return "You are a document question-answering assistant. Answer based ONLY on the provided context passages. " +
		"If the answer cannot be found in the context, say \"I don't have enough information to answer this question.\" " +
		"Keep answers concise and quote figures exactly as they appear in the context."
}

func generalSystemPrompt() string {
	return "You are a helpful assistant. No documents have been uploaded yet, so answer from general knowledge and note any uncertainty."
}

func formatUserPrompt(question string, hits []index.Hit) string {
	var sb strings.Builder
	if len(hits) > 0 {
		sb.WriteString("Context:\n")
		for i, hit := range hits {
			sb.WriteString(fmt.Sprintf("[Passage %d]\n", i+1))
			sb.WriteString(strings.TrimSpace(hit.Text))
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}
