// Package ingestion handles validation, extraction, chunking, embedding,
// and persistence of uploaded documents.
package ingestion

import (
	"errors"
	"unicode"
)

var ErrChunkConfig = errors.New("chunk overlap must be non-negative and smaller than chunk size")

// Fragment is one chunk of a document's extracted text. Start and End are
// byte offsets into the extracted text; consecutive fragments share
// overlap tokens, and their spans tile the token range of the text.
type Fragment struct {
	Seq   int
	Text  string
	Start int
	End   int
}

type tokenSpan struct {
	start int
	end   int
}

// ChunkText splits text into windows of targetTokens whitespace-delimited
// tokens with overlapTokens shared between consecutive windows. The split
// is deterministic: identical input yields identical boundaries. Empty
// input yields zero fragments.
func ChunkText(text string, targetTokens, overlapTokens int) ([]Fragment, error) {
	if targetTokens <= 0 || overlapTokens < 0 || overlapTokens >= targetTokens {
		return nil, ErrChunkConfig
	}

	tokens := scanTokens(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	step := targetTokens - overlapTokens
	fragments := make([]Fragment, 0, (len(tokens)+step-1)/step)
	for start := 0; start < len(tokens); start += step {
		end := start + targetTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		from := tokens[start].start
		to := tokens[end-1].end
		fragments = append(fragments, Fragment{
			Seq:   len(fragments),
			Text:  text[from:to],
			Start: from,
			End:   to,
		})
		if end == len(tokens) {
			break
		}
	}

	return fragments, nil
}

// scanTokens records the byte span of every whitespace-delimited token so
// chunk text can be sliced out of the original without re-joining.
func scanTokens(text string) []tokenSpan {
	tokens := make([]tokenSpan, 0)
	inToken := false
	start := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inToken {
				tokens = append(tokens, tokenSpan{start: start, end: i})
				inToken = false
			}
			continue
		}
		if !inToken {
			start = i
			inToken = true
		}
	}
	if inToken {
		tokens = append(tokens, tokenSpan{start: start, end: len(text)})
	}
	return tokens
}
