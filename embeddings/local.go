package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// localEmbedder is a deterministic term-hashing vectorizer: each distinct
// content token is hashed into one of dimension buckets with a
// hash-derived sign, weighted by its in-text frequency, and the result is
// L2-normalised. It runs on plain CPU with no model download and no
// network call, and identical text always produces the identical vector.
//
// Only unigrams are hashed. With stopwords removed, texts sharing no
// content token land at cosine distance 1.0 (barring rare bucket
// collisions), while a query sharing even one recurring term with a
// chunk lands well below it. The default relevance threshold is
// calibrated against that scale.
type localEmbedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

func NewLocalEmbedder(dimension int) (Embedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}
	return &localEmbedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}, nil
}

func (e *localEmbedder) Dimension() int { return e.dimension }

func (e *localEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = e.embedOne(text)
	}
	return results, nil
}

func (e *localEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dimension)

	counts := make(map[string]int)
	for _, token := range e.tokenize(text) {
		counts[token]++
	}
	for token, count := range counts {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimension))
		if sum&(1<<63) != 0 {
			vec[bucket] -= float32(count)
		} else {
			vec[bucket] += float32(count)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func (e *localEmbedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, token := range raw {
		if _, isStop := e.stopwords[token]; isStop {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// defaultStopwords covers articles, prepositions, auxiliaries, pronouns,
// and question words. Question words matter for retrieval: dropping
// "what" and "how" keeps a query vector concentrated on its content
// terms.
func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for",
		"to", "of", "in", "on", "at", "by", "with", "as", "is", "are",
		"was", "were", "be", "been", "being", "it", "this", "that",
		"these", "those", "from", "up", "down", "over", "under", "again",
		"further", "than", "so", "such", "into", "about", "between",
		"through", "during", "before", "after", "above", "below", "out",
		"off", "own", "same", "too", "very", "can", "will", "just",
		"should", "now",
		"what", "how", "when", "where", "which", "who", "whom", "why",
		"do", "does", "did", "done", "has", "have", "had", "having",
		"not", "no", "nor", "any", "all", "each", "both", "few", "more",
		"most", "other", "some", "only", "shall", "may", "might", "must",
		"would", "could", "also", "there", "here", "once",
		"i", "me", "my", "we", "our", "ours", "you", "your", "yours",
		"he", "him", "his", "she", "her", "hers", "they", "them",
		"their", "theirs", "its", "itself", "am", "until", "while",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

var _ Embedder = (*localEmbedder)(nil)
