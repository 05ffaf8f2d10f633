package answer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fabfab/docqa/config"
	"github.com/fabfab/docqa/embeddings"
	"github.com/fabfab/docqa/index"
	"github.com/fabfab/docqa/llm"
	"github.com/fabfab/docqa/state"
)

// Fixed, non-generated refusal strings. The off-topic and unavailable
// cases are deliberately distinct so users can tell "not about your
// documents" apart from "the model is down".
const (
	RefusalOffTopic    = "I can only answer questions about the uploaded documents."
	RefusalNoDocuments = "Please upload at least one document before asking questions."
	RefusalUnavailable = "The language model is currently unavailable. Please try again in a moment."
	RefusalInternal    = "Something went wrong while answering. Please try again."
)

// Source identifies a retrieved chunk backing an answer.
type Source struct {
	ChunkID    string
	DocumentID string
	Distance   float64
	Snippet    string
}

// Result is the outcome of one query. Exactly one of Answer and Refusal
// is set; both outcomes are recorded as a conversation turn.
type Result struct {
	Answer  string
	Refusal string
	Sources []Source
}

func (r Result) Refused() bool { return r.Refusal != "" }

// Service runs each query through a fixed pass: embed, retrieve, gate,
// then either refuse or generate, and always record. It keeps no mutable
// state of its own between queries.
type Service struct {
	index    index.Index
	embedder embeddings.Embedder
	llm      llm.Client
	store    *state.Store
	gate     Gate
	logger   *log.Logger

	topK            int
	contextBudget   int
	answerMaxTokens int
	llmTimeout      time.Duration
	generalChat     bool
}

func NewService(idx index.Index, embedder embeddings.Embedder, llmClient llm.Client, store *state.Store, cfg config.Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		index:           idx,
		embedder:        embedder,
		llm:             llmClient,
		store:           store,
		gate:            Gate{Threshold: cfg.Retrieval.RelevanceThreshold},
		logger:          logger,
		topK:            cfg.Retrieval.TopK,
		contextBudget:   cfg.Retrieval.ContextTokenBudget,
		answerMaxTokens: cfg.Retrieval.AnswerMaxTokens,
		llmTimeout:      cfg.LLM.Timeout,
		generalChat:     cfg.Retrieval.GeneralChat,
	}
}

// Ask answers question for the given session. Failures local to this
// query produce a refusal result, not an error; the turn is recorded
// either way.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, fmt.Errorf("question cannot be empty")
	}
	if s.embedder == nil || s.index == nil || s.llm == nil {
		return Result{}, fmt.Errorf("answer service is not fully configured")
	}

	chunkCount, err := s.index.Count(ctx)
	if err != nil {
		s.logger.Printf("index count failed: %v", err)
		return s.refuse(sessionID, question, nil, RefusalInternal), nil
	}

	// No-document mode: with an empty index the gate is bypassed and the
	// model answers free-form, unless general chat is disabled.
	if chunkCount == 0 {
		if !s.generalChat {
			return s.refuse(sessionID, question, nil, RefusalNoDocuments), nil
		}
		return s.generate(ctx, sessionID, question, nil, generalSystemPrompt()), nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil || len(vectors) == 0 {
		s.logger.Printf("embed question failed: %v", err)
		return s.refuse(sessionID, question, nil, RefusalInternal), nil
	}

	hits, err := s.index.Search(ctx, vectors[0], s.topK)
	if err != nil {
		s.logger.Printf("vector search failed: %v", err)
		return s.refuse(sessionID, question, nil, RefusalInternal), nil
	}

	distances := make([]float64, len(hits))
	for i, hit := range hits {
		distances[i] = hit.Distance
	}

	if !s.gate.Relevant(distances) {
		return s.refuse(sessionID, question, hits, RefusalOffTopic), nil
	}

	selected := selectContext(hits, s.contextBudget)
	return s.generate(ctx, sessionID, question, selected, systemPrompt()), nil
}

func (s *Service) generate(ctx context.Context, sessionID, question string, hits []index.Hit, system string) Result {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: formatUserPrompt(question, hits)},
	}

	genCtx := ctx
	if s.llmTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.llmTimeout)
		defer cancel()
	}

	generated, err := s.llm.Generate(genCtx, messages, s.answerMaxTokens)
	if err != nil {
		s.logger.Printf("llm generate failed: %v", err)
		reason := RefusalInternal
		if errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrTimeout) || errors.Is(err, llm.ErrService) {
			reason = RefusalUnavailable
		}
		return s.refuse(sessionID, question, hits, reason)
	}

	result := Result{
		Answer:  strings.TrimSpace(generated),
		Sources: toSources(hits),
	}
	s.record(state.Turn{
		SessionID:         sessionID,
		Query:             question,
		Answer:            result.Answer,
		RetrievedChunkIDs: chunkIDs(hits),
	})
	return result
}

func (s *Service) refuse(sessionID, question string, hits []index.Hit, reason string) Result {
	s.record(state.Turn{
		SessionID:         sessionID,
		Query:             question,
		RefusalReason:     reason,
		RetrievedChunkIDs: chunkIDs(hits),
	})
	return Result{Refusal: reason, Sources: toSources(hits)}
}

func (s *Service) record(turn state.Turn) {
	if s.store == nil {
		return
	}
	turn.Timestamp = time.Now().UTC()
	if err := s.store.RecordConversation(turn); err != nil {
		s.logger.Printf("record conversation failed: %v", err)
	}
}

func chunkIDs(hits []index.Hit) []string {
	if len(hits) == 0 {
		return nil
	}
	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ChunkID
	}
	return ids
}

func toSources(hits []index.Hit) []Source {
	if len(hits) == 0 {
		return nil
	}
	sources := make([]Source, len(hits))
	for i, hit := range hits {
		snippet := strings.TrimSpace(hit.Text)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		sources[i] = Source{
			ChunkID:    hit.ChunkID,
			DocumentID: hit.DocumentID,
			Distance:   hit.Distance,
			Snippet:    snippet,
		}
	}
	return sources
}
