package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fabfab/docqa/config"
	"github.com/fabfab/docqa/embeddings"
	"github.com/fabfab/docqa/extract"
	"github.com/fabfab/docqa/index"
	"github.com/fabfab/docqa/state"
	"github.com/fabfab/docqa/storage"
)

// ValidationError rejects an upload before any processing happens:
// oversize file, duplicate name, document cap, unsupported format.
type ValidationError struct {
	Name   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("upload %q rejected: %s", e.Name, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ExtractionError marks a file that passed validation but whose content
// could not be turned into text.
type ExtractionError struct {
	Name string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %q: %v", e.Name, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Upload is one file handed to the pipeline. Type may be empty, in which
// case it is inferred from the filename extension.
type Upload struct {
	Name string
	Type string
	Data []byte
}

// UploadResult reports the outcome for a single file of a batch. Err is
// nil on success.
type UploadResult struct {
	Name     string
	Document state.Document
	Err      error
}

// Service drives an upload through validation, extraction, chunking,
// embedding, and indexing, then records metadata and keeps the raw bytes.
type Service struct {
	store    *state.Store
	indexer  index.Index
	embedder embeddings.Embedder
	backend  storage.Backend
	logger   *log.Logger

	maxFileBytes int64
	maxDocuments int
	chunkTokens  int
	chunkOverlap int
}

func NewService(store *state.Store, indexer index.Index, embedder embeddings.Embedder, backend storage.Backend, cfg config.Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:        store,
		indexer:      indexer,
		embedder:     embedder,
		backend:      backend,
		logger:       logger,
		maxFileBytes: cfg.Limits.MaxFileBytes,
		maxDocuments: cfg.Limits.MaxDocuments,
		chunkTokens:  cfg.ChunkTokens,
		chunkOverlap: cfg.ChunkOverlap,
	}
}

// IngestAll processes every upload independently; one file's failure does
// not abort the rest. Results are returned in input order.
func (s *Service) IngestAll(ctx context.Context, uploads []Upload) []UploadResult {
	results := make([]UploadResult, 0, len(uploads))
	for _, upload := range uploads {
		doc, err := s.Ingest(ctx, upload)
		if err != nil {
			s.logger.Printf("ingest %q failed: %v", upload.Name, err)
		}
		results = append(results, UploadResult{Name: upload.Name, Document: doc, Err: err})
	}
	return results
}

// Ingest runs the full pipeline for one file. On success the document is
// searchable; on any failure nothing of it remains indexed or recorded.
func (s *Service) Ingest(ctx context.Context, upload Upload) (state.Document, error) {
	name := strings.TrimSpace(upload.Name)
	if name == "" {
		return state.Document{}, &ValidationError{Name: name, Reason: "file name cannot be empty"}
	}
	if len(upload.Data) == 0 {
		return state.Document{}, &ValidationError{Name: name, Reason: "file is empty"}
	}
	if int64(len(upload.Data)) > s.maxFileBytes {
		return state.Document{}, &ValidationError{
			Name:   name,
			Reason: fmt.Sprintf("file exceeds the %d byte limit", s.maxFileBytes),
		}
	}

	// Cheap pre-checks before extraction and embedding; the store remains
	// the authority at AddDocument, where a race loses and rolls back.
	existing := s.store.ListDocuments()
	if len(existing) >= s.maxDocuments {
		return state.Document{}, &ValidationError{
			Name:   name,
			Reason: fmt.Sprintf("maximum of %d documents reached", s.maxDocuments),
			Err:    state.ErrTooManyDocuments,
		}
	}
	for _, doc := range existing {
		if doc.OriginalName == name {
			return state.Document{}, &ValidationError{
				Name:   name,
				Reason: "a document with this name already exists",
				Err:    state.ErrDuplicateName,
			}
		}
	}

	typ, err := s.resolveType(name, upload.Type)
	if err != nil {
		return state.Document{}, err
	}

	text, err := extract.Extract(upload.Data, typ)
	if err != nil {
		return state.Document{}, &ExtractionError{Name: name, Err: err}
	}

	fragments, err := ChunkText(text, s.chunkTokens, s.chunkOverlap)
	if err != nil {
		return state.Document{}, fmt.Errorf("chunk %q: %w", name, err)
	}
	if len(fragments) == 0 {
		return state.Document{}, &ExtractionError{Name: name, Err: errors.New("no extractable text")}
	}

	texts := make([]string, len(fragments))
	for i, fragment := range fragments {
		texts[i] = fragment.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return state.Document{}, fmt.Errorf("embed %q: %w", name, err)
	}
	if len(vectors) != len(fragments) {
		return state.Document{}, fmt.Errorf("embed %q: got %d vectors for %d chunks", name, len(vectors), len(fragments))
	}

	documentID := uuid.New().String()
	chunks := make([]index.Chunk, len(fragments))
	for i, fragment := range fragments {
		chunks[i] = index.Chunk{
			DocumentID: documentID,
			Seq:        fragment.Seq,
			Text:       fragment.Text,
			Start:      fragment.Start,
			End:        fragment.End,
			Vector:     vectors[i],
		}
	}

	if err := s.indexer.Insert(ctx, documentID, chunks); err != nil {
		return state.Document{}, fmt.Errorf("index %q: %w", name, err)
	}

	doc := state.Document{
		ID:           documentID,
		OriginalName: name,
		SourceType:   string(typ),
		ByteSize:     int64(len(upload.Data)),
		UploadedAt:   time.Now().UTC(),
		ChunkCount:   len(chunks),
	}
	if err := s.store.AddDocument(doc); err != nil {
		// Roll the chunks back so a rejected document leaves no vectors
		// behind.
		if removeErr := s.indexer.Remove(ctx, documentID); removeErr != nil {
			s.logger.Printf("rollback of %q after rejected metadata failed: %v", name, removeErr)
		}
		if errors.Is(err, state.ErrTooManyDocuments) || errors.Is(err, state.ErrDuplicateName) {
			return state.Document{}, &ValidationError{Name: name, Reason: err.Error(), Err: err}
		}
		return state.Document{}, fmt.Errorf("record %q: %w", name, err)
	}

	// The raw upload is kept for re-ingestion; losing it does not affect
	// the already-indexed document.
	if err := s.backend.WriteBytes(rawPath(doc), upload.Data); err != nil {
		s.logger.Printf("keep raw upload %q: %v", name, err)
	}

	return doc, nil
}

// Remove deletes a document end to end: vectors, metadata, raw bytes.
// Removing an unknown id is not an error.
func (s *Service) Remove(ctx context.Context, documentID string) (state.Document, bool, error) {
	if err := s.indexer.Remove(ctx, documentID); err != nil {
		return state.Document{}, false, fmt.Errorf("remove chunks for %s: %w", documentID, err)
	}

	doc, found, err := s.store.RemoveDocument(documentID)
	if err != nil {
		return state.Document{}, false, fmt.Errorf("remove metadata for %s: %w", documentID, err)
	}
	if !found {
		return state.Document{}, false, nil
	}

	if err := s.backend.Remove(rawPath(doc)); err != nil {
		s.logger.Printf("remove raw upload for %s: %v", documentID, err)
	}
	return doc, true, nil
}

func (s *Service) resolveType(name, declared string) (extract.SourceType, error) {
	if strings.TrimSpace(declared) != "" {
		typ, err := extract.ParseType(declared)
		if err != nil {
			return extract.TypeUnknown, &ValidationError{Name: name, Reason: err.Error(), Err: err}
		}
		return typ, nil
	}
	typ := extract.DetectType(name)
	if typ == extract.TypeUnknown {
		return extract.TypeUnknown, &ValidationError{
			Name:   name,
			Reason: "unsupported file type (want pdf, docx, or txt)",
			Err:    extract.ErrUnsupportedFormat,
		}
	}
	return typ, nil
}

func rawPath(doc state.Document) string {
	return path.Join("uploads", doc.ID+"_"+doc.OriginalName)
}
