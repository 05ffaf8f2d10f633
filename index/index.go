// Package index persists chunk vectors and answers nearest-neighbour
// queries by cosine distance.
package index

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/fabfab/docqa/config"
	"github.com/fabfab/docqa/storage"
)

// Chunk is one embedded passage of a document.
type Chunk struct {
	DocumentID string    `json:"document_id"`
	Seq        int       `json:"seq"`
	Text       string    `json:"text"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Vector     []float32 `json:"vector"`
}

// Hit is a search result. Distance is cosine distance in [0,2];
// smaller is more relevant.
type Hit struct {
	ChunkID    string
	DocumentID string
	Seq        int
	Text       string
	Distance   float64
}

// Index stores chunk records keyed by (document id, seq). One document's
// insert is atomic: a concurrent search sees all of its chunks or none.
type Index interface {
	Insert(ctx context.Context, documentID string, chunks []Chunk) error
	// Search returns up to k hits ordered by ascending distance. An
	// empty index yields an empty slice, not an error.
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Remove(ctx context.Context, documentID string) error
	Count(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

// New builds the configured index backend.
func New(ctx context.Context, cfg config.Config, backend storage.Backend, logger *log.Logger) (Index, error) {
	switch cfg.IndexProvider {
	case config.IndexMemory:
		return NewMemoryIndex(backend, logger)
	case config.IndexPostgres:
		return NewPostgresIndex(ctx, cfg.PostgresDSN, cfg.Embeddings.Dimension)
	case config.IndexQdrant:
		return NewQdrantIndex(ctx, cfg.QdrantAddr, cfg.QdrantCollection, cfg.Embeddings.Dimension)
	default:
		return nil, fmt.Errorf("unknown index provider: %s", cfg.IndexProvider)
	}
}

// ChunkID renders the canonical chunk identifier.
func ChunkID(documentID string, seq int) string {
	return fmt.Sprintf("%s:%d", documentID, seq)
}

// sortHits enforces the deterministic result order regardless of backend:
// ascending distance, ties broken by lower seq, then lower document id.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		if hits[i].Seq != hits[j].Seq {
			return hits[i].Seq < hits[j].Seq
		}
		return hits[i].DocumentID < hits[j].DocumentID
	})
}
