package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"sync"

	"github.com/fabfab/docqa/storage"
)

const snapshotPath = "index/chunks.json"

// MemoryIndex is a brute-force cosine index over the full chunk set. The
// corpus is capped at a handful of documents, so a linear scan beats any
// ANN structure. Every successful insert or remove is snapshotted as JSON
// through the storage backend, and the snapshot is reloaded on restart so
// chunks are never re-embedded.
type MemoryIndex struct {
	mu      sync.RWMutex
	chunks  []Chunk
	norms   []float64
	backend storage.Backend
	logger  *log.Logger
}

func NewMemoryIndex(backend storage.Backend, logger *log.Logger) (*MemoryIndex, error) {
	if logger == nil {
		logger = log.Default()
	}

	idx := &MemoryIndex{backend: backend, logger: logger}
	if backend != nil {
		if err := idx.load(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (m *MemoryIndex) load() error {
	data, err := m.backend.ReadBytes(snapshotPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load index snapshot: %w", err)
	}

	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		// A corrupt snapshot means re-ingestion, not a dead process.
		m.logger.Printf("index snapshot unreadable, starting empty: %v", err)
		return nil
	}

	m.chunks = chunks
	m.norms = make([]float64, len(chunks))
	for i := range chunks {
		m.norms[i] = vectorNorm(chunks[i].Vector)
	}
	m.logger.Printf("index snapshot loaded: %d chunks", len(chunks))
	return nil
}

func (m *MemoryIndex) Insert(_ context.Context, documentID string, chunks []Chunk) error {
	if documentID == "" {
		return fmt.Errorf("document id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dimension := -1
	if len(m.chunks) > 0 {
		dimension = len(m.chunks[0].Vector)
	}

	seen := make(map[int]struct{}, len(chunks))
	for _, chunk := range chunks {
		if chunk.DocumentID != documentID {
			return fmt.Errorf("chunk %s does not belong to document %s", ChunkID(chunk.DocumentID, chunk.Seq), documentID)
		}
		if _, dup := seen[chunk.Seq]; dup {
			return fmt.Errorf("duplicate chunk seq %d for document %s", chunk.Seq, documentID)
		}
		seen[chunk.Seq] = struct{}{}
		if len(chunk.Vector) == 0 {
			return fmt.Errorf("chunk %s has an empty vector", ChunkID(documentID, chunk.Seq))
		}
		if dimension == -1 {
			dimension = len(chunk.Vector)
		}
		if len(chunk.Vector) != dimension {
			return fmt.Errorf("chunk %s dimension %d does not match index dimension %d",
				ChunkID(documentID, chunk.Seq), len(chunk.Vector), dimension)
		}
	}
	for _, existing := range m.chunks {
		if existing.DocumentID == documentID {
			return fmt.Errorf("document %s already indexed", documentID)
		}
	}

	next := make([]Chunk, 0, len(m.chunks)+len(chunks))
	next = append(next, m.chunks...)
	next = append(next, chunks...)

	if err := m.persist(next); err != nil {
		return err
	}

	m.chunks = next
	m.norms = appendNorms(m.norms, chunks)
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	queryNorm := vectorNorm(vector)
	hits := make([]Hit, 0, len(m.chunks))
	for i := range m.chunks {
		chunk := &m.chunks[i]
		if len(chunk.Vector) != len(vector) {
			return nil, fmt.Errorf("query dimension %d does not match indexed dimension %d",
				len(vector), len(chunk.Vector))
		}
		hits = append(hits, Hit{
			ChunkID:    ChunkID(chunk.DocumentID, chunk.Seq),
			DocumentID: chunk.DocumentID,
			Seq:        chunk.Seq,
			Text:       chunk.Text,
			Distance:   cosineDistance(vector, chunk.Vector, queryNorm, m.norms[i]),
		})
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryIndex) Remove(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]Chunk, 0, len(m.chunks))
	for _, chunk := range m.chunks {
		if chunk.DocumentID != documentID {
			next = append(next, chunk)
		}
	}
	if len(next) == len(m.chunks) {
		return nil
	}

	if err := m.persist(next); err != nil {
		return err
	}

	m.chunks = next
	m.norms = m.norms[:0]
	for i := range next {
		m.norms = append(m.norms, vectorNorm(next[i].Vector))
	}
	return nil
}

func (m *MemoryIndex) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

func (m *MemoryIndex) Close(context.Context) error { return nil }

func (m *MemoryIndex) persist(chunks []Chunk) error {
	if m.backend == nil {
		return nil
	}
	data, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("marshal index snapshot: %w", err)
	}
	if err := m.backend.WriteBytes(snapshotPath, data); err != nil {
		return fmt.Errorf("persist index snapshot: %w", err)
	}
	return nil
}

func appendNorms(norms []float64, chunks []Chunk) []float64 {
	for i := range chunks {
		norms = append(norms, vectorNorm(chunks[i].Vector))
	}
	return norms
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// cosineDistance returns 1 - cos(a, b), clamped to [0,2]. Zero vectors
// are treated as maximally distant. Callers validate that a and b have
// the same length.
func cosineDistance(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 2
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	distance := 1 - dot/(normA*normB)
	if distance < 0 {
		return 0
	}
	if distance > 2 {
		return 2
	}
	return distance
}

var _ Index = (*MemoryIndex)(nil)
