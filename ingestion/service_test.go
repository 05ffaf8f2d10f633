package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/fabfab/docqa/config"
	"github.com/fabfab/docqa/embeddings"
	"github.com/fabfab/docqa/index"
	"github.com/fabfab/docqa/state"
	"github.com/fabfab/docqa/storage"
)

type fixture struct {
	svc     *Service
	store   *state.Store
	index   *index.MemoryIndex
	backend *storage.LocalBackend
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	backend, err := storage.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("backend: %v", err)
	}

	cfg := config.Load()
	cfg.ChunkTokens = 50
	cfg.ChunkOverlap = 10
	if mutate != nil {
		mutate(&cfg)
	}

	logger := log.New(io.Discard, "", 0)
	store := state.NewStore(backend, cfg.Limits.MaxDocuments, logger)
	if err := store.Load(); err != nil {
		t.Fatalf("load store: %v", err)
	}

	idx, err := index.NewMemoryIndex(backend, logger)
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	embedder, err := embeddings.NewLocalEmbedder(32)
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}

	return &fixture{
		svc:     NewService(store, idx, embedder, backend, cfg, logger),
		store:   store,
		index:   idx,
		backend: backend,
	}
}

func sampleText(words int) []byte {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = fmt.Sprintf("clause%d", i)
	}
	return []byte(strings.Join(parts, " "))
}

func TestIngestTxtDocument(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	doc, err := f.svc.Ingest(ctx, Upload{Name: "contract.txt", Data: sampleText(200)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if doc.ID == "" {
		t.Fatal("expected a generated document id")
	}
	if doc.SourceType != "txt" {
		t.Fatalf("expected txt source type, got %q", doc.SourceType)
	}
	// 200 tokens, window 50, step 40: starts at 0, 40, 80, 120, 160.
	if doc.ChunkCount != 5 {
		t.Fatalf("expected 5 chunks, got %d", doc.ChunkCount)
	}

	count, err := f.index.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != doc.ChunkCount {
		t.Fatalf("index holds %d chunks, metadata says %d", count, doc.ChunkCount)
	}

	if docs := f.store.ListDocuments(); len(docs) != 1 {
		t.Fatalf("expected 1 recorded document, got %d", len(docs))
	}

	// Raw bytes are kept for re-ingestion.
	raw, err := f.backend.ReadBytes("uploads/" + doc.ID + "_contract.txt")
	if err != nil {
		t.Fatalf("read raw upload: %v", err)
	}
	if len(raw) != int(doc.ByteSize) {
		t.Fatalf("raw upload size %d, metadata says %d", len(raw), doc.ByteSize)
	}
}

func TestIngestRejectsOversizeFile(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Limits.MaxFileBytes = 100
	})

	_, err := f.svc.Ingest(context.Background(), Upload{Name: "big.txt", Data: sampleText(500)})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(f.store.ListDocuments()) != 0 {
		t.Fatal("rejected upload must not be recorded")
	}
}

func TestIngestRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Ingest(context.Background(), Upload{Name: "notes.md", Data: []byte("# markdown")})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestIngestEnforcesDocumentCap(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Limits.MaxDocuments = 5
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("doc%d.txt", i)
		if _, err := f.svc.Ingest(ctx, Upload{Name: name, Data: sampleText(60)}); err != nil {
			t.Fatalf("ingest %s: %v", name, err)
		}
	}

	_, err := f.svc.Ingest(ctx, Upload{Name: "doc5.txt", Data: sampleText(60)})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for sixth document, got %v", err)
	}
	if !errors.Is(err, state.ErrTooManyDocuments) {
		t.Fatalf("expected ErrTooManyDocuments in chain, got %v", err)
	}

	if len(f.store.ListDocuments()) != 5 {
		t.Fatalf("document count changed after rejected upload: %d", len(f.store.ListDocuments()))
	}

	// Nothing of the rejected document was indexed: 5 docs, 2 chunks each
	// (60 tokens, window 50, step 40).
	count, err := f.index.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 10 {
		t.Fatalf("expected 10 indexed chunks after rollback, got %d", count)
	}
}

func TestIngestRejectsDuplicateName(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.Ingest(ctx, Upload{Name: "contract.txt", Data: sampleText(60)}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	_, err := f.svc.Ingest(ctx, Upload{Name: "contract.txt", Data: sampleText(80)})
	if !errors.Is(err, state.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}

	count, countErr := f.index.Count(ctx)
	if countErr != nil {
		t.Fatalf("count: %v", countErr)
	}
	if count != 2 {
		t.Fatalf("duplicate must leave no chunks behind, index holds %d", count)
	}
}

func TestIngestAllIsolatesFailures(t *testing.T) {
	f := newFixture(t, nil)

	uploads := []Upload{
		{Name: "good1.txt", Data: sampleText(60)},
		{Name: "broken.docx", Data: []byte("not a zip archive")},
		{Name: "good2.txt", Data: sampleText(60)},
	}

	results := f.svc.IngestAll(context.Background(), uploads)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("good uploads failed: %v / %v", results[0].Err, results[2].Err)
	}

	var eErr *ExtractionError
	if !errors.As(results[1].Err, &eErr) {
		t.Fatalf("expected ExtractionError for broken docx, got %v", results[1].Err)
	}

	if len(f.store.ListDocuments()) != 2 {
		t.Fatalf("expected 2 recorded documents, got %d", len(f.store.ListDocuments()))
	}
}

func TestRemoveDeletesEverything(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	doc, err := f.svc.Ingest(ctx, Upload{Name: "contract.txt", Data: sampleText(60)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	removed, found, err := f.svc.Remove(ctx, doc.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !found || removed.ID != doc.ID {
		t.Fatalf("unexpected removal result: %v %v", removed, found)
	}

	count, err := f.index.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("chunks survived removal: %d", count)
	}
	if len(f.store.ListDocuments()) != 0 {
		t.Fatal("metadata survived removal")
	}
	if _, err := f.backend.ReadBytes("uploads/" + doc.ID + "_contract.txt"); err == nil {
		t.Fatal("raw upload survived removal")
	}

	if _, found, err := f.svc.Remove(ctx, "unknown-id"); err != nil || found {
		t.Fatalf("removing unknown id: found=%v err=%v", found, err)
	}
}
