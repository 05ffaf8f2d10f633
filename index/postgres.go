package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresIndex keeps chunks in a pgvector-backed table. Restarts reload
// nothing: the rows and their embeddings are already durable.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

func NewPostgresIndex(ctx context.Context, dsn string, dimension int) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	idx := &PostgresIndex{pool: pool}
	if err := idx.ensureSchema(ctx, dimension); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (p *PostgresIndex) ensureSchema(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS doc_chunks (
			document_id TEXT NOT NULL,
			seq INT NOT NULL,
			content TEXT NOT NULL,
			span_start INT NOT NULL,
			span_end INT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (document_id, seq)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_doc_chunks_document ON doc_chunks(document_id)",
	}

	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

func (p *PostgresIndex) Insert(ctx context.Context, documentID string, chunks []Chunk) (err error) {
	if documentID == "" {
		return fmt.Errorf("document id must not be empty")
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, chunk := range chunks {
		vec := pgvector.NewVector(chunk.Vector)
		if _, err = tx.Exec(ctx, `
			INSERT INTO doc_chunks (document_id, seq, content, span_start, span_end, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, documentID, chunk.Seq, chunk.Text, chunk.Start, chunk.End, vec); err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.Seq, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *PostgresIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		k = 5
	}

	rows, err := p.pool.Query(ctx, `
		SELECT document_id, seq, content, (embedding <=> $1::vector) AS distance
		FROM doc_chunks
		ORDER BY embedding <=> $1::vector, seq, document_id
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, k)
	for rows.Next() {
		var hit Hit
		if scanErr := rows.Scan(&hit.DocumentID, &hit.Seq, &hit.Text, &hit.Distance); scanErr != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", scanErr)
		}
		hit.ChunkID = ChunkID(hit.DocumentID, hit.Seq)
		hits = append(hits, hit)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	sortHits(hits)
	return hits, nil
}

func (p *PostgresIndex) Remove(ctx context.Context, documentID string) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM doc_chunks WHERE document_id = $1", documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (p *PostgresIndex) Count(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM doc_chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

func (p *PostgresIndex) Close(context.Context) error {
	p.pool.Close()
	return nil
}

var _ Index = (*PostgresIndex)(nil)
