package index

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex keeps chunks in a cosine-distance Qdrant collection.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantIndex(ctx context.Context, addr, collection string, dimension int) (*QdrantIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant port %q: %w", portStr, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	idx := &QdrantIndex{client: client, collection: collection}
	if err := idx.ensureCollection(ctx, dimension); err != nil {
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dimension int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", q.collection, err)
	}
	if exists {
		return nil
	}

	if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}
	return nil
}

func (q *QdrantIndex) Insert(ctx context.Context, documentID string, chunks []Chunk) error {
	if documentID == "" {
		return fmt.Errorf("document id must not be empty")
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(ChunkID(documentID, chunk.Seq)))
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID.String()),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": documentID,
				"seq":         chunk.Seq,
				"text":        chunk.Text,
				"span_start":  chunk.Start,
				"span_end":    chunk.End,
			}),
		}
	}

	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
		Wait:           &wait,
	}); err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		k = 5
	}

	limit := uint64(k)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, point := range scored {
		payload := point.GetPayload()
		hit := Hit{
			DocumentID: payload["document_id"].GetStringValue(),
			Seq:        int(payload["seq"].GetIntegerValue()),
			Text:       payload["text"].GetStringValue(),
			// Qdrant reports cosine similarity; convert to distance.
			Distance: 1 - float64(point.GetScore()),
		}
		hit.ChunkID = ChunkID(hit.DocumentID, hit.Seq)
		hits = append(hits, hit)
	}

	sortHits(hits)
	return hits, nil
}

func (q *QdrantIndex) Remove(ctx context.Context, documentID string) error {
	if _, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("document_id", documentID),
					},
				},
			},
		},
	}); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	exact := true
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return int(count), nil
}

func (q *QdrantIndex) Close(context.Context) error {
	return q.client.Close()
}

var _ Index = (*QdrantIndex)(nil)
