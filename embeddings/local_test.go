package embeddings

import (
	"context"
	"math"
	"testing"
)

func TestNewLocalEmbedderRejectsBadDimension(t *testing.T) {
	for _, dim := range []int{0, -5} {
		if _, err := NewLocalEmbedder(dim); err == nil {
			t.Fatalf("expected error for dimension %d", dim)
		}
	}
}

func TestLocalEmbedderDimension(t *testing.T) {
	embedder, err := NewLocalEmbedder(128)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder.Dimension() != 128 {
		t.Fatalf("expected dimension 128, got %d", embedder.Dimension())
	}

	vectors, err := embedder.Embed(context.Background(), []string{"hello world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != 128 {
		t.Fatalf("expected one 128-dim vector, got %d vectors", len(vectors))
	}
}

func TestLocalEmbedderDeterministic(t *testing.T) {
	embedder, err := NewLocalEmbedder(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := "The warranty period is 12 months from delivery."
	first, err := embedder.Embed(context.Background(), []string{text})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := embedder.Embed(context.Background(), []string{text})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range first[0] {
		if first[0][i] != second[0][i] {
			t.Fatalf("vectors differ at index %d", i)
		}
	}
}

func TestLocalEmbedderPreservesInputOrder(t *testing.T) {
	embedder, err := NewLocalEmbedder(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	texts := []string{"payment terms net thirty", "warranty covers defects", "delivery within two weeks"}
	batch, err := embedder.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(batch))
	}

	for i, text := range texts {
		single, err := embedder.Embed(context.Background(), []string{text})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for j := range single[0] {
			if batch[i][j] != single[0][j] {
				t.Fatalf("batch vector %d does not match standalone embedding", i)
			}
		}
	}
}

func TestLocalEmbedderUnitNorm(t *testing.T) {
	embedder, err := NewLocalEmbedder(96)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vectors, err := embedder.Embed(context.Background(), []string{"invoice totals are due on receipt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var norm float64
	for _, v := range vectors[0] {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %f", math.Sqrt(norm))
	}
}

const contractText = "This agreement is made between Northwind Supplies and the customer named on the " +
	"order form. Northwind Supplies agrees to deliver the goods listed on the order form to the " +
	"delivery address within fourteen days of payment. All goods remain the property of Northwind " +
	"Supplies until payment has been received in full. The warranty period is 12 months from the date " +
	"of delivery. During the warranty period Northwind Supplies will repair or replace any goods found " +
	"to be defective in materials or workmanship. The warranty does not cover damage caused by misuse, " +
	"neglect, or unauthorised modification of the goods. To make a warranty claim the customer must " +
	"return the goods together with proof of purchase to the address shown on the order form. Claims " +
	"are normally processed within ten working days. Payment is due within thirty days of the invoice " +
	"date. Late payments accrue interest at two percent per month. Either party may terminate this " +
	"agreement with thirty days written notice. Termination does not affect warranty claims made before " +
	"the termination date. This agreement is governed by the laws of England and Wales."

const museumText = "The museum opens at nine in the morning and closes at five in the afternoon. " +
	"Visitors can explore the dinosaur hall, the ancient Egypt gallery, and the hands-on science wing. " +
	"Guided tours leave from the main lobby every hour. Photography without flash is welcome in all " +
	"permanent galleries. The cafe on the second floor serves soup, sandwiches, and fresh pastries daily."

func cosineDist(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

// The gate's shipped threshold assumes this scale: questions about a
// document land well under it, questions sharing no content term with
// the corpus land at 1.0.
func TestLocalEmbedderSeparatesOnTopicFromOffTopic(t *testing.T) {
	embedder, err := NewLocalEmbedder(2048)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vectors, err := embedder.Embed(context.Background(), []string{
		contractText,
		museumText,
		"How long is the warranty?",
		"When is payment due for the invoice?",
		"What is the capital of France?",
		"Give me the best pasta recipe",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	contract, museum := vectors[0], vectors[1]
	warrantyQ, paymentQ, franceQ, pastaQ := vectors[2], vectors[3], vectors[4], vectors[5]

	for name, q := range map[string][]float32{"warranty": warrantyQ, "payment": paymentQ} {
		if d := cosineDist(q, contract); d >= 0.9 {
			t.Fatalf("on-topic %s query too far from contract: %f", name, d)
		}
	}
	for name, q := range map[string][]float32{"france": franceQ, "pasta": pastaQ} {
		if d := cosineDist(q, contract); d <= 0.97 {
			t.Fatalf("off-topic %s query too close to contract: %f", name, d)
		}
	}

	// Ranking: the chunk that shares the query's content terms must beat
	// an unrelated chunk.
	if cosineDist(warrantyQ, contract) >= cosineDist(warrantyQ, museum) {
		t.Fatal("unrelated chunk outranked the warranty chunk")
	}
}

func TestLocalEmbedderStopwordOnlyTextYieldsZeroVector(t *testing.T) {
	embedder, err := NewLocalEmbedder(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vectors, err := embedder.Embed(context.Background(), []string{"the and of to"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range vectors[0] {
		if v != 0 {
			t.Fatalf("expected zero vector, found %f at index %d", v, i)
		}
	}
}
