package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeProvider struct {
	calls   [][]string
	failAt  int // fail on the Nth call (1-based), 0 means never
	counter int
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeProvider) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	f.counter++
	f.calls = append(f.calls, texts)
	if f.failAt != 0 && f.counter == f.failAt {
		return nil, errors.New("provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestEmbedBatchesInOrder(t *testing.T) {
	fp := &fakeProvider{}
	g := New(fp, 3)

	texts := make([]string, 7)
	for i := range texts {
		texts[i] = fmt.Sprintf("%0*d", i+1, 0) // lengths 1..7
	}
	vectors, err := g.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vector %d out of order: got %v for text of len %d", i, v, len(texts[i]))
		}
	}
	if len(fp.calls) != 3 {
		t.Errorf("got %d batches, want 3", len(fp.calls))
	}
	if len(fp.calls[2]) != 1 {
		t.Errorf("last batch size %d, want 1", len(fp.calls[2]))
	}
}

func TestEmbedFailureAborts(t *testing.T) {
	fp := &fakeProvider{failAt: 2}
	g := New(fp, 2)

	vectors, err := g.Embed(context.Background(), []string{"a", "b", "c", "d"})
	if err == nil {
		t.Fatal("expected error from failing batch")
	}
	if vectors != nil {
		t.Errorf("partial vectors returned after failure: %v", vectors)
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	fp := &fakeProvider{}
	g := New(fp, 2)

	vectors, err := g.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
	if len(fp.calls) != 0 {
		t.Errorf("provider called for empty input")
	}
}
