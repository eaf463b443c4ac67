package embedding

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/knowbase/provider"
)

// Gateway batches embedding requests so large documents do not hit the
// provider with one oversized call.
type Gateway struct {
	provider  provider.Provider
	batchSize int
	logger    *log.Logger
}

func New(p provider.Provider, batchSize int) *Gateway {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Gateway{
		provider:  p,
		batchSize: batchSize,
		logger:    log.New(log.Writer(), "[EMBED] ", log.LstdFlags),
	}
}

// Embed returns one vector per input text, in input order. Any batch
// failure aborts the whole call: partial embeddings are never returned.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := g.provider.CreateEmbedding(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding batch %d-%d: got %d vectors for %d texts", start, end, len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	g.logger.Printf("embedded %d texts in %d batches", len(texts), (len(texts)+g.batchSize-1)/g.batchSize)
	return vectors, nil
}
