package provider

import "context"

// Provider is the opaque generation and embedding capability consumed by
// the engine. Implementations must be safe for concurrent use.
type Provider interface {
	// Generate produces completion text for a prompt. An empty result is
	// treated by callers as "no answer".
	Generate(ctx context.Context, prompt string) (string, error)

	// CreateEmbedding converts texts into fixed-length vectors,
	// one vector per input, in input order.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}
