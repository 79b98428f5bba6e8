package embedding

import "context"

// Embedder converts text into fixed-dimension vectors. Implementations
// talk to an external embedding capability and may batch internally.
type Embedder interface {
	// EmbedBatch returns one vector per input text, in input order.
	// The whole batch fails together; no partial results are exposed.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the fixed vector dimensionality D of the model.
	Dimensions() int
}
