package internal

import "context"

// ChunkMatch is one index hit: a derived chunk and its cosine similarity to
// the query vector.
type ChunkMatch struct {
	Chunk TextChunk
	Score float32
}

// VectorIndex stores chunk embeddings and answers nearest-neighbor queries.
// Implementations own their vectors exclusively; chunks are re-embedded and
// the index swapped atomically whenever the knowledge base reloads.
type VectorIndex interface {
	// BuildChunks embeds every chunk and replaces the index contents.
	BuildChunks(ctx context.Context, chunks []TextChunk) error
	// Search returns threshold-filtered candidates ranked by similarity.
	// It widens the raw lookup to 3*k neighbors so post-filtering and
	// entry-level deduplication still leave k usable results. An empty or
	// unbuilt index returns no results and no error.
	Search(ctx context.Context, query []float32, k int, threshold float32) ([]ChunkMatch, error)
	Len() int
	Save(ctx context.Context) error
	Load(ctx context.Context) error
}

// RetrievalResult is a deduplicated, entry-level retrieval hit surfaced to
// callers alongside the generated response.
type RetrievalResult struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Category   string  `json:"category"`
	Severity   string  `json:"severity"`
	Similarity float32 `json:"similarity"`
	Source     string  `json:"source"`
}
