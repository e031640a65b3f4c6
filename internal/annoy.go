package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mariotoffia/goannoy/builder"
	"github.com/mariotoffia/goannoy/interfaces"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

const (
	IndexFilename  = "index.ann"
	ChunksFilename = "chunks.json"

	// searchWiden compensates for threshold filtering and entry-level
	// deduplication downstream.
	searchWiden = 3

	indexTrees = 10
)

var _ VectorIndex = (*ChunkIndex)(nil)

// ChunkIndex is an approximate nearest-neighbor index over knowledge chunks.
// Vectors are embedded once at build time and owned exclusively by the
// index. Rebuilds construct a fresh Annoy index and swap it in under the
// write lock, so concurrent searches never observe partial state.
type ChunkIndex struct {
	mu       sync.RWMutex
	idx      interfaces.AnnoyIndex[float32, uint32]
	chunks   []TextChunk
	embedder Embedder
	basePath string
	built    bool
	logger   logrus.FieldLogger
	progress bool
}

func NewChunkIndex(basePath string, embedder Embedder, logger logrus.FieldLogger) (*ChunkIndex, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &ChunkIndex{
		embedder: embedder,
		basePath: basePath,
		logger:   logger,
	}, nil
}

// ShowProgress enables a terminal progress bar during builds.
func (c *ChunkIndex) ShowProgress(on bool) {
	c.progress = on
}

func (c *ChunkIndex) newAnnoy() interfaces.AnnoyIndex[float32, uint32] {
	return builder.Index[float32, uint32]().
		AngularDistance(c.embedder.Dimension()).
		UseMultiWorkerPolicy().
		MmapIndexAllocator().
		Build()
}

// BuildChunks embeds every chunk and replaces the index contents atomically.
func (c *ChunkIndex) BuildChunks(ctx context.Context, chunks []TextChunk) error {
	if len(chunks) == 0 {
		c.mu.Lock()
		c.idx = nil
		c.chunks = nil
		c.built = false
		c.mu.Unlock()
		c.logger.Warn("no chunks to index")
		return nil
	}

	var bar *progressbar.ProgressBar
	if c.progress {
		bar = progressbar.Default(int64(len(chunks)), "embedding chunks")
	}

	idx := c.newAnnoy()
	for i, chunk := range chunks {
		vec, err := c.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", i, err)
		}
		idx.AddItem(uint32(i), vec)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	idx.Build(indexTrees, -1)

	stored := make([]TextChunk, len(chunks))
	copy(stored, chunks)

	c.mu.Lock()
	c.idx = idx
	c.chunks = stored
	c.built = true
	c.mu.Unlock()

	c.logger.WithField("chunks", len(chunks)).Info("vector index built")
	return nil
}

// Search returns up to searchWiden*k threshold-filtered matches ranked by
// cosine similarity. Searching an unbuilt or empty index yields no results.
func (c *ChunkIndex) Search(ctx context.Context, query []float32, k int, threshold float32) ([]ChunkMatch, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.built || len(c.chunks) == 0 || k <= 0 {
		return nil, nil
	}

	if len(query) != c.embedder.Dimension() {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimMismatch, c.embedder.Dimension(), len(query))
	}

	kSearch := k * searchWiden
	if kSearch > len(c.chunks) {
		kSearch = len(c.chunks)
	}

	searchCtx := c.idx.CreateContext()
	ids, distances := c.idx.GetNnsByVector(query, kSearch, -1, searchCtx)

	results := make([]ChunkMatch, 0, len(ids))
	for i, id := range ids {
		if int(id) >= len(c.chunks) || i >= len(distances) {
			continue
		}

		score := angularToCosine(distances[i])
		if score < threshold {
			continue
		}

		results = append(results, ChunkMatch{
			Chunk: c.chunks[id],
			Score: score,
		})
	}

	return results, nil
}

// angularToCosine converts Annoy's angular distance d = sqrt(2 - 2*cos) back
// to cosine similarity in [-1, 1].
func angularToCosine(d float32) float32 {
	return 1 - (d*d)/2
}

func (c *ChunkIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks)
}

// Save persists the index artifact and its chunk mapping for reuse across
// restarts.
func (c *ChunkIndex) Save(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.built {
		return ErrIndexMissing
	}

	indexPath := filepath.Join(c.basePath, IndexFilename)
	if err := c.idx.Save(indexPath); err != nil {
		return fmt.Errorf("save index: %w", err)
	}

	data, err := json.Marshal(c.chunks)
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}

	chunksPath := filepath.Join(c.basePath, ChunksFilename)
	if err := os.WriteFile(chunksPath, data, 0644); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}

	return nil
}

// Load restores a previously saved index. A missing artifact is not an
// error; the index simply stays unbuilt.
func (c *ChunkIndex) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunksPath := filepath.Join(c.basePath, ChunksFilename)
	data, err := os.ReadFile(chunksPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read chunks: %w", err)
	}

	var chunks []TextChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return fmt.Errorf("unmarshal chunks: %w", err)
	}

	indexPath := filepath.Join(c.basePath, IndexFilename)
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		return nil
	}

	idx := c.newAnnoy()
	if err := idx.Load(indexPath); err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	c.idx = idx
	c.chunks = chunks
	c.built = true

	c.logger.WithField("chunks", len(chunks)).Info("vector index loaded from disk")
	return nil
}
