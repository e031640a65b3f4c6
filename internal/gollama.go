package internal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"unsafe"

	gollama "github.com/dianlight/gollama.cpp"
	"github.com/sirupsen/logrus"
)

var _ Embedder = (*LocalEmbedder)(nil)

// LocalEmbedder produces sentence embeddings from a local GGUF model.
// Access to the underlying llama context is serialized with a mutex.
type LocalEmbedder struct {
	mu        sync.Mutex
	model     gollama.LlamaModel
	ctx       gollama.LlamaContext
	dimension int
	device    Device
	modelPath string
}

// NewLocalEmbedder loads the primary embedding model. If loading fails and a
// fallback path is configured, the smaller fallback model is tried before
// giving up. Embeddings are a startup-time hard dependency, so both failing
// is fatal to the constructor.
func NewLocalEmbedder(modelPath, fallbackPath string, dimension int, logger logrus.FieldLogger) (*LocalEmbedder, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	emb, err := loadEmbedder(modelPath, dimension)
	if err == nil {
		logger.WithFields(logrus.Fields{
			"model":     modelPath,
			"dimension": emb.dimension,
			"device":    emb.device,
		}).Info("embedding model loaded")
		return emb, nil
	}

	if fallbackPath == "" || fallbackPath == modelPath {
		return nil, fmt.Errorf("load embedding model: %w", err)
	}

	logger.WithError(err).WithField("fallback", fallbackPath).
		Warn("primary embedding model failed, trying fallback")

	emb, ferr := loadEmbedder(fallbackPath, 0)
	if ferr != nil {
		return nil, fmt.Errorf("load embedding model (primary: %v): %w", err, ferr)
	}

	logger.WithFields(logrus.Fields{
		"model":     fallbackPath,
		"dimension": emb.dimension,
	}).Info("fallback embedding model loaded")

	return emb, nil
}

func loadEmbedder(modelPath string, dimension int) (*LocalEmbedder, error) {
	if err := gollama.Backend_init(); err != nil {
		return nil, fmt.Errorf("init backend: %w", err)
	}

	_ = gollama.Log_disable()

	var model gollama.LlamaModel
	var ctx gollama.LlamaContext
	success := false

	defer func() {
		if success {
			return
		}
		if ctx != 0 {
			gollama.Free(ctx)
		}
		if model != 0 {
			gollama.Model_free(model)
		}
		gollama.Backend_free()
	}()

	device := DetectHardware()

	modelParams := gollama.Model_default_params()
	switch device {
	case DeviceMPS, DeviceCUDA:
		modelParams.NGpuLayers = 99
	default:
		modelParams.NGpuLayers = 0
	}

	var err error
	model, err = gollama.Model_load_from_file(modelPath, modelParams)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	actualDim := int(gollama.Model_n_embd(model))
	if dimension > 0 && dimension != actualDim {
		return nil, fmt.Errorf("dimension mismatch: model has %d, requested %d", actualDim, dimension)
	}
	if dimension == 0 {
		dimension = actualDim
	}

	ctxParams := gollama.Context_default_params()
	ctxParams.Embeddings = 1
	ctxParams.NCtx = 512

	ctx, err = gollama.Init_from_model(model, ctxParams)
	if err != nil {
		return nil, fmt.Errorf("init context: %w", err)
	}

	gollama.Set_embeddings(ctx, true)
	success = true

	return &LocalEmbedder{
		model:     model,
		ctx:       ctx,
		dimension: dimension,
		device:    device,
		modelPath: modelPath,
	}, nil
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, err := gollama.Tokenize(e.model, text, true, false)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	if len(tokens) == 0 {
		return make([]float32, e.dimension), nil
	}

	gollama.Memory_clear(e.ctx, false)

	nTokens := int32(len(tokens))
	batch := gollama.Batch_init(nTokens, 0, 1)
	defer gollama.Batch_free(batch)

	tokenSlice := unsafe.Slice(batch.Token, nTokens)
	posSlice := unsafe.Slice(batch.Pos, nTokens)
	nSeqSlice := unsafe.Slice(batch.NSeqId, nTokens)
	seqIdSlice := unsafe.Slice(batch.SeqId, nTokens)
	logitsSlice := unsafe.Slice(batch.Logits, nTokens)

	for i := int32(0); i < nTokens; i++ {
		tokenSlice[i] = tokens[i]
		posSlice[i] = gollama.LlamaPos(i)
		nSeqSlice[i] = 1
		*seqIdSlice[i] = 0
		logitsSlice[i] = 1
	}
	batch.NTokens = nTokens

	if err := gollama.Decode(e.ctx, batch); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	// Pooled models (BERT-style with mean pooling) expose the sequence
	// embedding via Get_embeddings_seq.
	embPtr := gollama.Get_embeddings_seq(e.ctx, 0)
	if embPtr == nil {
		return nil, fmt.Errorf("no embeddings returned (model may not support pooling)")
	}

	embeddings := ptrToSlice(embPtr, e.dimension)
	return l2Normalize(embeddings), nil
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = emb
	}

	return results, nil
}

func (e *LocalEmbedder) Dimension() int {
	return e.dimension
}

func (e *LocalEmbedder) ModelName() string {
	return e.modelPath
}

func (e *LocalEmbedder) Device() string {
	return string(e.device)
}

func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	gollama.Free(e.ctx)
	gollama.Model_free(e.model)
	gollama.Backend_free()

	return nil
}

func ptrToSlice(ptr *float32, size int) []float32 {
	if ptr == nil {
		return nil
	}

	src := unsafe.Slice(ptr, size)
	dst := make([]float32, size)
	copy(dst, src)

	return dst
}

func l2Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}

	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}

	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}

	return result
}
