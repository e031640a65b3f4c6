package internal

import (
	"context"
	"fmt"
	"strings"
	"unsafe"

	gollama "github.com/dianlight/gollama.cpp"
)

// llama.cpp's LLAMA_DEFAULT_SEED.
const defaultSeed = 0xFFFFFFFF

// penaltyWindow is the trailing token window the repeat penalty considers.
const penaltyWindow = 64

type gollamaRuntime struct {
	model gollama.LlamaModel
	lctx  gollama.LlamaContext
}

var _ llamaRuntime = (*gollamaRuntime)(nil)

func loadGollamaRuntime(modelPath string, cfg ModelConfig) (llamaRuntime, error) {
	if err := gollama.Backend_init(); err != nil {
		return nil, fmt.Errorf("init backend: %w", err)
	}

	_ = gollama.Log_disable()

	modelParams := gollama.Model_default_params()
	modelParams.NGpuLayers = int32(cfg.GPULayers)
	if cfg.UseMmap {
		modelParams.UseMmap = 1
	} else {
		modelParams.UseMmap = 0
	}

	model, err := gollama.Model_load_from_file(modelPath, modelParams)
	if err != nil {
		gollama.Backend_free()
		return nil, fmt.Errorf("load model: %w", err)
	}

	ctxParams := gollama.Context_default_params()
	ctxParams.NCtx = uint32(cfg.ContextSize)
	ctxParams.NBatch = uint32(cfg.BatchSize)
	ctxParams.NThreads = int32(cfg.Threads)
	ctxParams.NThreadsBatch = int32(cfg.Threads)
	if cfg.OffloadKQV {
		ctxParams.OffloadKqv = 1
	} else {
		ctxParams.OffloadKqv = 0
	}

	lctx, err := gollama.Init_from_model(model, ctxParams)
	if err != nil {
		gollama.Model_free(model)
		gollama.Backend_free()
		return nil, fmt.Errorf("init context: %w", err)
	}

	return &gollamaRuntime{model: model, lctx: lctx}, nil
}

func (r *gollamaRuntime) generate(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	tokens, err := gollama.Tokenize(r.model, prompt, true, true)
	if err != nil {
		return "", fmt.Errorf("tokenize: %w", err)
	}
	if len(tokens) == 0 {
		return "", fmt.Errorf("empty prompt after tokenization")
	}

	gollama.Memory_clear(r.lctx, true)

	if err := r.decodePrompt(tokens); err != nil {
		return "", err
	}

	chain := gollama.Sampler_chain_init(gollama.Sampler_chain_default_params())
	defer gollama.Sampler_free(chain)

	gollama.Sampler_chain_add(chain, gollama.Sampler_init_penalties(penaltyWindow, params.RepeatPenalty, 0, 0))
	gollama.Sampler_chain_add(chain, gollama.Sampler_init_top_k(int32(params.TopK)))
	gollama.Sampler_chain_add(chain, gollama.Sampler_init_top_p(params.TopP, 1))
	gollama.Sampler_chain_add(chain, gollama.Sampler_init_temp(params.Temperature))
	gollama.Sampler_chain_add(chain, gollama.Sampler_init_dist(defaultSeed))

	var sb strings.Builder
	pos := len(tokens)

	for i := 0; i < params.MaxTokens; i++ {
		if ctx.Err() != nil {
			break
		}

		token := gollama.Sampler_sample(chain, r.lctx, -1)
		if gollama.Token_is_eog(r.model, token) {
			break
		}

		piece, err := gollama.Token_to_piece(r.model, token)
		if err != nil {
			return "", fmt.Errorf("detokenize: %w", err)
		}
		sb.WriteString(piece)

		if text, hit := cutAtStopSequence(sb.String()); hit {
			return text, nil
		}

		gollama.Sampler_accept(chain, token)

		if err := r.decodeOne(token, pos); err != nil {
			return "", err
		}
		pos++
	}

	return sb.String(), nil
}

// decodePrompt feeds the whole prompt in one batch, requesting logits for
// the final token only.
func (r *gollamaRuntime) decodePrompt(tokens []gollama.LlamaToken) error {
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
		logitsSlice[i] = 0
	}
	logitsSlice[nTokens-1] = 1
	batch.NTokens = nTokens

	if err := gollama.Decode(r.lctx, batch); err != nil {
		return fmt.Errorf("decode prompt: %w", err)
	}
	return nil
}

func (r *gollamaRuntime) decodeOne(token gollama.LlamaToken, pos int) error {
	batch := gollama.Batch_init(1, 0, 1)
	defer gollama.Batch_free(batch)

	tokenSlice := unsafe.Slice(batch.Token, 1)
	posSlice := unsafe.Slice(batch.Pos, 1)
	nSeqSlice := unsafe.Slice(batch.NSeqId, 1)
	seqIdSlice := unsafe.Slice(batch.SeqId, 1)
	logitsSlice := unsafe.Slice(batch.Logits, 1)

	tokenSlice[0] = token
	posSlice[0] = gollama.LlamaPos(pos)
	nSeqSlice[0] = 1
	*seqIdSlice[0] = 0
	logitsSlice[0] = 1
	batch.NTokens = 1

	if err := gollama.Decode(r.lctx, batch); err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	return nil
}

func (r *gollamaRuntime) close() {
	gollama.Free(r.lctx)
	gollama.Model_free(r.model)
	gollama.Backend_free()
}

// cutAtStopSequence truncates accumulated output at the earliest stop
// sequence, if any has fully appeared.
func cutAtStopSequence(text string) (string, bool) {
	cut := -1
	for _, stop := range stopSequences {
		if idx := strings.Index(text, stop); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut < 0 {
		return text, false
	}
	return text[:cut], true
}
