package internal

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (e *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return e.vec, e.err
}

func (e *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, e.err
}

func (e *stubEmbedder) Dimension() int    { return len(e.vec) }
func (e *stubEmbedder) ModelName() string { return "stub-embedder" }
func (e *stubEmbedder) Close() error      { return nil }

type stubIndex struct {
	chunks   []TextChunk
	matches  []ChunkMatch
	searches int
}

func (x *stubIndex) BuildChunks(_ context.Context, chunks []TextChunk) error {
	x.chunks = chunks
	return nil
}

func (x *stubIndex) Search(context.Context, []float32, int, float32) ([]ChunkMatch, error) {
	x.searches++
	return x.matches, nil
}

func (x *stubIndex) Len() int                   { return len(x.chunks) }
func (x *stubIndex) Save(context.Context) error { return nil }
func (x *stubIndex) Load(context.Context) error { return errors.New("no persisted index") }

type stubGenerator struct {
	response string
	ready    bool
	prompts  []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string, _ GenerateParams) string {
	g.prompts = append(g.prompts, prompt)
	return g.response
}

func (g *stubGenerator) Ready() bool       { return g.ready }
func (g *stubGenerator) ModelName() string { return "stub-llm" }
func (g *stubGenerator) Close() error      { return nil }

type memStore struct {
	saved []Interaction
}

func (s *memStore) SaveInteraction(_ context.Context, rec Interaction) (string, error) {
	s.saved = append(s.saved, rec)
	return "id", nil
}

func (s *memStore) Recent(context.Context, int) ([]Interaction, error) { return s.saved, nil }
func (s *memStore) Close() error                                       { return nil }

func newTestEngine(t *testing.T, index *stubIndex, gen Generator, store InteractionStore) *RagEngine {
	t.Helper()

	engine := NewRagEngine(EngineOptions{
		Embedder:     &stubEmbedder{vec: []float32{1, 0, 0}},
		Index:        index,
		Knowledge:    NewKnowledgeStore(filepath.Join(t.TempDir(), "kb.json"), nil),
		Generator:    gen,
		Interactions: store,
		TopK:         3,
		Threshold:    0.3,
	})

	if err := engine.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return engine
}

func validResponse() string {
	return "Typical flu symptoms include fever, cough and fatigue. Please consult a healthcare professional for personal advice."
}

func TestQueryEmergencyShortCircuit(t *testing.T) {
	index := &stubIndex{}
	store := &memStore{}
	engine := newTestEngine(t, index, &stubGenerator{ready: true, response: validResponse()}, store)

	result, err := engine.Query(context.Background(), "I have severe chest pain right now")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if result.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", result.Confidence)
	}
	if result.Intent != IntentEmergency {
		t.Errorf("intent = %q, want %q", result.Intent, IntentEmergency)
	}
	if result.EmergencyCategory != CategoryEmergency {
		t.Errorf("category = %q, want %q", result.EmergencyCategory, CategoryEmergency)
	}
	if result.ModelName != "safety_gate" {
		t.Errorf("model = %q, want safety_gate", result.ModelName)
	}
	if !strings.Contains(result.Response, "EMERGENCY DETECTED") {
		t.Errorf("response = %q", result.Response)
	}
	if index.searches != 0 {
		t.Error("expected retrieval to be skipped for emergencies")
	}
	if len(store.saved) != 1 {
		t.Errorf("expected interaction to be logged, got %d", len(store.saved))
	}
}

func TestQueryEmergencyMasksPII(t *testing.T) {
	index := &stubIndex{}
	store := &memStore{}
	engine := newTestEngine(t, index, &stubGenerator{ready: true, response: validResponse()}, store)

	result, err := engine.Query(context.Background(), "I have chest pain, call me back at 555-123-4567")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if result.EmergencyCategory != CategoryEmergency {
		t.Fatalf("category = %q, want %q", result.EmergencyCategory, CategoryEmergency)
	}
	if len(result.DetectedPII) != 1 || result.DetectedPII[0] != "phone" {
		t.Errorf("detected PII = %v, want [phone]", result.DetectedPII)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected one logged interaction, got %d", len(store.saved))
	}
	if strings.Contains(store.saved[0].Query, "555-123-4567") {
		t.Errorf("raw phone number persisted: %q", store.saved[0].Query)
	}
	if !strings.Contains(store.saved[0].Query, "[PHONE_") {
		t.Errorf("expected placeholder in logged query: %q", store.saved[0].Query)
	}
}

func TestQueryValidationError(t *testing.T) {
	engine := newTestEngine(t, &stubIndex{}, nil, nil)

	_, err := engine.Query(context.Background(), "hi")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(verr.Reason, "too short") {
		t.Errorf("reason = %q", verr.Reason)
	}
}

func TestQueryMasksPIIBeforePersistence(t *testing.T) {
	index := &stubIndex{}
	store := &memStore{}
	engine := newTestEngine(t, index, &stubGenerator{ready: true, response: validResponse()}, store)

	result, err := engine.Query(context.Background(), "my email is jane@example.com, can stress cause headaches?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(result.DetectedPII) != 1 || result.DetectedPII[0] != "email" {
		t.Errorf("detected PII = %v", result.DetectedPII)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected one logged interaction, got %d", len(store.saved))
	}
	if strings.Contains(store.saved[0].Query, "jane@example.com") {
		t.Errorf("raw PII persisted: %q", store.saved[0].Query)
	}
	if !strings.Contains(store.saved[0].Query, "[EMAIL_") {
		t.Errorf("expected placeholder in logged query: %q", store.saved[0].Query)
	}
}

func TestQueryRetrievalDeduplicatesByQuestion(t *testing.T) {
	index := &stubIndex{}
	gen := &stubGenerator{ready: true, response: validResponse()}
	engine := newTestEngine(t, index, gen, nil)

	// Two chunks of entry 0 plus one of entry 1; the duplicate entry must
	// collapse to its highest-similarity hit.
	index.matches = []ChunkMatch{
		{Chunk: TextChunk{EntryIndex: 0}, Score: 0.8},
		{Chunk: TextChunk{EntryIndex: 0}, Score: 0.9},
		{Chunk: TextChunk{EntryIndex: 1}, Score: 0.5},
	}

	result, err := engine.Query(context.Background(), "how do I recognize the flu?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(result.Retrieved) != 2 {
		t.Fatalf("retrieved = %d entries, want 2", len(result.Retrieved))
	}
	if result.Retrieved[0].Similarity != 0.9 {
		t.Errorf("top similarity = %v, want 0.9 (highest occurrence wins)", result.Retrieved[0].Similarity)
	}
	if result.Retrieved[0].Question == result.Retrieved[1].Question {
		t.Error("expected distinct entries after deduplication")
	}
	if result.Retrieved[0].Source != "knowledge_base" {
		t.Errorf("source = %q", result.Retrieved[0].Source)
	}
}

func TestQueryEmptyRetrievalConfidence(t *testing.T) {
	engine := newTestEngine(t, &stubIndex{}, &stubGenerator{ready: true, response: validResponse()}, nil)

	result, err := engine.Query(context.Background(), "something entirely unrelated to the knowledge base")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.Confidence != 0.3 {
		t.Errorf("confidence = %v, want 0.3 for empty retrieval", result.Confidence)
	}
}

func TestQueryRetrievalOnlyFallback(t *testing.T) {
	engine := newTestEngine(t, &stubIndex{}, nil, nil)

	result, err := engine.Query(context.Background(), "what is a healthy amount of sleep?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if result.ModelName != "fallback" {
		t.Errorf("model = %q, want fallback", result.ModelName)
	}
	if !strings.Contains(result.Response, "General Health Tips") {
		t.Errorf("response = %q", result.Response)
	}
	if !strings.Contains(result.Response, "Medical Disclaimer") {
		t.Error("expected disclaimer in retrieval-only response")
	}
}

func TestQueryUnsafeResponseSubstituted(t *testing.T) {
	gen := &stubGenerator{ready: true, response: "I diagnose you with influenza and you should rest now."}
	engine := newTestEngine(t, &stubIndex{}, gen, nil)

	result, err := engine.Query(context.Background(), "do I have the flu?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if strings.Contains(result.Response, "I diagnose you with") {
		t.Errorf("dangerous response surfaced: %q", result.Response)
	}
	if !strings.Contains(result.Response, "consult with a healthcare professional") {
		t.Errorf("expected safe fallback, got %q", result.Response)
	}
}

func TestQueryGeneratorReceivesContext(t *testing.T) {
	index := &stubIndex{}
	gen := &stubGenerator{ready: true, response: validResponse()}
	engine := newTestEngine(t, index, gen, nil)

	index.matches = []ChunkMatch{{Chunk: TextChunk{EntryIndex: 0}, Score: 0.9}}

	if _, err := engine.Query(context.Background(), "how do I recognize the flu?"); err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(gen.prompts) != 1 {
		t.Fatalf("generator invoked %d times, want 1", len(gen.prompts))
	}
	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "relevant medical information") {
		t.Errorf("prompt missing retrieval context: %q", prompt)
	}
	if !strings.Contains(prompt, "how do I recognize the flu?") {
		t.Errorf("prompt missing query: %q", prompt)
	}
}

func TestQueryIntentClassified(t *testing.T) {
	engine := newTestEngine(t, &stubIndex{}, &stubGenerator{ready: true, response: validResponse()}, nil)

	result, err := engine.Query(context.Background(), "What are fever symptoms?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.Intent != IntentSymptomCheck {
		t.Errorf("intent = %q, want %q", result.Intent, IntentSymptomCheck)
	}
}

func TestEngineInfo(t *testing.T) {
	index := &stubIndex{}
	engine := newTestEngine(t, index, &stubGenerator{ready: true}, nil)

	info := engine.Info()
	if info.KnowledgeCount != len(SeedEntries()) {
		t.Errorf("knowledge count = %d, want %d", info.KnowledgeCount, len(SeedEntries()))
	}
	if info.ChunkCount != len(SeedEntries())*4 {
		t.Errorf("chunk count = %d, want %d", info.ChunkCount, len(SeedEntries())*4)
	}
	if !info.GeneratorReady || info.GeneratorName != "stub-llm" {
		t.Errorf("generator info = %+v", info)
	}
	if info.EmbeddingModel != "stub-embedder" {
		t.Errorf("embedding model = %q", info.EmbeddingModel)
	}
}

func TestReloadKnowledgeRebuildsIndex(t *testing.T) {
	index := &stubIndex{}
	engine := newTestEngine(t, index, nil, nil)

	before := index.Len()
	if err := engine.ReloadKnowledge(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if index.Len() != before {
		t.Errorf("chunk count changed across identical reload: %d != %d", index.Len(), before)
	}
}

func TestCalculateConfidence(t *testing.T) {
	retrieved := []RetrievalResult{{Similarity: 0.8}, {Similarity: 0.6}}

	// avg 0.7*0.7 = 0.49, ten words -> 0.1, "consult" -> 0.1
	response := "One two three four five six seven eight nine consult"
	got := calculateConfidence(retrieved, response)
	want := float32(0.69)
	if diff := got - want; diff > 0.001 || diff < -0.001 {
		t.Errorf("confidence = %v, want %v", got, want)
	}
}

func TestCalculateConfidenceClamped(t *testing.T) {
	retrieved := []RetrievalResult{{Similarity: 1.2}}
	response := strings.Repeat("consult ", 120)
	if got := calculateConfidence(retrieved, response); got != 1 {
		t.Errorf("confidence = %v, want clamp at 1", got)
	}
}
