package internal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// QueryResult is the outcome of one pipeline run. Ownership transfers to the
// caller; the engine keeps no reference.
type QueryResult struct {
	Response          string            `json:"response"`
	Retrieved         []RetrievalResult `json:"retrieved_info"`
	Confidence        float32           `json:"confidence"`
	Intent            string            `json:"intent"`
	ProcessingTime    float64           `json:"processing_time"`
	Timestamp         time.Time         `json:"timestamp"`
	ModelName         string            `json:"model"`
	EmergencyCategory string            `json:"emergency_category,omitempty"`
	DetectedPII       []string          `json:"detected_pii,omitempty"`
}

// ValidationError reports a client-input rejection: the query never reached
// retrieval or generation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Safety keywords whose presence in a response nudges confidence upward.
var confidenceSafetyKeywords = []string{"consult", "professional", "doctor", "advice", "disclaimer"}

// EngineOptions wires a RagEngine. Generator and Interactions may be nil:
// the engine then answers from retrieval alone and skips persistence.
type EngineOptions struct {
	Embedder          Embedder
	Index             VectorIndex
	Knowledge         *KnowledgeStore
	Generator         Generator
	Interactions      InteractionStore
	TopK              int
	Threshold         float32
	EmergencyResponse string
	Logger            logrus.FieldLogger
}

// RagEngine composes retrieval, safety gating, generation and confidence
// scoring into the query pipeline. Construct once at startup; safe for
// concurrent queries, with knowledge reloads exclusive against searches.
type RagEngine struct {
	mu        sync.RWMutex
	entries   []KnowledgeEntry
	embedder  Embedder
	index     VectorIndex
	knowledge *KnowledgeStore
	generator Generator
	store     InteractionStore
	gate      *SafetyGate
	redactor  *PIIRedactor
	topK      int
	threshold float32
	emergency string
	logger    logrus.FieldLogger
}

func NewRagEngine(opts EngineOptions) *RagEngine {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 3
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = 0.3
	}
	emergency := opts.EmergencyResponse
	if emergency == "" {
		emergency = DefaultEmergencyResponse
	}

	return &RagEngine{
		embedder:  opts.Embedder,
		index:     opts.Index,
		knowledge: opts.Knowledge,
		generator: opts.Generator,
		store:     opts.Interactions,
		gate:      NewSafetyGate(),
		redactor:  NewPIIRedactor(),
		topK:      topK,
		threshold: threshold,
		emergency: emergency,
		logger:    logger,
	}
}

// Initialize loads the knowledge base and restores the persisted index when
// it matches; otherwise the index is rebuilt and saved.
func (e *RagEngine) Initialize(ctx context.Context) error {
	entries, err := e.knowledge.Load()
	if err != nil {
		return fmt.Errorf("load knowledge: %w", err)
	}

	chunks := e.knowledge.Chunks(entries)

	if err := e.index.Load(ctx); err != nil {
		e.logger.WithError(err).Warn("could not load persisted index, rebuilding")
	}

	if e.index.Len() == len(chunks) && len(chunks) > 0 {
		e.mu.Lock()
		e.entries = entries
		e.mu.Unlock()
		return nil
	}

	return e.rebuild(ctx, entries, chunks)
}

// ReloadKnowledge re-reads the knowledge source and rebuilds the index.
// The swap is atomic with respect to concurrent queries: no partial index
// state is ever searchable.
func (e *RagEngine) ReloadKnowledge(ctx context.Context) error {
	entries, err := e.knowledge.Load()
	if err != nil {
		return fmt.Errorf("load knowledge: %w", err)
	}

	return e.rebuild(ctx, entries, e.knowledge.Chunks(entries))
}

func (e *RagEngine) rebuild(ctx context.Context, entries []KnowledgeEntry, chunks []TextChunk) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.index.BuildChunks(ctx, chunks); err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	e.entries = entries

	if err := e.index.Save(ctx); err != nil {
		e.logger.WithError(err).Warn("could not persist vector index")
	}

	return nil
}

// Query runs the full pipeline for an anonymous caller.
func (e *RagEngine) Query(ctx context.Context, userText string) (*QueryResult, error) {
	return e.QueryForUser(ctx, "", userText)
}

// QueryForUser runs the pipeline: emergency check, validity check, PII
// masking, retrieval, generation, response validation, confidence scoring
// and intent classification. Once the engine is initialized the caller never
// sees a hard failure except for client-input rejections (ValidationError).
func (e *RagEngine) QueryForUser(ctx context.Context, userID, userText string) (*QueryResult, error) {
	start := time.Now()

	if isEmergency, category, keyword := e.gate.CheckEmergency(userText); isEmergency {
		e.logger.WithFields(logrus.Fields{
			"category": category,
			"keyword":  keyword,
		}).Warn("emergency detected, short-circuiting pipeline")

		// The short circuit still masks before persisting; only the
		// retrieval and generation stages are skipped.
		masked, piiTypes := e.redactor.DetectAndMask(userText)

		result := &QueryResult{
			Response:          e.emergency,
			Retrieved:         nil,
			Confidence:        1.0,
			Intent:            IntentEmergency,
			ProcessingTime:    time.Since(start).Seconds(),
			Timestamp:         time.Now().UTC(),
			ModelName:         "safety_gate",
			EmergencyCategory: category,
			DetectedPII:       piiTypes,
		}
		e.saveInteraction(ctx, userID, masked, result)
		return result, nil
	}

	if ok, reason := e.gate.ValidateQuery(userText); !ok {
		return nil, &ValidationError{Reason: reason}
	}

	// All downstream steps, intent classification included, operate on the
	// masked text so raw PII never reaches the model, the index, or the log.
	masked, piiTypes := e.redactor.DetectAndMask(userText)
	if len(piiTypes) > 0 {
		e.logger.WithField("types", piiTypes).Info("masked PII in query")
	}

	retrieved := e.retrieve(ctx, masked)

	var response, modelName string
	if e.generator != nil && e.generator.Ready() {
		response = e.generator.Generate(ctx, buildPrompt(masked, retrieved), GenerateParams{})
		modelName = e.generator.ModelName()
	} else {
		response = retrievalOnlyResponse(masked, retrieved)
		modelName = "fallback"
	}

	if !e.gate.ValidateResponse(response) {
		e.logger.Warn("generated response failed safety validation, substituting fallback")
		response = safeFallbackResponse(masked)
	}

	result := &QueryResult{
		Response:       response,
		Retrieved:      retrieved,
		Confidence:     calculateConfidence(retrieved, response),
		Intent:         ClassifyIntent(masked),
		ProcessingTime: time.Since(start).Seconds(),
		Timestamp:      time.Now().UTC(),
		ModelName:      modelName,
		DetectedPII:    piiTypes,
	}

	e.saveInteraction(ctx, userID, masked, result)
	return result, nil
}

// retrieve embeds the query and maps index hits back to knowledge entries,
// deduplicating by source question with the highest-similarity occurrence
// winning. Retrieval failures degrade to an empty result set, never an error.
func (e *RagEngine) retrieve(ctx context.Context, query string) []RetrievalResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.WithError(err).Error("query embedding failed")
		return nil
	}

	matches, err := e.index.Search(ctx, vec, e.topK, e.threshold)
	if err != nil {
		e.logger.WithError(err).Error("index search failed")
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	seen := make(map[string]struct{})
	results := make([]RetrievalResult, 0, e.topK)

	for _, m := range matches {
		if m.Chunk.EntryIndex < 0 || m.Chunk.EntryIndex >= len(e.entries) {
			continue
		}
		entry := e.entries[m.Chunk.EntryIndex]

		if _, dup := seen[entry.Question]; dup {
			continue
		}
		seen[entry.Question] = struct{}{}

		category := entry.Category
		if category == "" {
			category = "general"
		}
		severity := entry.Severity
		if severity == "" {
			severity = "unknown"
		}

		results = append(results, RetrievalResult{
			Question:   entry.Question,
			Answer:     entry.Answer,
			Category:   category,
			Severity:   severity,
			Similarity: m.Score,
			Source:     "knowledge_base",
		})

		if len(results) == e.topK {
			break
		}
	}

	return results
}

func (e *RagEngine) saveInteraction(ctx context.Context, userID, query string, result *QueryResult) {
	if e.store == nil {
		return
	}

	retrieved := make([]string, 0, len(result.Retrieved))
	for _, r := range result.Retrieved {
		retrieved = append(retrieved, r.Question)
	}

	_, err := e.store.SaveInteraction(ctx, Interaction{
		UserID:         userID,
		Query:          query,
		Response:       result.Response,
		Intent:         result.Intent,
		Confidence:     result.Confidence,
		Retrieved:      retrieved,
		ProcessingTime: result.ProcessingTime,
		Timestamp:      result.Timestamp,
	})
	if err != nil {
		// The response is already computed; persistence failures are not
		// the caller's problem.
		e.logger.WithError(err).Warn("could not save interaction")
	}
}

// SystemInfo describes the engine's operating state.
type SystemInfo struct {
	GeneratorReady bool   `json:"generator_ready"`
	GeneratorName  string `json:"generator_name,omitempty"`
	EmbeddingModel string `json:"embedding_model"`
	KnowledgeCount int    `json:"knowledge_entries"`
	ChunkCount     int    `json:"text_chunks"`
}

func (e *RagEngine) Info() SystemInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	info := SystemInfo{
		EmbeddingModel: e.embedder.ModelName(),
		KnowledgeCount: len(e.entries),
		ChunkCount:     e.index.Len(),
	}
	if e.generator != nil {
		info.GeneratorReady = e.generator.Ready()
		info.GeneratorName = e.generator.ModelName()
	}
	return info
}

// buildPrompt injects up to two retrieved entries, answers truncated to 200
// characters, ahead of the user query.
func buildPrompt(query string, retrieved []RetrievalResult) string {
	var context strings.Builder
	if len(retrieved) > 0 {
		context.WriteString("Here is some relevant medical information:\n\n")
		for i, info := range retrieved {
			if i == 2 {
				break
			}
			context.WriteString(fmt.Sprintf("%d. **%s**\n", i+1, info.Question))
			context.WriteString(fmt.Sprintf("   %s...\n\n", truncate(info.Answer, 200)))
		}
	}

	return fmt.Sprintf("Question: %s\n\nMedical Context:\n%s\nProvide a clear, concise medical answer. Include safety disclaimer.", query, context.String())
}

// retrievalOnlyResponse synthesizes an answer directly from retrieved
// entries when no generator is available.
func retrievalOnlyResponse(query string, retrieved []RetrievalResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("I understand you're asking about: **%s**\n\n", query))

	if len(retrieved) > 0 {
		sb.WriteString("Here's some relevant information:\n\n")
		for i, info := range retrieved {
			if i == 3 {
				break
			}
			sb.WriteString(fmt.Sprintf("**• %s**\n", info.Question))
			sb.WriteString(fmt.Sprintf("  %s...\n\n", truncate(info.Answer, 200)))
		}
	} else {
		sb.WriteString("This appears to be a health-related question. ")
		sb.WriteString("For accurate information, please consult with a healthcare professional.\n\n")
	}

	sb.WriteString("**General Health Tips:**\n")
	sb.WriteString("• Stay hydrated and get adequate rest\n")
	sb.WriteString("• Eat a balanced diet with plenty of fruits and vegetables\n")
	sb.WriteString("• Exercise regularly as appropriate\n")
	sb.WriteString("• Manage stress through relaxation techniques\n")
	sb.WriteString("• Get regular health check-ups\n\n")

	sb.WriteString("**⚠️ Medical Disclaimer:** I am an AI assistant providing general health information only. ")
	sb.WriteString("Always consult with qualified healthcare professionals for medical advice, diagnosis, or treatment.")

	return sb.String()
}

// safeFallbackResponse replaces generated text that failed post-generation
// safety validation.
func safeFallbackResponse(query string) string {
	return fmt.Sprintf(`I understand you're asking about: %s

I want to ensure I provide safe and accurate information. For health-related questions:

**Please consult with a healthcare professional** who can:
• Review your specific situation
• Consider your medical history
• Provide personalized advice
• Order appropriate tests if needed

**🚨 Seek immediate medical attention for:**
• Chest pain or pressure
• Difficulty breathing
• Severe pain
• Uncontrolled bleeding
• Sudden weakness or numbness

**Medical Disclaimer:** I am an AI assistant providing general information only. Always consult with qualified healthcare professionals for medical advice.`, query)
}

// calculateConfidence combines mean retrieval similarity, a response-length
// boost, and a safety-keyword boost, clamped to [0, 1]. With nothing
// retrieved, confidence is pinned at 0.3.
func calculateConfidence(retrieved []RetrievalResult, response string) float32 {
	if len(retrieved) == 0 {
		return 0.3
	}

	var sum float32
	for _, r := range retrieved {
		sum += r.Similarity
	}
	avg := sum / float32(len(retrieved))

	lengthBoost := float32(len(strings.Fields(response))) / 100
	if lengthBoost > 0.2 {
		lengthBoost = 0.2
	}

	var safetyBoost float32
	lower := strings.ToLower(response)
	for _, keyword := range confidenceSafetyKeywords {
		if strings.Contains(lower, keyword) {
			safetyBoost = 0.1
			break
		}
	}

	confidence := avg*0.7 + lengthBoost + safetyBoost
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}
