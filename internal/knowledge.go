package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

var (
	ErrDimMismatch  = errors.New("embedding dimension mismatch")
	ErrIndexMissing = errors.New("no vector index available")
)

// KnowledgeEntry is one canonical question/answer record. Entries are
// immutable after load; chunks are derived from them on every (re)load.
type KnowledgeEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// TextChunk is a derived retrieval fragment. Several chunks point back to the
// same entry via EntryIndex.
type TextChunk struct {
	Text       string `json:"text"`
	EntryIndex int    `json:"entry_index"`
}

type knowledgeDocument struct {
	Entries     []KnowledgeEntry `json:"medical_faqs"`
	LastUpdated string           `json:"last_updated,omitempty"`
	Version     string           `json:"version,omitempty"`
}

// KnowledgeStore loads and chunks the knowledge base backing retrieval.
type KnowledgeStore struct {
	path   string
	logger logrus.FieldLogger
}

func NewKnowledgeStore(path string, logger logrus.FieldLogger) *KnowledgeStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KnowledgeStore{path: path, logger: logger}
}

func (s *KnowledgeStore) Path() string {
	return s.path
}

// Load reads the knowledge document from disk. A missing or corrupt file is
// never fatal: the built-in seed set is written back to the configured path
// and returned instead.
func (s *KnowledgeStore) Load() ([]KnowledgeEntry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.WithField("path", s.path).Warn("knowledge base not found, seeding fallback entries")
		return s.Seed()
	}

	var doc knowledgeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.WithError(err).Warn("knowledge base unreadable, seeding fallback entries")
		return s.Seed()
	}

	if len(doc.Entries) == 0 {
		s.logger.Warn("knowledge base has no entries, seeding fallback entries")
		return s.Seed()
	}

	s.logger.WithField("entries", len(doc.Entries)).Info("knowledge base loaded")
	return doc.Entries, nil
}

// Seed writes the built-in entries to the configured source path and
// returns them.
func (s *KnowledgeStore) Seed() ([]KnowledgeEntry, error) {
	entries := SeedEntries()

	if err := s.persist(entries); err != nil {
		// Still usable in memory even if the write-back failed.
		s.logger.WithError(err).Warn("could not persist seed knowledge base")
	}

	return entries, nil
}

func (s *KnowledgeStore) persist(entries []KnowledgeEntry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create knowledge dir: %w", err)
	}

	doc := knowledgeDocument{
		Entries:     entries,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		Version:     "1.0.0",
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal knowledge base: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write knowledge base: %w", err)
	}

	return nil
}

// Chunks derives four retrieval variants per entry: the full Q+A, a truncated
// Q+A, a categorized summary and a keyword-prefixed summary. Varied phrasings
// widen recall against free-text queries.
func (s *KnowledgeStore) Chunks(entries []KnowledgeEntry) []TextChunk {
	chunks := make([]TextChunk, 0, len(entries)*4)

	for i, entry := range entries {
		category := entry.Category
		if category == "" {
			category = "general"
		}

		topic := titleCase(strings.ReplaceAll(category, "_", " "))

		variants := []string{
			fmt.Sprintf("Question: %s\nAnswer: %s\nCategory: %s", entry.Question, entry.Answer, category),
			fmt.Sprintf("Medical Question: %s\nRelated Information: %s...", entry.Question, truncate(entry.Answer, 200)),
			fmt.Sprintf("Topic: %s\n%s\n%s...", topic, entry.Question, truncate(entry.Answer, 150)),
			fmt.Sprintf("Keywords: %s\n%s", ExtractKeywords(entry.Question), truncate(entry.Answer, 100)),
		}

		for _, text := range variants {
			chunks = append(chunks, TextChunk{Text: text, EntryIndex: i})
		}
	}

	return chunks
}

var keywordStopWords = map[string]struct{}{
	"what": {}, "are": {}, "how": {}, "to": {}, "is": {}, "the": {},
	"a": {}, "an": {}, "of": {}, "for": {}, "with": {},
}

// ExtractKeywords pulls up to five distinctive tokens out of a question.
// This is a deliberate approximation: lowercase, drop stop words and short
// tokens, dedupe in first-seen order. Retrieval behavior depends on keeping
// these heuristics stable.
func ExtractKeywords(text string) string {
	words := strings.Fields(strings.ToLower(text))

	seen := make(map[string]struct{})
	keywords := make([]string, 0, 5)

	for _, word := range words {
		if _, stop := keywordStopWords[word]; stop {
			continue
		}
		if len(word) <= 3 {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
		if len(keywords) == 5 {
			break
		}
	}

	return strings.Join(keywords, ", ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SeedEntries is the built-in degraded-mode knowledge base used when the
// configured source is missing or corrupt.
func SeedEntries() []KnowledgeEntry {
	return []KnowledgeEntry{
		{
			Question: "What are common flu symptoms?",
			Answer:   "Common flu symptoms include fever, cough, sore throat, runny or stuffy nose, body aches, headache, chills, and fatigue. Symptoms usually come on suddenly.",
			Category: "infectious_diseases",
			Severity: "moderate",
		},
		{
			Question: "How to manage high blood pressure naturally?",
			Answer:   "Natural ways to manage blood pressure include: regular exercise (30 minutes daily), reducing sodium intake, eating potassium-rich foods, limiting alcohol, managing stress, maintaining healthy weight, and quitting smoking.",
			Category: "chronic_conditions",
			Severity: "serious",
		},
		{
			Question: "What is considered a healthy diet?",
			Answer:   "A healthy diet includes: fruits and vegetables (5+ servings daily), whole grains, lean proteins, healthy fats, and limits processed foods, added sugars, and saturated fats. Stay hydrated with water.",
			Category: "nutrition",
			Severity: "low",
		},
		{
			Question: "How much sleep do adults need?",
			Answer:   "Most adults need 7-9 hours of quality sleep per night. Maintain consistent sleep schedule, create comfortable sleep environment, avoid screens before bed, and limit caffeine.",
			Category: "lifestyle",
			Severity: "low",
		},
		{
			Question: "What are signs of dehydration?",
			Answer:   "Signs include: thirst, dry mouth, fatigue, dizziness, dark yellow urine, decreased urination, dry skin, and headache. Severe dehydration requires immediate medical attention.",
			Category: "emergency",
			Severity: "moderate",
		},
	}
}
