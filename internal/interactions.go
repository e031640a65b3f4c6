package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Interaction is one completed query/response exchange, persisted for
// history and auditing. The query text stored here is the PII-masked form.
type Interaction struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id,omitempty"`
	Query          string    `json:"query"`
	Response       string    `json:"response"`
	Intent         string    `json:"intent"`
	Confidence     float32   `json:"confidence"`
	Retrieved      []string  `json:"retrieved,omitempty"`
	ProcessingTime float64   `json:"processing_time"`
	Timestamp      time.Time `json:"timestamp"`
}

// InteractionStore is the persistence collaborator consumed by the engine.
// A failing store never affects the QueryResult already computed; the engine
// logs and swallows the error.
type InteractionStore interface {
	SaveInteraction(ctx context.Context, rec Interaction) (string, error)
	Recent(ctx context.Context, n int) ([]Interaction, error)
	Close() error
}

var interactionsBucket = []byte("interactions")

var _ InteractionStore = (*BoltInteractionLog)(nil)

// BoltInteractionLog stores interactions in an embedded bbolt database,
// keyed by timestamp so recency scans are a reverse cursor walk.
type BoltInteractionLog struct {
	db *bolt.DB
}

func OpenInteractionLog(path string) (*BoltInteractionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open interaction log: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(interactionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltInteractionLog{db: db}, nil
}

func (l *BoltInteractionLog) SaveInteraction(ctx context.Context, rec Interaction) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal interaction: %w", err)
	}

	key := []byte(rec.Timestamp.UTC().Format(time.RFC3339Nano) + "/" + rec.ID)

	err = l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(interactionsBucket).Put(key, data)
	})
	if err != nil {
		return "", fmt.Errorf("save interaction: %w", err)
	}

	return rec.ID, nil
}

// Recent returns up to n interactions, newest first.
func (l *BoltInteractionLog) Recent(ctx context.Context, n int) ([]Interaction, error) {
	if n <= 0 {
		return nil, nil
	}

	var records []Interaction
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(interactionsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(records) < n; k, v = c.Prev() {
			var rec Interaction
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}

	return records, nil
}

func (l *BoltInteractionLog) Close() error {
	return l.db.Close()
}
