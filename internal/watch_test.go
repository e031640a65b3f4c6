package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchKnowledgeReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	reloaded := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- WatchKnowledge(ctx, path, 20*time.Millisecond, func(context.Context) error {
			select {
			case reloaded <- struct{}{}:
			default:
			}
			return nil
		}, nil)
	}()

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"medical_faqs":[]}`), 0644))

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("reload was not triggered")
	}

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatchKnowledgeIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	reloaded := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- WatchKnowledge(ctx, path, 20*time.Millisecond, func(context.Context) error {
			select {
			case reloaded <- struct{}{}:
			default:
			}
			return nil
		}, nil)
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0644))

	select {
	case <-reloaded:
		t.Fatal("reload triggered by an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestWatchKnowledgeStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WatchKnowledge(ctx, path, time.Millisecond, func(context.Context) error { return nil }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
