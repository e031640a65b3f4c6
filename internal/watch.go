package internal

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchKnowledge watches the knowledge source file and invokes reload after
// a debounce window whenever it changes. The parent directory is watched
// because editors and atomic writers replace the file by rename. Blocks
// until ctx is canceled.
func WatchKnowledge(ctx context.Context, path string, debounce time.Duration, reload func(context.Context) error, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerCh = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("watch error")

		case <-timerCh:
			logger.WithField("path", path).Info("knowledge base changed, reloading")
			if err := reload(ctx); err != nil {
				logger.WithError(err).Error("knowledge reload failed")
			}
			timer = nil
			timerCh = nil
		}
	}
}
