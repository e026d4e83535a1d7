package language

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads path into store whenever the file is written or replaced.
// It runs until ctx is cancelled. A reload that fails to parse is logged and
// the previous catalog stays active.
//
// The parent directory is watched rather than the file, so saves that write a
// temp file and rename it over path keep being picked up.
func Watch(ctx context.Context, path string, store *MemoryStore, logger *zap.Logger) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	logger.Info("watching languages file", zap.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !sameFile(event.Name, target) {
				continue
			}
			// rename over path arrives as Create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			items, err := LoadFile(target)
			if err != nil {
				logger.Error("languages reload failed, keeping previous catalog",
					zap.String("path", target), zap.Error(err))
				continue
			}

			store.Replace(items)
			logger.Info("languages reloaded", zap.String("path", target), zap.Int("count", len(items)))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("languages watcher error", zap.Error(err))
		}
	}
}

func sameFile(name, target string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	return filepath.Clean(abs) == target
}
