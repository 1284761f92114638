package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-loads the config file on change and hands the result to a
// callback. Only ranking knobs are meant to change at runtime; components
// that support live updates subscribe through the callback.
type Watcher struct {
	path     string
	logger   *zap.Logger
	onChange func(*Config)
	debounce time.Duration
}

func NewWatcher(path string, logger *zap.Logger, onChange func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		logger:   logger,
		onChange: onChange,
		debounce: 250 * time.Millisecond,
	}
}

// Start blocks until ctx is cancelled. Callers run it in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory: editors replace files rather than writing in place.
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var timer *time.Timer
	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.logger.Warn("Config reload failed, keeping previous configuration",
				zap.String("path", w.path),
				zap.Error(err),
			)
			return
		}
		w.logger.Info("Configuration reloaded", zap.String("path", w.path))
		w.onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}
