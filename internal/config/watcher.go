package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches path for writes and reloads+reconciles on change,
// debouncing rapid successive events (editors often emit several writes
// for one logical save). Grounded on the teacher's fsnotify-backed
// config watch, mirroring the Python original's watchdog.Observer +
// debounced on_modified handler.
type Watcher struct {
	path   string
	log    *slog.Logger
	onLoad func(Config)
}

func NewWatcher(path string, log *slog.Logger, onLoad func(Config)) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{path: path, log: log, onLoad: onLoad}
}

// Run blocks watching path until ctx is cancelled, calling onLoad with
// each successfully reloaded and validated Config.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.log.Warn("config reload failed, keeping previous snapshot", "error", err)
			return
		}
		w.log.Info("config reloaded", "path", w.path)
		w.onLoad(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}
