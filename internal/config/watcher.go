package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/council"
)

// CouncilWatcher hot-reloads the council configuration when its file changes,
// so member weights and thresholds can be retuned without a restart.
type CouncilWatcher struct {
	path    string
	engine  *council.Engine
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

// NewCouncilWatcher watches the directory containing path; editors often
// replace files via rename, which a direct file watch would lose.
func NewCouncilWatcher(path string, engine *council.Engine, logger *zap.Logger) (*CouncilWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	return &CouncilWatcher{path: path, engine: engine, watcher: w, logger: logger}, nil
}

// Run processes file events until ctx is cancelled. Reload failures keep the
// previous config in effect.
func (cw *CouncilWatcher) Run(ctx context.Context) {
	defer cw.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(cw.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Editors fire bursts of events per save; coalesce them.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, cw.reload)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("Council config watcher error", zap.Error(err))
		}
	}
}

func (cw *CouncilWatcher) reload() {
	cfg, err := council.LoadConfig(cw.path)
	if err != nil {
		cw.logger.Error("Council config reload failed, keeping previous",
			zap.String("path", cw.path),
			zap.Error(err),
		)
		return
	}
	cw.engine.UpdateConfig(cfg)
	cw.logger.Info("Council config reloaded",
		zap.String("path", cw.path),
		zap.Int("members", len(cfg.Members)),
	)
}
