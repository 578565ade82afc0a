package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

// Watcher monitors the server configuration file and applies hot-reloadable
// settings, currently the logging level. Errors never interrupt the server;
// a broken config edit is logged and ignored.
type Watcher interface {
	Start(ctx context.Context) error
	Close() error
}

// watcher implements the Watcher interface
type watcher struct {
	cfg       *config.Config
	fsWatcher *fsnotify.Watcher
	log       logger.Logger
	root      logger.Logger
}

// NewWatcher creates a config file watcher over the root logger, whose
// level is adjusted on reload
func NewWatcher(cfg *config.Config, root logger.Logger) (Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &watcher{
		cfg:       cfg,
		fsWatcher: fsw,
		log:       root.WithComponent("WATCHER"),
		root:      root,
	}, nil
}

// Start begins watching the config file directory. A missing config file
// disables the watcher silently.
func (w *watcher) Start(ctx context.Context) error {
	if w.cfg.Path == "" {
		return nil
	}

	dir := filepath.Dir(w.cfg.Path)
	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}

	go w.processEvents(ctx)

	return nil
}

// Close stops the watcher
func (w *watcher) Close() error {
	return w.fsWatcher.Close()
}

// processEvents debounces write bursts and reloads on the trailing edge
func (w *watcher) processEvents(ctx context.Context) {
	var timer *time.Timer

	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != filepath.Clean(w.cfg.Path) {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}

			timer = time.AfterFunc(config.WatchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}

			w.log.Warn().Err(err).Msg("Config watch error")
		case <-reload:
			w.reload()
		}
	}
}

// reload re-reads the config file and applies the logging level
func (w *watcher) reload() {
	fresh, err := config.Load(w.cfg.Path)
	if err != nil {
		w.log.Warn().Err(err).Msg("Ignoring config reload")

		return
	}

	if fresh.Logging.Level != w.cfg.Logging.Level {
		w.cfg.Logging.Level = fresh.Logging.Level
		w.root.SetLevel(fresh.Logging.Level)
		w.log.Info().Str("level", fresh.Logging.Level).Msg("Log level changed")
	}
}
