package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher monitors the config file and emits reloaded configurations.
// Changes are debounced: editors tend to fire several events per save.
// Invalid edits are logged and skipped; the previous config stays live.
type Watcher struct {
	path     string
	debounce time.Duration
	log      zerolog.Logger
	updates  chan *Config
}

// NewWatcher creates a watcher for the given config path.
func NewWatcher(path string, log zerolog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		debounce: 250 * time.Millisecond,
		log:      log.With().Str("component", "configwatcher").Logger(),
		updates:  make(chan *Config, 1),
	}
}

// Updates delivers each successfully reloaded config.
func (w *Watcher) Updates() <-chan *Config { return w.updates }

// Run watches until ctx is cancelled. Watching the parent directory
// instead of the file itself survives rename-based atomic saves.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}
	w.log.Info().Str("path", w.path).Msg("watching config file")

	var timer *time.Timer
	var timerCh <-chan time.Time
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
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("config watch error")
		case <-timerCh:
			timerCh = nil
			timer = nil
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Error().Err(err).Msg("config reload failed, keeping previous")
				continue
			}
			select {
			case w.updates <- cfg:
			default:
				// consumer still busy with the previous reload
			}
			w.log.Info().Msg("config reloaded")
		}
	}
}
