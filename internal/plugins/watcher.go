package plugins

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads active plugins when their manifest changes on disk.
// fsnotify does not recurse, so the plugin directory and each plugin
// subdirectory are watched individually; subdirectories created later are
// picked up from their create events.
type Watcher struct {
	manager *Manager
	dir     string
	fw      *fsnotify.Watcher
}

// NewWatcher creates a watcher over the manager's plugin directory.
func NewWatcher(manager *Manager, dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		fw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := fw.Add(filepath.Join(dir, e.Name())); err != nil {
				log.Warn().Err(err).Str("dir", e.Name()).Msg("cannot watch plugin directory")
			}
		}
	}

	return &Watcher{manager: manager, dir: dir, fw: fw}, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("plugin watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	// New plugin directory: start watching it for its manifest.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fw.Add(event.Name); err != nil {
				log.Warn().Err(err).Str("dir", event.Name).Msg("cannot watch plugin directory")
			}
			return
		}
	}

	if filepath.Base(event.Name) != ManifestFile {
		return
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return
	}

	id := filepath.Base(filepath.Dir(event.Name))
	if !w.manager.Active(id) {
		return
	}

	log.Info().Str("plugin", id).Msg("manifest changed, reloading plugin")
	if err := w.manager.Reload(ctx, id); err != nil {
		log.Error().Err(err).Str("plugin", id).Msg("plugin reload failed")
	}
}
