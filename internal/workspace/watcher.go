package workspace

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/fabrikhq/fabrik/internal/domain"
	"github.com/fabrikhq/fabrik/internal/logging"
)

// Watcher publishes file-change events for a workspace so dashboards can
// refresh the tree without polling. Directories created while watching are
// added to the watch set as they appear.
type Watcher struct {
	fw      *fsnotify.Watcher
	root    string
	publish func(domain.WorkflowEvent)
	log     *logging.Logger
	done    chan struct{}
}

// Watch starts watching the store's current root. The publish callback
// receives a log-kind event per filesystem change.
func Watch(store *Store, publish func(domain.WorkflowEvent), log *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fw:      fw,
		root:    store.Root(),
		publish: publish,
		log:     log.Sub("workspace.watch"),
		done:    make(chan struct{}),
	}

	if err := w.addRecursive(w.root); err != nil {
		fw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.fw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fw.Add(ev.Name); err != nil {
				w.log.Warn().Err(err).Str("dir", ev.Name).Msg("failed to watch new directory")
			}
		}
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}

	w.publish(domain.NewEvent(domain.EventLog, "", "workspace changed", map[string]any{
		"op":   ev.Op.String(),
		"path": filepath.ToSlash(rel),
	}))
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
