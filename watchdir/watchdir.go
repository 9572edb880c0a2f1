// Package watchdir watches a directory for dropped .torrent files and
// reports each one once, debouncing the write-then-rename pattern most
// file managers and browsers use when saving a file.
package watchdir

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reports newly-created .torrent files in a directory on
// Events, deduplicating the multiple fsnotify events a single save
// often produces.
type Watcher struct {
	w      *fsnotify.Watcher
	log    *logrus.Logger
	events chan string

	mu      sync.Mutex
	pending map[string]*time.Timer
}

const debounce = 250 * time.Millisecond

// New starts watching dir for created/renamed .torrent files.
func New(dir string, log *logrus.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	w := &Watcher{
		w:       fw,
		log:     log,
		events:  make(chan string, 8),
		pending: make(map[string]*time.Timer),
	}
	go w.loop()
	return w, nil
}

// Events yields the path of each .torrent file as it settles.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.w.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if strings.ToLower(filepath.Ext(ev.Name)) != ".torrent" {
				continue
			}
			w.debounce(ev.Name)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watchdir error")
		}
	}
}

func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(debounce)
		return
	}
	w.pending[path] = time.AfterFunc(debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.events <- path
	})
}
