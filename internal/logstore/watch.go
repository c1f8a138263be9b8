package logstore

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// watcher observes the log's directory and flags the cached size as stale
// when another process removes, renames or recreates the log file.
type watcher struct {
	fw   *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

func newWatcher(path string, logger *slog.Logger, onChange func()) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &watcher{fw: fw, done: make(chan struct{})}
	target := filepath.Clean(path)
	const relevant = fsnotify.Create | fsnotify.Remove | fsnotify.Rename

	w.wg.Go(func() {
		for {
			select {
			case <-w.done:
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == target && ev.Op&relevant != 0 {
					onChange()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Debug("[DEBUG-STORE] file watcher error", "path", path, "error", err)
			}
		}
	})
	return w, nil
}

func (w *watcher) close() error {
	close(w.done)
	err := w.fw.Close()
	w.wg.Wait()
	return err
}
