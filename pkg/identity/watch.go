package identity

import (
	"github.com/fsnotify/fsnotify"

	"github.com/odvcencio/warden/pkg/logging"
)

// Watcher invalidates an Accessor's cache whenever a watched policy file
// changes on disk, so a hand-edited policy text takes effect without a
// restart.
type Watcher struct {
	fsw *fsnotify.Watcher
	acc *Accessor
	log *logging.Logger
}

// WatchPolicyFiles starts watching paths (typically the profile's and
// workspace's on-disk policy text files, if they are file-backed) and
// invalidates acc's cache on any write/create/remove event. The caller
// owns the returned Watcher and must call Close when done.
func WatchPolicyFiles(acc *Accessor, log *logging.Logger, paths ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := fsw.Add(p); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w := &Watcher{fsw: fsw, acc: acc, log: log}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.acc.Invalidate()
				if w.log != nil {
					w.log.Debug(logging.CategoryConfig, "identity.policy_file_changed", "policy file changed", map[string]any{"path": event.Name})
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn(logging.CategoryConfig, "identity.watch_error", "policy file watcher error", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
