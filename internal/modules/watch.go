package modules

import (
	"github.com/fsnotify/fsnotify"
)

// watchModuleFile starts (lazily creating) a shared fsnotify watcher on
// m.Path, so a rebuild of the target assembly is reported to the
// SetOnInvalidate callback; the module's cached metadata and symbols are
// kept as they are. Best-effort: a watch
// failure (e.g. path doesn't exist, as with in-memory/dynamic modules) is
// logged and otherwise ignored.
func (r *Registry) watchModuleFile(m *Module) {
	if m.Native != nil && m.Native.IsDynamic {
		return
	}

	r.mu.Lock()
	if r.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			r.mu.Unlock()
			if r.log != nil {
				r.log.WarnFields("module watcher unavailable", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		r.watcher = w
		go r.runWatchLoop(w)
	}
	watcher := r.watcher
	r.mu.Unlock()

	if err := watcher.Add(m.Path); err != nil && r.log != nil {
		r.log.WarnFields("failed to watch module file", map[string]interface{}{"path": m.Path, "error": err.Error()})
	}
}

func (r *Registry) runWatchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.invalidateByPath(ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if r.log != nil {
				r.log.WarnFields("module watcher error", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (r *Registry) invalidateByPath(path string) {
	r.mu.Lock()
	var hit *Module
	for _, m := range r.byBase {
		if foldPath(m.Path) == foldPath(path) {
			hit = m
			break
		}
	}
	cb := r.onInvalidate
	r.mu.Unlock()

	if hit != nil && cb != nil {
		cb(hit)
	}
}

// Close releases the registry's file watcher, if one was started.
func (r *Registry) Close() error {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
