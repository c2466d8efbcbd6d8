package watcher

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var ErrClosed = errors.New("watcher is closed")

type watchHandle struct {
	watcher *Watcher
	path    string
	id      uint64
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		err = handle.watcher.removeCallback(handle.path, handle.id)
	})
	return err
}

// WatchFile registers a callback for changes to path. The file itself need
// not exist yet, but its directory must.
func (watcher *Watcher) WatchFile(path string, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(absolute)

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, ErrClosed
	}
	needsAdd := watcher.dirs[dir] == 0
	watcher.nextID++
	entry := callbackEntry{id: watcher.nextID, callback: callback}
	watcher.callbacks[absolute] = append(watcher.callbacks[absolute], entry)
	watcher.dirs[dir]++
	watcher.mutex.Unlock()

	if needsAdd {
		if err := watcher.watcher.Add(dir); err != nil {
			_ = watcher.removeCallback(absolute, entry.id)
			watcher.logger.Warn("watch add failed", map[string]string{"path": dir, "error": err.Error()})
			return nil, err
		}
	}
	watcher.logger.Debug("watching file", map[string]string{"path": absolute})
	return &watchHandle{watcher: watcher, path: absolute, id: entry.id}, nil
}

func (watcher *Watcher) removeCallback(path string, id uint64) error {
	dir := filepath.Dir(path)
	watcher.mutex.Lock()
	entries := watcher.callbacks[path]
	kept := entries[:0]
	removed := false
	for _, entry := range entries {
		if entry.id == id {
			removed = true
			continue
		}
		kept = append(kept, entry)
	}
	if len(kept) == 0 {
		delete(watcher.callbacks, path)
	} else {
		watcher.callbacks[path] = kept
	}
	release := false
	if removed {
		watcher.dirs[dir]--
		if watcher.dirs[dir] <= 0 {
			delete(watcher.dirs, dir)
			release = true
		}
	}
	closed := watcher.closed
	watcher.mutex.Unlock()

	if release && !closed {
		if err := watcher.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			return err
		}
	}
	return nil
}
