package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("config")

// Watcher reloads the config file when it changes on disk and hands the
// validated result to onChange. Invalid edits are logged and ignored, so a
// half-saved file never replaces a working config.
type Watcher struct {
	path     string
	onChange func(Config)
	watcher  *fsnotify.Watcher

	closeOnce sync.Once
	closed    chan struct{}
}

// Watch starts watching the config file's directory. Watching the directory
// rather than the file survives editors that replace the file on save.
func Watch(path string, onChange func(Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		watcher:  watcher,
		closed:   make(chan struct{}),
	}
	go w.watchLoop()

	log.Debugf("watching %s for changes", path)
	return w, nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Warnf("hot reload failed: %v", err)
				continue
			}
			log.Infof("config reloaded from %s", w.path)
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		err = w.watcher.Close()
	})
	return err
}
