// Package file provides a config.Source backed by a single YAML file on
// disk, watched for changes with fsnotify.
package file

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/omalloc/crateproxy/contrib/config"
)

var _ config.Source = (*fileSource)(nil)

type fileSource struct {
	path string
}

// NewSource returns a config.Source that reads path on Load and emits a
// fresh KeyValue on Watch whenever the file is rewritten.
func NewSource(path string) config.Source {
	return &fileSource{path: path}
}

func (f *fileSource) Load() ([]*config.KeyValue, error) {
	buf, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	return []*config.KeyValue{
		{
			Key:    f.path,
			Value:  buf,
			Format: formatOf(f.path),
		},
	}, nil
}

func (f *fileSource) Watch() (config.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return &fileWatcher{source: f, watcher: watcher}, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

type fileWatcher struct {
	source  *fileSource
	watcher *fsnotify.Watcher
}

func (w *fileWatcher) Next() ([]*config.KeyValue, error) {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil, nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.source.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			return w.source.Load()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil, nil
			}
			return nil, err
		}
	}
}

func (w *fileWatcher) Stop() error {
	return w.watcher.Close()
}
