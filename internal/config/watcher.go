package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Tunables are the settings safe to change while streams are in flight.
type Tunables struct {
	Guard    GuardConfig    `yaml:"guard"`
	Resolver ResolverConfig `yaml:"resolver"`
}

// tunablesFile mirrors the yaml layout of the config file; only the
// hot-reloadable sections are read.
type tunablesFile struct {
	Guard struct {
		Words      []string `yaml:"words"`
		TailWindow int      `yaml:"tail_window"`
	} `yaml:"guard"`
	Resolver struct {
		Threshold float64 `yaml:"threshold"`
		EndWindow int     `yaml:"end_window"`
	} `yaml:"resolver"`
}

// ChangeHandler is called with the re-read tunables after the config file
// changes. Returning an error only logs; the previous settings stay active
// on the handler's side.
type ChangeHandler func(t Tunables) error

// Watcher hot-reloads the tunable sections of one config file.
type Watcher struct {
	path     string
	log      *zap.Logger
	fsw      *fsnotify.Watcher
	mu       sync.Mutex
	handlers []ChangeHandler
	stop     chan struct{}
	stopped  sync.Once
}

// NewWatcher watches path for changes. The file's directory is watched so
// atomic rename-based rewrites are seen too.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	w := &Watcher{path: path, log: log, fsw: fsw, stop: make(chan struct{})}
	go w.loop()
	return w, nil
}

// OnChange registers a handler for future config changes.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.stopped.Do(func() { close(w.stop) })
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	t, err := ReadTunables(w.path)
	if err != nil {
		w.log.Warn("config reload failed, keeping previous settings",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.mu.Lock()
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()
	for _, h := range handlers {
		if err := h(t); err != nil {
			w.log.Warn("config change handler failed", zap.Error(err))
		}
	}
	w.log.Info("config reloaded", zap.String("path", w.path))
}

// ReadTunables parses the hot-reloadable sections from a yaml config file.
func ReadTunables(path string) (Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tunables{}, fmt.Errorf("read %s: %w", path, err)
	}
	var f tunablesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Tunables{}, fmt.Errorf("parse %s: %w", path, err)
	}
	t := Tunables{
		Guard: GuardConfig{
			Words:      f.Guard.Words,
			TailWindow: f.Guard.TailWindow,
		},
		Resolver: ResolverConfig{
			Threshold: f.Resolver.Threshold,
			EndWindow: f.Resolver.EndWindow,
		},
	}
	if len(t.Guard.Words) == 0 {
		t.Guard.Words = []string{"reference", "references", "ref"}
	}
	if t.Guard.TailWindow <= 0 {
		t.Guard.TailWindow = 100
	}
	if t.Resolver.Threshold <= 0 || t.Resolver.Threshold > 1 {
		t.Resolver.Threshold = 0.75
	}
	if t.Resolver.EndWindow <= 0 {
		t.Resolver.EndWindow = 3000
	}
	return t, nil
}
