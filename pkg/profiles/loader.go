package profiles

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/voicetyped/transcriber/internal/speech/engine"
)

// Loader loads and optionally hot-reloads transcription profiles from YAML
// files.
type Loader struct {
	dir string

	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewLoader creates a new profile loader for the given directory.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:      dir,
		profiles: make(map[string]*Profile),
	}
}

// LoadAll loads all .yaml and .yml files from the configured directory.
// A profile whose overrides produce an invalid engine configuration fails
// the whole load and the previous set stays active.
func (l *Loader) LoadAll() (map[string]*Profile, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read profile dir %q: %w", l.dir, err)
	}

	result := make(map[string]*Profile)
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		p, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", path, err)
		}
		if _, dup := result[p.Name]; dup {
			return nil, fmt.Errorf("load %q: duplicate profile name %q", path, p.Name)
		}
		result[p.Name] = p
	}

	l.mu.Lock()
	l.profiles = result
	l.mu.Unlock()

	return result, nil
}

// Get returns a loaded profile by name.
func (l *Loader) Get(name string) (*Profile, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.profiles[name]
	return p, ok
}

// All returns all loaded profiles.
func (l *Loader) All() map[string]*Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.profiles)
}

func loadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := p.Apply(engine.DefaultConfig()).Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return &p, nil
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// WatchAndReload starts watching the profile directory for changes and
// reloads. This blocks until the done channel is closed.
func (l *Loader) WatchAndReload(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", l.dir, err)
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if _, err := l.LoadAll(); err != nil {
					slog.Warn("profile reload failed, keeping previous profiles",
						slog.String("dir", l.dir), slog.String("error", err.Error()))
					continue
				}
				slog.Info("profiles reloaded", slog.String("dir", l.dir))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
