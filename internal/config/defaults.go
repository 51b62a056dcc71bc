package config

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Defaults holds operator-tunable session param defaults loaded from a yaml
// file and hot-reloaded on change. New sessions pick up the current values;
// running sessions are untouched.
type Defaults struct {
	mu      sync.RWMutex
	values  map[string]any
	path    string
	watcher *fsnotify.Watcher
}

// LoadDefaults reads the yaml file at path. An empty path yields an empty,
// watch-free Defaults.
func LoadDefaults(path string) (*Defaults, error) {
	d := &Defaults{path: path, values: map[string]any{}}
	if path == "" {
		return d, nil
	}
	if err := d.reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Snapshot returns the current defaults as a param-update map.
func (d *Defaults) Snapshot() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

func (d *Defaults) reload() error {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read defaults: %w", err)
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse defaults: %w", err)
	}

	// Normalise yaml numbers to float64, the shape the param store takes.
	norm := make(map[string]any, len(parsed))
	for k, v := range parsed {
		switch t := v.(type) {
		case int:
			norm[k] = float64(t)
		case float64:
			norm[k] = t
		case string:
			norm[k] = t
		}
	}

	d.mu.Lock()
	d.values = norm
	d.mu.Unlock()
	return nil
}

// Watch starts reloading on file change until stop is closed. A bad write
// keeps the previous values.
func (d *Defaults) Watch(stop <-chan struct{}) error {
	if d.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(d.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", d.path, err)
	}
	d.watcher = watcher

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// editors fire several events per save
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := d.reload(); err != nil {
						log.Printf("[Config] defaults reload error: %v", err)
						return
					}
					log.Printf("[Config] defaults reloaded from %s", d.path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Config] watcher error: %v", err)
			}
		}
	}()
	return nil
}
