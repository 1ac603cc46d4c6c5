// Package tuning hot-reloads the dispatch knobs that are safe to change
// mid-run. A small TOML file is watched with fsnotify; every time it is
// rewritten the new values are parsed and handed to the dispatcher. Knobs
// left out of the file (or set to zero) stay unchanged.
package tuning

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

// Tuning carries the reloadable knobs. Zero values mean "leave as is".
type Tuning struct {
	Sigma             float64 `toml:"sigma"`
	TargetNIter       int     `toml:"target_niter"`
	MaxActiveFraction float64 `toml:"maxactive_fraction"`
}

// Read parses a tuning file.
func Read(path string) (Tuning, error) {
	var tn Tuning
	data, err := os.ReadFile(path)
	if err != nil {
		return tn, fmt.Errorf("tuning: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &tn); err != nil {
		return tn, fmt.Errorf("tuning: parse %s: %w", path, err)
	}
	return tn, nil
}

// Watcher monitors a tuning file and delivers each successfully parsed
// revision on Changes. Malformed revisions are skipped; the previous values
// stay in force.
type Watcher struct {
	Path    string
	Changes <-chan Tuning // Read-only external channel

	changes chan Tuning
	done    chan struct{}
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given tuning file.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	ch := make(chan Tuning, 4)
	return &Watcher{
		Path:    path,
		Changes: ch,
		changes: ch,
		done:    make(chan struct{}),
		watcher: fw,
	}, nil
}

// Start begins watching. The containing directory is watched rather than
// the file itself so editors that replace the file atomically still
// trigger reloads.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.Path)); err != nil {
		return fmt.Errorf("tuning: watch %s: %w", w.Path, err)
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and the Changes channel.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done
	close(w.changes)
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Editors fire several events per save; coalesce them with a short
	// debounce before re-reading the file.
	var pending <-chan time.Time
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.Path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = time.After(50 * time.Millisecond)
		case <-pending:
			pending = nil
			tn, err := Read(w.Path)
			if err != nil {
				continue
			}
			select {
			case w.changes <- tn:
			default:
				// A stale revision is still queued; replace it.
				select {
				case <-w.changes:
				default:
				}
				select {
				case w.changes <- tn:
				default:
				}
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
