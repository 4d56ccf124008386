package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/blackwell-systems/idreset/internal/artifact"
	"github.com/blackwell-systems/idreset/internal/logging"
)

// DefaultInterval is how often coalesced events are flushed to the handler.
const DefaultInterval = 500 * time.Millisecond

// ErrNothingToWatch is returned by Start when none of the artifact
// directories exist.
var ErrNothingToWatch = errors.New("no artifact directory could be watched")

// Event is one artifact that changed during a flush interval.
type Event struct {
	Artifact artifact.Artifact
	// Op accumulates every operation seen for the file in the interval.
	Op fsnotify.Op
	At time.Time
}

// Removed reports whether the file was deleted or renamed away.
func (e Event) Removed() bool {
	return e.Op.Has(fsnotify.Remove) || e.Op.Has(fsnotify.Rename)
}

// Handler receives events. It runs on the watcher goroutine.
type Handler func(Event)

// Watcher watches artifact files for changes made by other programs.
type Watcher struct {
	targets  map[string]artifact.Artifact
	handler  Handler
	interval time.Duration
	log      *slog.Logger

	mu         sync.Mutex
	pending    map[string]*Event
	suppressed map[string]time.Time

	fsw         *fsnotify.Watcher
	stopCh      chan struct{}
	wg          sync.WaitGroup
	batchTicker *time.Ticker
}

// New creates a Watcher for the regular-file artifacts in artifacts.
// Directories are not watched.
func New(artifacts []artifact.Artifact, handler Handler) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	targets := make(map[string]artifact.Artifact)
	for _, a := range artifacts {
		if a.Kind == artifact.KindDirectory {
			continue
		}
		targets[filepath.Clean(a.Path)] = a
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no artifacts to watch")
	}
	return &Watcher{
		targets:    targets,
		handler:    handler,
		interval:   DefaultInterval,
		log:        logging.L("watcher"),
		pending:    make(map[string]*Event),
		suppressed: make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}, nil
}

// SetInterval changes the flush interval. It must be called before Start.
func (w *Watcher) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// Start subscribes to the parent directory of every artifact and begins
// delivering events. Directories that do not exist are skipped.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	dirs := make(map[string]bool)
	for path := range w.targets {
		dirs[filepath.Dir(path)] = true
	}
	watched := 0
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			w.log.Warn("cannot watch directory", logging.KeyPath, dir, logging.KeyError, err)
			continue
		}
		watched++
	}
	if watched == 0 {
		fsw.Close()
		return ErrNothingToWatch
	}
	w.fsw = fsw
	w.log.Info("watching artifacts", "files", len(w.targets), "directories", watched)

	w.batchTicker = time.NewTicker(w.interval)

	w.wg.Add(1)
	go w.run()

	return nil
}

// run collects filesystem events and flushes them on each tick, with a
// final flush when the stop signal is received.
func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.record(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watcher error", logging.KeyError, err)
		case <-w.batchTicker.C:
			w.flush()
		case <-w.stopCh:
			w.flush()
			return
		}
	}
}

// record adds ev to the pending set when it concerns a watched artifact.
// Attribute-only changes are ignored since protecting a file produces them.
func (w *Watcher) record(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	path := filepath.Clean(ev.Name)
	a, ok := w.targets[path]
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if until, ok := w.suppressed[path]; ok {
		if time.Now().Before(until) {
			return
		}
		delete(w.suppressed, path)
	}
	if p, ok := w.pending[path]; ok {
		p.Op |= ev.Op &^ fsnotify.Chmod
		p.At = time.Now()
		return
	}
	w.pending[path] = &Event{Artifact: a, Op: ev.Op &^ fsnotify.Chmod, At: time.Now()}
}

// flush hands pending events to the handler in path order.
func (w *Watcher) flush() {
	w.mu.Lock()
	events := make([]Event, 0, len(w.pending))
	for _, ev := range w.pending {
		events = append(events, *ev)
	}
	w.pending = make(map[string]*Event)
	w.mu.Unlock()

	sort.Slice(events, func(i, j int) bool {
		return events[i].Artifact.Path < events[j].Artifact.Path
	})
	for _, ev := range events {
		w.handler(ev)
	}
}

// Suppress ignores events for path for the next d. Callers use it before
// writing a watched file themselves.
func (w *Watcher) Suppress(path string, d time.Duration) {
	path = filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suppressed[path] = time.Now().Add(d)
	delete(w.pending, path)
}

// Stop halts the watcher and flushes any pending events.
func (w *Watcher) Stop() error {
	select {
	case <-w.stopCh:
		return nil
	default:
	}
	close(w.stopCh)

	if w.batchTicker != nil {
		w.batchTicker.Stop()
	}
	w.wg.Wait()

	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
