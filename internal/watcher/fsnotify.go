package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotify implements Watcher using fsnotify. Hidden files, which include
// the temporary files the file backend renames into place, never produce
// events.
type FSNotify struct {
	fsw    *fsnotify.Watcher
	config Config

	events chan Event
	errs   chan error
	stop   chan struct{}
	loop   sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64

	mu     sync.RWMutex
	dirs   map[string]struct{}
	closed bool
}

// NewFSNotify creates a new fsnotify-based watcher.
func NewFSNotify(opts ...Option) (*FSNotify, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &FSNotify{
		fsw:    fsw,
		config: config,
		dirs:   make(map[string]struct{}),
		events: make(chan Event, config.BufferSize),
		errs:   make(chan error, config.BufferSize),
		stop:   make(chan struct{}),
	}
	w.loop.Add(1)
	go w.run()
	return w, nil
}

// Watch starts watching the files directly inside dir.
func (w *FSNotify) Watch(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		return ErrPathNotExist
	} else if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if _, ok := w.dirs[abs]; ok {
		return ErrAlreadyWatching
	}
	if err := w.fsw.Add(abs); err != nil {
		return fmt.Errorf("watching %s: %w", abs, err)
	}
	w.dirs[abs] = struct{}{}
	return nil
}

// Unwatch stops watching dir.
func (w *FSNotify) Unwatch(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if _, ok := w.dirs[abs]; !ok {
		return ErrNotWatching
	}
	delete(w.dirs, abs)
	return w.fsw.Remove(abs)
}

// IsWatching reports whether dir is watched.
func (w *FSNotify) IsWatching(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.dirs[abs]
	return ok
}

// Events returns the event channel.
func (w *FSNotify) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *FSNotify) Errors() <-chan error {
	return w.errs
}

// TotalEvents returns the number of events delivered so far.
func (w *FSNotify) TotalEvents() int64 { return w.delivered.Load() }

// TotalErrors returns the number of errors and dropped events so far.
func (w *FSNotify) TotalErrors() int64 { return w.failed.Load() }

// Close stops the watcher and closes both channels.
func (w *FSNotify) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	w.loop.Wait()
	close(w.events)
	close(w.errs)
	return w.fsw.Close()
}

func (w *FSNotify) run() {
	defer w.loop.Done()
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.forward(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.failed.Add(1)
			w.sendError(err)
		}
	}
}

// forward delivers ev unless it is filtered out. A full channel drops the
// event and reports it on the error channel.
func (w *FSNotify) forward(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 || !w.wanted(ev.Name) {
		return
	}
	select {
	case w.events <- Event{Path: ev.Name, Op: op, Timestamp: time.Now()}:
		w.delivered.Add(1)
	default:
		w.failed.Add(1)
		w.sendError(fmt.Errorf("event buffer full, dropped %s %s", op, ev.Name))
	}
}

// convertOp converts fsnotify.Op to Op. Chmod alone is not a change.
func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}

func (w *FSNotify) wanted(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	if len(w.config.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(base)
	for _, e := range w.config.Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

func (w *FSNotify) sendError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

var _ Watcher = (*FSNotify)(nil)
