// Package watcher reloads modules whose stored documents change on disk.
//
// An FSNotify watcher reports changes to module documents in the config
// directory, a Debounced wrapper coalesces the bursts editors produce, and a
// Reloader turns each settled change into Module.Reload plus a push of the
// module's new values to clients.
package watcher

import (
	"errors"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrNotWatching     = errors.New("path is not being watched")
	ErrPathNotExist    = errors.New("path does not exist")
)

// Op is a set of file system operations.
type Op uint32

const (
	// OpCreate indicates a file was created or renamed into place.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file was removed.
	OpRemove
	// OpRename indicates a file was renamed away.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case 0:
		return "NONE"
	}
	var s string
	for _, o := range []Op{OpCreate, OpWrite, OpRemove, OpRename} {
		if op.Has(o) {
			if s != "" {
				s += "|"
			}
			s += o.String()
		}
	}
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

// Has returns true if the operation includes o.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event is a change to one file.
type Event struct {
	// Path is the absolute path of the file.
	Path string

	// Op is the operation, or the union of operations once debounced.
	Op Op

	// Timestamp is when the (last) operation was seen.
	Timestamp time.Time
}

// Watcher reports file changes.
type Watcher interface {
	// Watch starts watching a directory's immediate children.
	Watch(path string) error

	// Unwatch stops watching a path.
	Unwatch(path string) error

	// Events returns the channel of changes. It is closed by Close.
	Events() <-chan Event

	// Errors returns the channel of watcher errors. It is closed by Close.
	Errors() <-chan error

	// Close stops the watcher.
	Close() error
}

// Config holds watcher configuration options.
type Config struct {
	// DebounceDelay is the quiet period before a change is delivered.
	// Default: 200ms
	DebounceDelay time.Duration

	// BufferSize is the size of the event and error channels.
	// Default: 100
	BufferSize int

	// Extensions limits events to files with these extensions.
	// Default: .json
	Extensions []string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 200 * time.Millisecond,
		BufferSize:    100,
		Extensions:    []string{".json"},
	}
}

// Option configures a watcher.
type Option func(*Config)

// WithDebounceDelay sets the debounce delay.
func WithDebounceDelay(d time.Duration) Option {
	return func(c *Config) {
		c.DebounceDelay = d
	}
}

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(c *Config) {
		c.BufferSize = size
	}
}

// WithExtensions sets the file extensions that produce events. An empty
// list lets every file through.
func WithExtensions(exts ...string) Option {
	return func(c *Config) {
		c.Extensions = exts
	}
}
