// Package watcher keeps the Document Catalog coherent with the
// filesystem (spec.md §2): each registered collection's root directory is
// watched, Markdown file creates/modifies drive a catalog upsert, deletes
// drive a deactivate, coalesced through a debounce window so a burst of
// saves produces one batch of work rather than one per fsnotify event.
package watcher

import (
	"context"
	"path/filepath"
	"time"
)

// Operation identifies the kind of filesystem change an Event represents.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Event is a single coalesced filesystem change, scoped to one collection.
type Event struct {
	Collection string
	Path       string // relative to the collection root
	Operation  Operation
	IsDir      bool
	Timestamp  time.Time
}

// Options configures watcher behavior.
type Options struct {
	// DebounceWindow coalesces rapid-fire events per path before emitting.
	DebounceWindow time.Duration
	// PollInterval is the scan interval used when fsnotify can't be
	// initialized (e.g. inotify watch limit exhausted).
	PollInterval time.Duration
	// EventBufferSize bounds the output channel depth.
	EventBufferSize int
	// Pattern is the glob (matched against the base filename) that
	// determines which files the collection cares about, e.g. "*.md".
	Pattern string
}

// DefaultOptions returns sensible defaults for a Markdown collection watch.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 256,
		Pattern:         "*.md",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	if o.Pattern == "" {
		o.Pattern = d.Pattern
	}
	return o
}

func (o Options) matches(path string) bool {
	ok, err := filepath.Match(o.Pattern, filepath.Base(path))
	return err == nil && ok
}

// Watcher is implemented by both the fsnotify-backed and polling-backed
// collection watchers.
type Watcher interface {
	Start(ctx context.Context, collection, root string) error
	Stop() error
	Events() <-chan []Event
	Errors() <-chan error
}
