package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HybridWatcher watches one collection root with fsnotify, falling back to
// polling if the fsnotify watcher itself can't be constructed.
type HybridWatcher struct {
	opts       Options
	collection string
	root       string

	fsw       *fsnotify.Watcher
	poll      *pollingWatcher
	useFsw    bool
	debouncer *debouncer

	events chan []Event
	errors chan error
	stopCh chan struct{}

	mu      sync.RWMutex
	stopped bool
}

var _ Watcher = (*HybridWatcher)(nil)

// New constructs a HybridWatcher for one collection, trying fsnotify first.
func New(opts Options) *HybridWatcher {
	opts = opts.withDefaults()

	h := &HybridWatcher{
		opts:      opts,
		debouncer: newDebouncer(opts.DebounceWindow),
		events:    make(chan []Event, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}

	if fsw, err := fsnotify.NewWatcher(); err == nil {
		h.fsw = fsw
		h.useFsw = true
	} else {
		h.poll = newPollingWatcher(opts)
	}

	return h
}

// Start begins watching root (a collection's registered filesystem root)
// for changes matching opts.Pattern.
func (h *HybridWatcher) Start(ctx context.Context, collection, root string) error {
	if !h.useFsw {
		return h.poll.Start(ctx, collection, root)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	h.collection = collection
	h.root = absRoot

	if err := h.addRecursive(h.root); err != nil {
		return err
	}

	go h.forwardDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsw.Events:
			if !ok {
				return nil
			}
			h.handleEvent(event)
		case err, ok := <-h.fsw.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) handleEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(h.root, event.Name)
	if err != nil {
		relPath = event.Name
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if isDir {
		if event.Op&fsnotify.Create != 0 {
			_ = h.fsw.Add(event.Name)
		}
		return
	}

	if !h.opts.matches(relPath) {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	h.debouncer.add(Event{
		Collection: h.collection,
		Path:       relPath,
		Operation:  op,
		Timestamp:  time.Now(),
	})
}

func (h *HybridWatcher) forwardDebounced(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case batch, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			select {
			case h.events <- batch:
			default:
			}
		}
	}
}

func (h *HybridWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return h.fsw.Add(path)
	})
}

func (h *HybridWatcher) emitError(err error) {
	select {
	case h.errors <- err:
	default:
	}
}

// Stop releases the underlying watcher (fsnotify handle or poll ticker).
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true

	if !h.useFsw {
		return h.poll.Stop()
	}

	close(h.stopCh)
	h.debouncer.Stop()
	err := h.fsw.Close()
	close(h.errors)
	close(h.events)
	return err
}

// Events returns batches of coalesced filesystem events.
func (h *HybridWatcher) Events() <-chan []Event {
	if !h.useFsw {
		return h.poll.Events()
	}
	return h.events
}

// Errors returns non-fatal watcher errors.
func (h *HybridWatcher) Errors() <-chan error {
	if !h.useFsw {
		return h.poll.Errors()
	}
	return h.errors
}
