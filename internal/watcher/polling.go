package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// pollingWatcher scans a collection root on a fixed interval, used when
// fsnotify can't be initialized (e.g. the host's inotify watch limit is
// exhausted).
type pollingWatcher struct {
	opts       Options
	collection string
	root       string

	debouncer *debouncer
	errors    chan error
	stopCh    chan struct{}

	mu      sync.Mutex
	state   map[string]fileSnapshot
	stopped bool
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

func newPollingWatcher(opts Options) *pollingWatcher {
	opts = opts.withDefaults()
	return &pollingWatcher{
		opts:      opts,
		debouncer: newDebouncer(opts.DebounceWindow),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		state:     make(map[string]fileSnapshot),
	}
}

func (p *pollingWatcher) Start(ctx context.Context, collection, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	p.collection = collection
	p.root = absRoot

	if err := p.scan(); err != nil {
		return err
	}

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

func (p *pollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	p.debouncer.Stop()
	close(p.errors)
	return nil
}

func (p *pollingWatcher) Events() <-chan []Event {
	return p.debouncer.Output()
}

func (p *pollingWatcher) Errors() <-chan error {
	return p.errors
}

func (p *pollingWatcher) scan() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(p.root, path)
		if err != nil || !p.opts.matches(relPath) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		p.state[relPath] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
}

func (p *pollingWatcher) detectChanges() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]fileSnapshot)
	now := time.Now()

	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(p.root, path)
		if err != nil || !p.opts.matches(relPath) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap := fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		current[relPath] = snap

		prev, existed := p.state[relPath]
		switch {
		case !existed:
			p.debouncer.add(Event{Collection: p.collection, Path: relPath, Operation: OpCreate, Timestamp: now})
		case prev.modTime != snap.modTime || prev.size != snap.size:
			p.debouncer.add(Event{Collection: p.collection, Path: relPath, Operation: OpModify, Timestamp: now})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for path := range p.state {
		if _, ok := current[path]; !ok {
			p.debouncer.add(Event{Collection: p.collection, Path: path, Operation: OpDelete, Timestamp: now})
		}
	}

	p.state = current
	return nil
}
