package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// debouncer coalesces rapid events for the same path within a window,
// applying the same merge rules as a create/modify/delete sequence on one
// file: CREATE+MODIFY collapses to CREATE, CREATE+DELETE cancels out,
// MODIFY+DELETE collapses to DELETE, DELETE+CREATE becomes MODIFY (the
// slot was simply replaced).
type debouncer struct {
	window  time.Duration
	pending map[string]*pendingEvent
	mu      sync.Mutex
	output  chan []Event
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

type pendingEvent struct {
	event   Event
	firstOp Operation
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []Event, 10),
		stopCh:  make(chan struct{}),
	}
}

func (d *debouncer) add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		if merged := coalesce(existing, event); merged != nil {
			existing.event = *merged
		} else {
			delete(d.pending, event.Path)
		}
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Operation}
	}

	d.scheduleFlush()
}

func coalesce(existing *pendingEvent, next Event) *Event {
	switch existing.firstOp {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			return &existing.event
		case OpDelete:
			return nil
		default:
			return &next
		}
	case OpModify:
		return &next
	case OpDelete:
		if next.Operation == OpCreate {
			replaced := next
			replaced.Operation = OpModify
			return &replaced
		}
		return &next
	default:
		return &next
	}
}

func (d *debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]Event, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)

	select {
	case d.output <- events:
	default:
		slog.Warn("watcher debouncer output full, dropping batch", slog.Int("batch_size", len(events)))
	}
}

func (d *debouncer) Output() <-chan []Event {
	return d.output
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.stopCh)
	close(d.output)
}
