package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsMatchesFiltersByPattern(t *testing.T) {
	opts := DefaultOptions()
	assert.True(t, opts.matches("notes/today.md"))
	assert.False(t, opts.matches("notes/today.txt"))
}

func TestDebouncerCoalescesCreateThenModifyIntoCreate(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.add(Event{Path: "a.md", Operation: OpCreate})
	d.add(Event{Path: "a.md", Operation: OpModify})

	select {
	case batch := <-d.Output():
		require.Len(t, batch, 1)
		assert.Equal(t, OpCreate, batch[0].Operation)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced batch")
	}
}

func TestDebouncerCoalescesCreateThenDeleteIntoNothing(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.add(Event{Path: "a.md", Operation: OpCreate})
	d.add(Event{Path: "a.md", Operation: OpDelete})

	select {
	case batch := <-d.Output():
		t.Fatalf("expected no batch, got %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncerCoalescesDeleteThenCreateIntoModify(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.add(Event{Path: "a.md", Operation: OpDelete})
	d.add(Event{Path: "a.md", Operation: OpCreate})

	select {
	case batch := <-d.Output():
		require.Len(t, batch, 1)
		assert.Equal(t, OpModify, batch[0].Operation)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced batch")
	}
}

func TestPollingWatcherDetectsCreateModifyDelete(t *testing.T) {
	dir := t.TempDir()
	opts := Options{DebounceWindow: 10 * time.Millisecond, PollInterval: 20 * time.Millisecond, Pattern: "*.md"}
	p := newPollingWatcher(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = p.Start(ctx, "notes", dir) }()
	time.Sleep(30 * time.Millisecond)

	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	var created bool
	deadline := time.After(2 * time.Second)
	for !created {
		select {
		case batch := <-p.Events():
			for _, e := range batch {
				if e.Path == "note.md" && e.Operation == OpCreate {
					created = true
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for create event")
		}
	}

	require.NoError(t, os.Remove(path))
	var deleted bool
	deadline = time.After(2 * time.Second)
	for !deleted {
		select {
		case batch := <-p.Events():
			for _, e := range batch {
				if e.Path == "note.md" && e.Operation == OpDelete {
					deleted = true
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for delete event")
		}
	}

	require.NoError(t, p.Stop())
}

func TestPollingWatcherIgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("x"), 0o644))

	opts := Options{DebounceWindow: 10 * time.Millisecond, PollInterval: 20 * time.Millisecond, Pattern: "*.md"}
	p := newPollingWatcher(opts)
	require.NoError(t, p.scan())
	assert.Empty(t, p.state)
}
