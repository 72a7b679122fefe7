package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	w, err := NewWatcher(WatcherConfig{
		ConfigPath: path,
		Debounce:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w
}

func TestWatcher_DetectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("initial"), 0o644); err != nil {
		t.Fatalf("writing initial file: %v", err)
	}

	w := newWatcher(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	if err := os.WriteFile(path, []byte("modified"), 0o644); err != nil {
		t.Fatalf("writing modified file: %v", err)
	}

	select {
	case evt := <-w.Events():
		if evt.ConfigPath != path {
			t.Errorf("got config path %q, want %q", evt.ConfigPath, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file change event")
	}
}

func TestWatcher_DetectsRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("initial"), 0o644); err != nil {
		t.Fatalf("writing initial file: %v", err)
	}

	w := newWatcher(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	// Atomic save: write a temp file, then rename over the target.
	tmp := filepath.Join(dir, "config.yaml.tmp")
	if err := os.WriteFile(tmp, []byte("replaced"), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("renaming: %v", err)
	}

	select {
	case evt := <-w.Events():
		if evt.ConfigPath != path {
			t.Errorf("got config path %q, want %q", evt.ConfigPath, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rename event")
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	w := newWatcher(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	// A change to another file in the same directory must not fire.
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(other, []byte("unrelated"), 0o644); err != nil {
		t.Fatalf("writing sibling file: %v", err)
	}

	select {
	case evt := <-w.Events():
		t.Errorf("unexpected event for sibling file: %+v", evt)
	case <-time.After(300 * time.Millisecond):
		// No event.
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("0"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	w, err := NewWatcher(WatcherConfig{
		ConfigPath: path,
		Debounce:   150 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	// A burst of rapid writes within the debounce window.
	for i := range 5 {
		if err := os.WriteFile(path, []byte{byte('0' + i)}, 0o644); err != nil {
			t.Fatalf("writing burst %d: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// One event for the burst.
	select {
	case <-w.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced event")
	}

	// And no second event after the channel drains.
	select {
	case evt := <-w.Events():
		t.Errorf("burst produced a second event: %+v", evt)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcher_Stop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	w := newWatcher(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// Stop should return promptly.
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}

func TestWatcher_ContextCancellation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	w := newWatcher(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	cancel()

	// Stop should still work after context cancellation.
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}

func TestWatcher_StopBeforeStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	w := newWatcher(t, path)

	// Stop before Start should not deadlock.
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop before Start deadlocked")
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{
		ConfigPath: "/nonexistent/dir/file.yaml",
	})
	if err == nil {
		t.Fatal("expected error for unwatchable directory")
	}
}
