package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/twindeck/internal/audio"
)

func TestPushAssignsIDAndDefaults(t *testing.T) {
	q := New()
	it, err := q.Push(Item{Locator: "a.mp3"})
	if err != nil {
		t.Fatal(err)
	}
	if it.ID == "" || it.AddedAt.IsZero() || it.Kind != audio.SourceLocal {
		t.Errorf("Push = %+v", it)
	}
	if _, err := q.Push(Item{}); !errors.Is(err, ErrEmptyLocator) {
		t.Errorf("err = %v, want ErrEmptyLocator", err)
	}
}

func TestFIFOOrder(t *testing.T) {
	q := New()
	for _, loc := range []string{"1", "2", "3"} {
		q.Push(Item{Locator: loc})
	}
	if head, ok := q.Peek(); !ok || head.Locator != "1" {
		t.Errorf("Peek = %+v, %v", head, ok)
	}
	for _, want := range []string{"1", "2", "3"} {
		it, err := q.Pop()
		if err != nil || it.Locator != want {
			t.Errorf("Pop = %+v, %v, want %s", it, err, want)
		}
	}
	if _, err := q.Pop(); !errors.Is(err, ErrEmpty) {
		t.Errorf("Pop on empty: %v", err)
	}
	if _, ok := q.Peek(); ok {
		t.Error("Peek on empty returned ok")
	}
}

func TestRemoveAndContains(t *testing.T) {
	q := New()
	a, _ := q.Push(Item{Locator: "a"})
	b, _ := q.Push(Item{Locator: "b"})

	if !q.Contains(a.ID) {
		t.Error("Contains(a) = false")
	}
	if err := q.Remove(a.ID); err != nil {
		t.Fatal(err)
	}
	if q.Contains(a.ID) || !q.Contains(b.ID) || q.Len() != 1 {
		t.Errorf("after remove: items = %+v", q.Items())
	}
	if err := q.Remove(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove err = %v", err)
	}
}

func TestSubscribeSeesChanges(t *testing.T) {
	q := New()
	var changes []Change
	q.Subscribe(func(c Change) { changes = append(changes, c) })

	a, _ := q.Push(Item{Locator: "a"})
	q.Push(Item{Locator: "b"})
	q.Pop()
	q.Clear()

	if len(changes) != 4 {
		t.Fatalf("got %d changes, want 4", len(changes))
	}
	if changes[0].Added[0] != a.ID || len(changes[0].Items) != 1 {
		t.Errorf("push change = %+v", changes[0])
	}
	if changes[2].Removed[0] != a.ID {
		t.Errorf("pop change = %+v", changes[2])
	}
	if len(changes[3].Removed) != 1 || len(changes[3].Items) != 0 {
		t.Errorf("clear change = %+v", changes[3])
	}
}

func TestItemKey(t *testing.T) {
	if k := (Item{ID: "q1"}).Key(); k != "q1" {
		t.Errorf("Key = %q, want q1", k)
	}
	if k := (Item{ID: "q1", SourceID: "yt:abc"}).Key(); k != "yt:abc" {
		t.Errorf("Key = %q, want yt:abc", k)
	}
}

func TestIsAudioFile(t *testing.T) {
	tests := map[string]bool{
		"song.mp3":     true,
		"SONG.WAV":     true,
		"a/b/c.flac":   true,
		"notes.txt":    false,
		"mp3":          false,
		"partial.mp3~": false,
	}
	for in, want := range tests {
		if got := IsAudioFile(in); got != want {
			t.Errorf("IsAudioFile(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWatcherQueuesDroppedFiles(t *testing.T) {
	dir := t.TempDir()
	q := New()
	added := make(chan Item, 4)
	var once sync.Once
	q.Subscribe(func(c Change) {
		if len(c.Added) > 0 {
			once.Do(func() { added <- c.Items[len(c.Items)-1] })
		}
	})

	w := NewWatcher(dir, q, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644)
	path := filepath.Join(dir, "Night Drive.mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case it := <-added:
		if it.Locator != path || it.Title != "Night Drive" {
			t.Errorf("queued %+v", it)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("dropped file was not queued")
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run: %v", err)
	}
}
