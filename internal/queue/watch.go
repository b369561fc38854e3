package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/satindergrewal/twindeck/internal/audio"
)

// AudioExtensions are the file types the drop folder picks up.
var AudioExtensions = []string{".mp3", ".wav", ".flac", ".ogg", ".m4a", ".aac"}

// IsAudioFile reports whether path has a playable extension.
func IsAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range AudioExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Watcher enqueues audio files dropped into a directory. A file is queued
// once it has stopped changing for the settle period.
type Watcher struct {
	dir    string
	queue  *Queue
	settle time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a drop-folder watcher feeding q.
func NewWatcher(dir string, q *Queue, settle time.Duration) *Watcher {
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	return &Watcher{dir: dir, queue: q, settle: settle, pending: make(map[string]*time.Timer)}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create drop folder %s: %w", w.dir, err)
	}
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	log.Printf("Watching drop folder %s", w.dir)

	defer w.stopPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsAudioFile(event.Name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.touch(event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.forget(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Drop folder watch error: %v", err)
		}
	}
}

func (w *Watcher) touch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.enqueue(path) })
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	_, ok := w.pending[path]
	delete(w.pending, path)
	w.mu.Unlock()
	if !ok {
		return
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	it, err := w.queue.Push(Item{Locator: path, Title: title, Kind: audio.SourceLocal})
	if err != nil {
		log.Printf("Drop folder: enqueue %s: %v", path, err)
		return
	}
	log.Printf("Queued %s (%s)", it.Title, it.ID)
}
