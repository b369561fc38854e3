// Package queue holds the upcoming-track FIFO that Auto DJ consumes.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/satindergrewal/twindeck/internal/audio"
)

var (
	ErrEmpty        = errors.New("queue is empty")
	ErrNotFound     = errors.New("queue item not found")
	ErrEmptyLocator = errors.New("queue item has no locator")
)

// Item is one queued track.
type Item struct {
	ID       string           `json:"id"`
	SourceID string           `json:"source_id,omitempty"`
	Locator  string           `json:"locator"`
	Title    string           `json:"title,omitempty"`
	Author   string           `json:"author,omitempty"`
	Kind     audio.SourceKind `json:"kind"`
	AddedAt  time.Time        `json:"added_at"`
}

// Key identifies the source a deck should report once the item is loaded:
// the catalog source id when known, else the queue id.
func (it Item) Key() string {
	if it.SourceID != "" {
		return it.SourceID
	}
	return it.ID
}

// Change describes one mutation of the queue.
type Change struct {
	Items   []Item   `json:"items"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Queue is a FIFO safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []Item

	subMu sync.RWMutex
	subs  []func(Change)
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Subscribe registers fn for every change. fn runs after the queue lock is
// released and must not block.
func (q *Queue) Subscribe(fn func(Change)) {
	q.subMu.Lock()
	q.subs = append(q.subs, fn)
	q.subMu.Unlock()
}

func (q *Queue) publish(c Change) {
	q.subMu.RLock()
	defer q.subMu.RUnlock()
	for _, fn := range q.subs {
		fn(c)
	}
}

// Push appends an item, assigning an id and timestamp when missing.
func (q *Queue) Push(it Item) (Item, error) {
	if it.Locator == "" {
		return Item{}, ErrEmptyLocator
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.Kind == "" {
		it.Kind = audio.SourceLocal
	}
	if it.AddedAt.IsZero() {
		it.AddedAt = time.Now()
	}
	q.mu.Lock()
	q.items = append(q.items, it)
	items := q.snapshotLocked()
	q.mu.Unlock()

	q.publish(Change{Items: items, Added: []string{it.ID}})
	return it, nil
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Pop removes and returns the head.
func (q *Queue) Pop() (Item, error) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return Item{}, ErrEmpty
	}
	it := q.items[0]
	q.items = q.items[1:]
	items := q.snapshotLocked()
	q.mu.Unlock()

	q.publish(Change{Items: items, Removed: []string{it.ID}})
	return it, nil
}

// Remove deletes the item with the given id.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	before := len(q.items)
	q.items = lo.Filter(q.items, func(it Item, _ int) bool { return it.ID != id })
	if len(q.items) == before {
		q.mu.Unlock()
		return ErrNotFound
	}
	items := q.snapshotLocked()
	q.mu.Unlock()

	q.publish(Change{Items: items, Removed: []string{id}})
	return nil
}

// Clear removes every item.
func (q *Queue) Clear() {
	q.mu.Lock()
	removed := lo.Map(q.items, func(it Item, _ int) string { return it.ID })
	q.items = nil
	q.mu.Unlock()

	if len(removed) > 0 {
		q.publish(Change{Items: []Item{}, Removed: removed})
	}
}

// Contains reports whether an item with id is still queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return lo.ContainsBy(q.items, func(it Item) bool { return it.ID == id })
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the queue in order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() []Item {
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}
