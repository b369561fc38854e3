package autodj

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/queue"
)

// Deck is the control surface the machine drives.
type Deck interface {
	Snapshot() deck.Snapshot
	LoadSource(ctx context.Context, locator string, kind audio.SourceKind, meta deck.Metadata) error
	CueSource(ctx context.Context, locator string, kind audio.SourceKind, meta deck.Metadata) error
	Play() error
	Pause() error
}

// Queue is the upcoming-track source.
type Queue interface {
	Peek() (queue.Item, bool)
	Pop() (queue.Item, error)
	Len() int
}

// Crossfader is the only mixer control the machine writes.
type Crossfader interface {
	Position() float64
	SetPosition(p float64)
}

// Status is the machine state exposed to the API.
type Status struct {
	Enabled     bool         `json:"enabled"`
	Transaction *Transaction `json:"transaction"`
	Config      Config       `json:"config"`
	LastError   string       `json:"last_error,omitempty"`
}

// Machine owns the single Auto DJ transaction and applies Step decisions to
// the decks. Queue and deck subscribers must not call back into the machine
// synchronously.
type Machine struct {
	decks map[deck.ID]Deck
	queue Queue
	fader Crossfader
	now   func() time.Time

	mu      sync.Mutex
	cfg     Config
	tx      *Transaction
	enabled bool
	lastErr error

	subMu sync.RWMutex
	subs  []func(Event)
}

// NewMachine creates a disabled machine.
func NewMachine(decks map[deck.ID]Deck, q Queue, fader Crossfader, cfg Config) *Machine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Machine{
		decks: decks,
		queue: q,
		fader: fader,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Subscribe registers fn for transaction events. fn must not block.
func (m *Machine) Subscribe(fn func(Event)) {
	m.subMu.Lock()
	m.subs = append(m.subs, fn)
	m.subMu.Unlock()
}

func (m *Machine) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, ev := range events {
		for _, fn := range m.subs {
			fn(ev)
		}
	}
}

// Enabled reports whether Auto DJ is on.
func (m *Machine) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// SetEnabled turns Auto DJ on or off. Turning it off drops any transaction.
func (m *Machine) SetEnabled(on bool) {
	m.mu.Lock()
	m.enabled = on
	var events []Event
	if !on && m.tx != nil {
		ev := newEvent(EventCancelled, m.tx, m.now())
		ev.Reason = "auto dj disabled"
		events = append(events, ev)
		m.tx = nil
	}
	m.mu.Unlock()
	log.Printf("Auto DJ enabled: %v", on)
	m.publish(events)
}

// Config returns the current timings.
func (m *Machine) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// SetConfig replaces the timings. A zero poll interval keeps the old one.
func (m *Machine) SetConfig(cfg Config) {
	m.mu.Lock()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = m.cfg.PollInterval
	}
	m.cfg = cfg
	m.mu.Unlock()
}

// Transaction returns a copy of the active transaction, nil when idle.
func (m *Machine) Transaction() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTx(m.tx)
}

// Status returns the machine state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{Enabled: m.enabled, Transaction: copyTx(m.tx), Config: m.cfg}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func copyTx(tx *Transaction) *Transaction {
	if tx == nil {
		return nil
	}
	c := *tx
	return &c
}

// Cancel drops the transaction with the given id.
func (m *Machine) Cancel(id string) error {
	m.mu.Lock()
	if m.tx == nil || m.tx.ID != id {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStaleTransaction, id)
	}
	ev := newEvent(EventCancelled, m.tx, m.now())
	ev.Reason = "cancelled"
	m.tx = nil
	m.mu.Unlock()
	m.publish([]Event{ev})
	return nil
}

// NotifyManualLoad tells the machine the user loaded a track onto id. It
// reports whether the transaction was cancelled.
func (m *Machine) NotifyManualLoad(id deck.ID) bool {
	m.mu.Lock()
	if !ShouldCancelOnManualLoad(m.tx, id) {
		m.mu.Unlock()
		return false
	}
	ev := newEvent(EventCancelled, m.tx, m.now())
	ev.Reason = fmt.Sprintf("manual load on deck %s", id)
	m.tx = nil
	m.mu.Unlock()
	log.Printf("Auto DJ: %s", ev.Reason)
	m.publish([]Event{ev})
	return true
}

// NotifyQueueChange tells the machine items were removed from the queue. It
// reports whether the transaction was cancelled.
func (m *Machine) NotifyQueueChange(c queue.Change) bool {
	m.mu.Lock()
	if !ShouldCancelOnQueueChange(m.tx, c.Removed) {
		m.mu.Unlock()
		return false
	}
	ev := newEvent(EventCancelled, m.tx, m.now())
	ev.Reason = "queued item removed"
	m.tx = nil
	m.mu.Unlock()
	log.Printf("Auto DJ: %s", ev.Reason)
	m.publish([]Event{ev})
	return true
}

// MixNow starts a preload immediately regardless of the lead time. A
// disabled machine refuses, since it would never time the transaction out.
func (m *Machine) MixNow(ctx context.Context) (*Transaction, error) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return nil, fmt.Errorf("mix now: auto dj disabled: %w", ErrInvalidTransition)
	}
	c := m.contextLocked()
	tx, err := BeginPreload(m.tx, c)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	d := Decision{
		Next: tx,
		Actions: []Action{
			{Kind: ActionPopQueue, Item: tx.Item},
			{Kind: ActionCue, Deck: tx.Target, Item: tx.Item},
		},
		Events: []Event{newEvent(EventPreloading, tx, c.Now)},
	}
	events, err := m.applyLocked(ctx, d)
	out := copyTx(m.tx)
	m.mu.Unlock()
	m.publish(events)
	return out, err
}

// Tick runs one decision step.
func (m *Machine) Tick(ctx context.Context) error {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return nil
	}
	d := Step(m.tx, m.contextLocked())
	events, err := m.applyLocked(ctx, d)
	m.mu.Unlock()
	m.publish(events)
	return err
}

// Run ticks until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Config().PollInterval)
	defer ticker.Stop()

	log.Printf("Auto DJ running (poll %s)", m.Config().PollInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				log.Printf("Auto DJ: %v", err)
			}
		}
	}
}

func (m *Machine) contextLocked() Context {
	c := Context{
		Now:        m.now(),
		Decks:      make(map[deck.ID]deck.Snapshot, len(m.decks)),
		QueueLen:   m.queue.Len(),
		Crossfader: m.fader.Position(),
		Config:     m.cfg,
	}
	for id, d := range m.decks {
		c.Decks[id] = d.Snapshot()
	}
	if head, ok := m.queue.Peek(); ok {
		c.QueueHead = &head
	}
	return c
}

// applyLocked installs d.Next and performs its actions. An action failure
// abandons the transaction.
func (m *Machine) applyLocked(ctx context.Context, d Decision) ([]Event, error) {
	m.tx = d.Next
	events := d.Events
	err := d.Err

	for _, a := range d.Actions {
		if aerr := m.doLocked(ctx, a); aerr != nil {
			err = aerr
			ev := newEvent(EventFailed, m.tx, m.now())
			ev.Reason = aerr.Error()
			events = append(events, ev)
			m.tx = nil
			break
		}
	}
	if err != nil {
		m.lastErr = err
	}
	return events, err
}

func (m *Machine) doLocked(ctx context.Context, a Action) error {
	switch a.Kind {
	case ActionPopQueue:
		it, err := m.queue.Pop()
		if errors.Is(err, queue.ErrEmpty) {
			return ErrQueueEmpty
		}
		if err != nil {
			return err
		}
		if it.ID != a.Item.ID {
			return fmt.Errorf("%w: queue head changed to %s", ErrStaleTransaction, it.ID)
		}
		return nil

	case ActionCue, ActionLoad:
		d, err := m.deck(a.Deck)
		if err != nil {
			return err
		}
		meta := deck.Metadata{SourceID: a.Item.Key(), Title: a.Item.Title, Author: a.Item.Author}
		load := d.CueSource
		if a.Kind == ActionLoad {
			load = d.LoadSource
		}
		if err := load(ctx, a.Item.Locator, a.Item.Kind, meta); err != nil {
			return &PreloadFailedError{Locator: a.Item.Locator, Reason: err.Error()}
		}
		return nil

	case ActionPlay:
		d, err := m.deck(a.Deck)
		if err != nil {
			return err
		}
		return d.Play()

	case ActionPause:
		d, err := m.deck(a.Deck)
		if err != nil {
			return err
		}
		if err := d.Pause(); err != nil && !errors.Is(err, deck.ErrDeckNotReady) {
			return err
		}
		return nil

	case ActionSetCrossfader:
		m.fader.SetPosition(a.Position)
		return nil
	}
	return fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, a.Kind)
}

func (m *Machine) deck(id deck.ID) (Deck, error) {
	d, ok := m.decks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", deck.ErrUnknownDeck, id)
	}
	return d, nil
}
