// Package deck implements the two playback decks: the per-deck audio graph
// and the control surface the API and Auto DJ drive it through.
package deck

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/effects"
)

var (
	ErrDeckNotReady  = errors.New("deck not ready")
	ErrUnknownDeck   = errors.New("unknown deck")
	ErrUnknownEffect = errors.New("unknown effect")
	ErrEmptyLocator  = errors.New("empty source locator")
)

const (
	MinRate = 0.5
	MaxRate = 1.5

	// snapshotInterval throttles position updates published while playing.
	snapshotInterval = 250 * time.Millisecond
)

// ID names a deck.
type ID string

const (
	A ID = "A"
	B ID = "B"
)

// Opposite returns the other deck.
func (id ID) Opposite() ID {
	if id == A {
		return B
	}
	return A
}

// ParseID accepts "a", "A", "b", "B".
func ParseID(s string) (ID, error) {
	switch ID(strings.ToUpper(s)) {
	case A:
		return A, nil
	case B:
		return B, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDeck, s)
}

// Loader resolves and decodes a source.
type Loader interface {
	Load(ctx context.Context, locator string, kind audio.SourceKind) (*audio.Buffer, error)
}

// Metadata describes the loaded track.
type Metadata struct {
	SourceID string  `json:"source_id"`
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	BPM      float64 `json:"bpm,omitempty"`
	Key      string  `json:"key,omitempty"`
}

// Snapshot is the observable state of a deck.
type Snapshot struct {
	Deck         ID               `json:"deck"`
	Ready        bool             `json:"ready"`
	Playing      bool             `json:"playing"`
	Loading      bool             `json:"loading"`
	Position     time.Duration    `json:"position"`
	Duration     time.Duration    `json:"duration"`
	Rate         float64          `json:"rate"`
	EffectiveBPM float64          `json:"effective_bpm,omitempty"`
	SourceID     string           `json:"source_id,omitempty"`
	Locator      string           `json:"locator,omitempty"`
	Kind         audio.SourceKind `json:"kind,omitempty"`
	Meta         Metadata         `json:"meta"`
	EQ           EQ               `json:"eq"`
	Effect       EffectSettings   `json:"effect"`
	Gain         float64          `json:"gain"`
	Error        string           `json:"error,omitempty"`
}

// Remaining is the wall-clock time left at the current rate.
func (s Snapshot) Remaining() time.Duration {
	left := s.Duration - s.Position
	if left <= 0 {
		return 0
	}
	rate := s.Rate
	if rate <= 0 {
		rate = 1
	}
	return time.Duration(float64(left) / rate)
}

// Option configures a Deck.
type Option func(*Deck)

// WithLoadTimeout bounds how long a source may take to resolve and decode.
func WithLoadTimeout(d time.Duration) Option {
	return func(dk *Deck) { dk.loadTimeout = d }
}

// Deck owns one graph and the playback cursor feeding it. All methods are
// safe for concurrent use; Render is called from the engine loop.
type Deck struct {
	id          ID
	loader      Loader
	sampleRate  float64
	loadTimeout time.Duration

	mu         sync.Mutex
	graph      *Graph
	buf        *audio.Buffer
	pos        float64
	rate       float64
	playing    bool
	ready      bool
	loading    bool
	loadErr    error
	locator    string
	kind       audio.SourceKind
	meta       Metadata
	gen        uint64
	cancelLoad context.CancelFunc
	sinceNote  time.Duration

	subMu  sync.RWMutex
	subs   map[int]func(Snapshot)
	nextID int
}

// New creates an empty deck rendering at sampleRate.
func New(id ID, loader Loader, sampleRate float64, opts ...Option) *Deck {
	d := &Deck{
		id:          id,
		loader:      loader,
		sampleRate:  sampleRate,
		loadTimeout: 60 * time.Second,
		graph:       NewGraph(sampleRate),
		rate:        1,
		subs:        make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ID returns the deck id.
func (d *Deck) ID() ID { return d.id }

// Subscribe registers fn to receive a snapshot on every change. The returned
// func unsubscribes. fn must not block.
func (d *Deck) Subscribe(fn func(Snapshot)) func() {
	d.subMu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.subMu.Unlock()
	return func() {
		d.subMu.Lock()
		delete(d.subs, id)
		d.subMu.Unlock()
	}
}

func (d *Deck) notify() {
	snap := d.Snapshot()
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	for _, fn := range d.subs {
		fn(snap)
	}
}

// LoadSource replaces the current source and starts playback once loaded.
func (d *Deck) LoadSource(ctx context.Context, locator string, kind audio.SourceKind, meta Metadata) error {
	return d.load(ctx, locator, kind, meta, true)
}

// CueSource replaces the current source without starting playback.
func (d *Deck) CueSource(ctx context.Context, locator string, kind audio.SourceKind, meta Metadata) error {
	return d.load(ctx, locator, kind, meta, false)
}

// load tears the graph down immediately, then resolves and decodes in the
// background. A newer load supersedes an older one still in flight.
func (d *Deck) load(ctx context.Context, locator string, kind audio.SourceKind, meta Metadata, autoPlay bool) error {
	if locator == "" {
		return ErrEmptyLocator
	}
	if kind == "" {
		kind = audio.SourceLocal
	}

	d.mu.Lock()
	if d.cancelLoad != nil {
		d.cancelLoad()
	}
	d.gen++
	gen := d.gen
	d.graph.Teardown()
	d.buf = nil
	d.pos = 0
	d.playing = false
	d.ready = false
	d.loading = true
	d.loadErr = nil
	d.locator = locator
	d.kind = kind
	d.meta = meta
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.loadTimeout)
	d.cancelLoad = cancel
	d.mu.Unlock()
	d.notify()

	go func() {
		defer cancel()
		buf, err := d.loader.Load(loadCtx, locator, kind)

		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.loading = false
		d.cancelLoad = nil
		if err != nil {
			d.loadErr = err
			d.mu.Unlock()
			log.Printf("Deck %s: load failed: %v", d.id, err)
			d.notify()
			return
		}
		d.buf = buf
		d.graph.Attach()
		d.ready = true
		d.playing = autoPlay
		d.mu.Unlock()
		log.Printf("Deck %s: loaded %s", d.id, locator)
		d.notify()
	}()
	return nil
}

// Eject releases the source and returns the deck to its empty state.
func (d *Deck) Eject() {
	d.mu.Lock()
	if d.cancelLoad != nil {
		d.cancelLoad()
		d.cancelLoad = nil
	}
	d.gen++
	d.graph.Teardown()
	d.buf = nil
	d.pos = 0
	d.playing = false
	d.ready = false
	d.loading = false
	d.loadErr = nil
	d.locator = ""
	d.kind = ""
	d.meta = Metadata{}
	d.mu.Unlock()
	d.notify()
}

// Play starts playback. Playing from the end restarts the track.
func (d *Deck) Play() error {
	d.mu.Lock()
	if !d.ready {
		d.mu.Unlock()
		return fmt.Errorf("deck %s: play: %w", d.id, ErrDeckNotReady)
	}
	if d.pos >= float64(d.buf.Len()) {
		d.pos = 0
	}
	d.playing = true
	d.mu.Unlock()
	d.notify()
	return nil
}

// Pause stops playback, keeping the position.
func (d *Deck) Pause() error {
	d.mu.Lock()
	if !d.ready {
		d.mu.Unlock()
		return fmt.Errorf("deck %s: pause: %w", d.id, ErrDeckNotReady)
	}
	d.playing = false
	d.mu.Unlock()
	d.notify()
	return nil
}

// Seek moves the playback position, clamped to the track.
func (d *Deck) Seek(at time.Duration) error {
	d.mu.Lock()
	if !d.ready {
		d.mu.Unlock()
		return fmt.Errorf("deck %s: seek: %w", d.id, ErrDeckNotReady)
	}
	frame := at.Seconds() * float64(d.buf.SampleRate)
	d.pos = lo.Clamp(frame, 0, float64(d.buf.Len()))
	d.mu.Unlock()
	d.notify()
	return nil
}

// SetPlaybackRate sets the tempo multiplier, clamped to [MinRate, MaxRate],
// and returns the applied value.
func (d *Deck) SetPlaybackRate(rate float64) float64 {
	if math.IsNaN(rate) {
		rate = 1
	}
	rate = lo.Clamp(rate, MinRate, MaxRate)
	d.mu.Lock()
	d.rate = rate
	d.mu.Unlock()
	d.notify()
	return rate
}

// SetEQ ramps the tone section.
func (d *Deck) SetEQ(eq EQ) {
	d.mu.Lock()
	d.graph.SetEQ(eq)
	d.mu.Unlock()
	d.notify()
}

// SetEffect selects the insert effect. "" or "none" bypasses.
func (d *Deck) SetEffect(name string, intensity, wet float64) error {
	var kind effects.Kind
	if n := strings.ToLower(strings.TrimSpace(name)); n != "" && n != "none" && n != "bypass" {
		k, ok := effects.ParseKind(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownEffect, name)
		}
		kind = k
	}
	d.mu.Lock()
	d.graph.SetEffect(EffectSettings{Kind: kind, Intensity: intensity, Wet: wet})
	d.mu.Unlock()
	d.notify()
	return nil
}

// SetOutputGain ramps the deck output gain. The mixer calls this every
// control tick.
func (d *Deck) SetOutputGain(g float64) {
	d.mu.Lock()
	d.graph.SetGain(g)
	d.mu.Unlock()
}

// SetTempo records an analysed BPM for the loaded source.
func (d *Deck) SetTempo(sourceID string, bpm float64, key string) {
	d.mu.Lock()
	if d.meta.SourceID != sourceID {
		d.mu.Unlock()
		return
	}
	d.meta.BPM = bpm
	d.meta.Key = key
	d.mu.Unlock()
	d.notify()
}

// Buffer returns the loaded audio, nil when not ready.
func (d *Deck) Buffer() *audio.Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return nil
	}
	return d.buf
}

// Snapshot returns the current state.
func (d *Deck) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Deck) snapshotLocked() Snapshot {
	s := Snapshot{
		Deck:     d.id,
		Ready:    d.ready,
		Playing:  d.playing,
		Loading:  d.loading,
		Rate:     d.rate,
		SourceID: d.meta.SourceID,
		Locator:  d.locator,
		Kind:     d.kind,
		Meta:     d.meta,
		EQ:       d.graph.EQ(),
		Effect:   d.graph.Effect(),
		Gain:     d.graph.Gain(),
	}
	if d.buf != nil && d.buf.SampleRate > 0 {
		sr := float64(d.buf.SampleRate)
		s.Position = time.Duration(d.pos * float64(time.Second) / sr)
		s.Duration = d.buf.Duration()
	}
	if d.meta.BPM > 0 {
		s.EffectiveBPM = d.meta.BPM * d.rate
	}
	if d.loadErr != nil {
		s.Error = d.loadErr.Error()
	}
	return s
}

// Render fills l and r with the next block of this deck's output. The
// buffers are overwritten.
func (d *Deck) Render(l, r []float64) {
	d.mu.Lock()
	clear(l)
	clear(r)
	if !d.graph.Attached() {
		d.mu.Unlock()
		return
	}

	ended := false
	if d.playing && d.buf != nil {
		ended = d.readLocked(l, r)
	}
	d.graph.Process(l, r)

	publish := ended
	if d.playing {
		d.sinceNote += time.Duration(float64(len(l)) / d.sampleRate * float64(time.Second))
		if d.sinceNote >= snapshotInterval {
			d.sinceNote = 0
			publish = true
		}
	}
	d.mu.Unlock()

	if publish {
		d.notify()
	}
}

// readLocked copies source frames at the current rate with linear
// interpolation. It reports whether the end of the track was reached.
func (d *Deck) readLocked(l, r []float64) bool {
	frames := d.buf.Frames
	n := len(frames)
	step := d.rate * float64(d.buf.SampleRate) / d.sampleRate
	for i := range l {
		idx := int(d.pos)
		if idx >= n {
			d.pos = float64(n)
			d.playing = false
			return true
		}
		frac := float32(d.pos - float64(idx))
		cur := frames[idx]
		next := cur
		if idx+1 < n {
			next = frames[idx+1]
		}
		l[i] = float64(cur[0] + (next[0]-cur[0])*frac)
		r[i] = float64(cur[1] + (next[1]-cur[1])*frac)
		d.pos += step
	}
	return false
}
