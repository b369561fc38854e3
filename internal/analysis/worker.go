package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/deck"
)

var ErrBusy = errors.New("analysis queue full")

// Result is a finished analysis.
type Result struct {
	Deck     deck.ID          `json:"deck"`
	SourceID string           `json:"source_id"`
	Estimate TempoKeyEstimate `json:"estimate"`
	Cached   bool             `json:"cached"`
	Err      error            `json:"-"`
}

type job struct {
	ctx      context.Context
	cancel   context.CancelFunc
	deck     deck.ID
	sourceID string
	buf      *audio.Buffer
}

// Analyzer runs estimates on a single background worker. A new submission
// for a deck cancels the one still pending or running for that deck.
type Analyzer struct {
	opts     Options
	store    *Store
	jobs     chan *job
	estimate func(ctx context.Context, frames [][2]float32, sampleRate int, opts Options) (TempoKeyEstimate, error)

	base   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	active map[deck.ID]*job

	subMu sync.RWMutex
	subs  []func(Result)
}

// NewAnalyzer creates an analyzer. store may be nil to disable caching.
func NewAnalyzer(opts Options, store *Store) *Analyzer {
	base, stop := context.WithCancel(context.Background())
	return &Analyzer{
		opts:     opts.withDefaults(),
		store:    store,
		jobs:     make(chan *job, 16),
		estimate: Estimate,
		base:     base,
		stop:     stop,
		active:   make(map[deck.ID]*job),
	}
}

// Subscribe registers fn for finished analyses. Cancelled runs are not
// reported.
func (a *Analyzer) Subscribe(fn func(Result)) {
	a.subMu.Lock()
	a.subs = append(a.subs, fn)
	a.subMu.Unlock()
}

func (a *Analyzer) publish(r Result) {
	a.subMu.RLock()
	defer a.subMu.RUnlock()
	for _, fn := range a.subs {
		fn(r)
	}
}

// Submit schedules analysis of buf for the deck, aborting any earlier
// analysis for the same deck.
func (a *Analyzer) Submit(id deck.ID, sourceID string, buf *audio.Buffer) error {
	if buf.Len() == 0 {
		return ErrNoAudio
	}
	if err := a.base.Err(); err != nil {
		return ErrAnalyzerClosed
	}

	ctx, cancel := context.WithCancel(a.base)
	a.mu.Lock()
	if prev := a.active[id]; prev != nil {
		prev.cancel()
	}
	j := &job{ctx: ctx, cancel: cancel, deck: id, sourceID: sourceID, buf: buf}
	a.active[id] = j
	a.mu.Unlock()

	select {
	case a.jobs <- j:
		return nil
	default:
		a.finish(j)
		return ErrBusy
	}
}

// Cancel aborts the analysis for a deck, if any.
func (a *Analyzer) Cancel(id deck.ID) {
	a.mu.Lock()
	if j := a.active[id]; j != nil {
		j.cancel()
		delete(a.active, id)
	}
	a.mu.Unlock()
}

// Lookup returns a cached estimate.
func (a *Analyzer) Lookup(sourceID string) (TempoKeyEstimate, error) {
	if a.store == nil {
		return TempoKeyEstimate{}, fmt.Errorf("%w: %s", ErrNotFound, sourceID)
	}
	return a.store.Get(sourceID)
}

// Close cancels all work. Run returns once its current job observes the
// cancellation.
func (a *Analyzer) Close() {
	a.stop()
}

// Run processes jobs until ctx is cancelled or Close is called.
func (a *Analyzer) Run(ctx context.Context) {
	log.Printf("Analyzer running (%.0f-%.0f BPM)", a.opts.MinBPM, a.opts.MaxBPM)
	for {
		select {
		case <-ctx.Done():
			a.stop()
			return
		case <-a.base.Done():
			return
		case j := <-a.jobs:
			a.process(j)
		}
	}
}

func (a *Analyzer) process(j *job) {
	defer a.finish(j)
	if j.ctx.Err() != nil {
		return
	}

	if a.store != nil && j.sourceID != "" {
		if est, err := a.store.Get(j.sourceID); err == nil {
			a.publish(Result{Deck: j.deck, SourceID: j.sourceID, Estimate: est, Cached: true})
			return
		}
	}

	start := time.Now()
	est, err := a.estimate(j.ctx, j.buf.Frames, j.buf.SampleRate, a.opts)
	if j.ctx.Err() != nil {
		log.Printf("Analysis for deck %s cancelled", j.deck)
		return
	}
	if err != nil {
		log.Printf("Analysis for deck %s failed: %v", j.deck, err)
		a.publish(Result{Deck: j.deck, SourceID: j.sourceID, Err: err})
		return
	}

	bpm := "?"
	if est.BPM != nil {
		bpm = fmt.Sprintf("%.1f", *est.BPM)
	}
	log.Printf("Analysed deck %s: %s BPM (%.2f), key %s in %s", j.deck, bpm, est.Confidence, est.Key, time.Since(start).Round(time.Millisecond))

	if a.store != nil && j.sourceID != "" {
		if err := a.store.Put(j.sourceID, est); err != nil {
			log.Printf("Analysis cache: %v", err)
		}
	}
	a.publish(Result{Deck: j.deck, SourceID: j.sourceID, Estimate: est})
}

func (a *Analyzer) finish(j *job) {
	j.cancel()
	a.mu.Lock()
	if a.active[j.deck] == j {
		delete(a.active, j.deck)
	}
	a.mu.Unlock()
}
