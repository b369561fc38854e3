package api

import (
	"log"
	"sync"

	"github.com/samber/lo"

	"github.com/satindergrewal/twindeck/internal/analysis"
	"github.com/satindergrewal/twindeck/internal/autodj"
	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/queue"
)

// Publisher receives console events, typically the websocket hub.
type Publisher interface {
	Publish(typ string, data any)
}

// Event types published by Connect.
const (
	EventDeck     = "deck"
	EventQueue    = "queue"
	EventAutoDJ   = "autodj"
	EventAnalysis = "analysis"
)

// Connect forwards state changes to pub and keeps analysis in step with
// the decks: every newly ready source is analysed, and a finished estimate
// is written back to the deck still holding that source.
func (c Console) Connect(pub Publisher) {
	var (
		mu       sync.Mutex
		analysed = make(map[deck.ID]string)
	)

	for id, d := range c.Decks {
		d.Subscribe(func(snap deck.Snapshot) {
			pub.Publish(EventDeck, snap)
			if c.Analyzer == nil {
				return
			}

			mu.Lock()
			prev := analysed[id]
			switch {
			case snap.Loading || !snap.Ready:
				delete(analysed, id)
			case snap.SourceID != prev:
				analysed[id] = snap.SourceID
			}
			mu.Unlock()

			if snap.Loading && prev != "" {
				c.Analyzer.Cancel(id)
				return
			}
			if !snap.Ready || snap.SourceID == prev {
				return
			}
			buf := d.Buffer()
			if buf == nil {
				return
			}
			if err := c.Analyzer.Submit(id, snap.SourceID, buf); err != nil {
				log.Printf("Deck %s: analysis not started: %v", id, err)
			}
		})
	}

	if c.Queue != nil {
		c.Queue.Subscribe(func(ch queue.Change) {
			pub.Publish(EventQueue, ch)
		})
	}
	if c.AutoDJ != nil {
		c.AutoDJ.Subscribe(func(ev autodj.Event) {
			pub.Publish(EventAutoDJ, ev)
		})
	}
	if c.Analyzer != nil {
		c.Analyzer.Subscribe(func(res analysis.Result) {
			if res.Err != nil {
				log.Printf("Deck %s: analysis of %s failed: %v", res.Deck, res.SourceID, res.Err)
				return
			}
			if d, ok := c.Decks[res.Deck]; ok {
				d.SetTempo(res.SourceID, lo.FromPtr(res.Estimate.BPM), res.Estimate.Key)
			}
			pub.Publish(EventAnalysis, res)
		})
	}
}
