package autodj

import (
	"fmt"
	"time"

	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/queue"
)

// ActionKind is a side effect the machine performs for a decision.
type ActionKind string

const (
	ActionPopQueue      ActionKind = "pop"
	ActionCue           ActionKind = "cue"
	ActionLoad          ActionKind = "load"
	ActionPlay          ActionKind = "play"
	ActionPause         ActionKind = "pause"
	ActionSetCrossfader ActionKind = "crossfader"
)

// Action is one side effect.
type Action struct {
	Kind     ActionKind
	Deck     deck.ID
	Item     queue.Item
	Position float64
}

// EventType labels a transaction event.
type EventType string

const (
	EventPreloading EventType = "preloading"
	EventReady      EventType = "ready"
	EventPlaying    EventType = "playing"
	EventMixing     EventType = "mixing"
	EventComplete   EventType = "complete"
	EventCancelled  EventType = "cancelled"
	EventFailed     EventType = "failed"
	EventTimeout    EventType = "timeout"
	EventAutoStart  EventType = "autostart"
)

// Event describes a transaction change.
type Event struct {
	Type   EventType  `json:"type"`
	TxID   string     `json:"tx_id,omitempty"`
	Stage  Stage      `json:"stage,omitempty"`
	Source deck.ID    `json:"source,omitempty"`
	Target deck.ID    `json:"target,omitempty"`
	Item   queue.Item `json:"item"`
	Reason string     `json:"reason,omitempty"`
	At     time.Time  `json:"at"`
}

func newEvent(typ EventType, tx *Transaction, at time.Time) Event {
	ev := Event{Type: typ, At: at}
	if tx != nil {
		ev.TxID = tx.ID
		ev.Stage = tx.Stage
		ev.Source = tx.Source
		ev.Target = tx.Target
		ev.Item = tx.Item
	}
	return ev
}

// Decision is the outcome of one tick: the next transaction (nil = idle),
// the side effects to apply and the events to publish.
type Decision struct {
	Next    *Transaction
	Actions []Action
	Events  []Event
	// Err is set when the transaction was abandoned because of a failure.
	Err error
}

// Step advances tx by one tick.
func Step(tx *Transaction, c Context) Decision {
	if tx == nil {
		return stepIdle(c)
	}

	target := c.Decks[tx.Target]
	if IsTransactionTimedOut(tx, c.Now, c.Config.Timeout) {
		d := Decision{Events: []Event{newEvent(EventTimeout, tx, c.Now)}}
		d.Events[0].Reason = fmt.Sprintf("stuck in %s for %s", tx.Stage, c.Now.Sub(tx.StageEnteredAt).Round(time.Millisecond))
		if tx.Stage == StagePlaying {
			d.Actions = []Action{{Kind: ActionPause, Deck: tx.Target}}
		}
		return d
	}

	switch tx.Stage {
	case StagePreloading:
		if target.Error != "" && !target.Loading && !target.Ready {
			err := &PreloadFailedError{Locator: tx.Item.Locator, Reason: target.Error}
			ev := newEvent(EventFailed, tx, c.Now)
			ev.Reason = err.Error()
			return Decision{Events: []Event{ev}, Err: err}
		}
		if !ShouldAdvanceToReady(tx, target) {
			return Decision{Next: tx}
		}
		ready, _ := Transition(tx, StageReady, c.Now)
		d := Decision{Next: ready, Events: []Event{newEvent(EventReady, ready, c.Now)}}
		if ShouldStartTarget(ready, target) {
			playing, _ := Transition(ready, StagePlaying, c.Now)
			d.Next = playing
			d.Actions = append(d.Actions, Action{Kind: ActionPlay, Deck: tx.Target})
			d.Events = append(d.Events, newEvent(EventPlaying, playing, c.Now))
		}
		return d

	case StageReady:
		if !ShouldStartTarget(tx, target) {
			return Decision{Next: tx}
		}
		playing, _ := Transition(tx, StagePlaying, c.Now)
		return Decision{
			Next:    playing,
			Actions: []Action{{Kind: ActionPlay, Deck: tx.Target}},
			Events:  []Event{newEvent(EventPlaying, playing, c.Now)},
		}

	case StagePlaying:
		if !ShouldBeginMix(tx, target) {
			return Decision{Next: tx}
		}
		mixing, _ := Transition(tx, StageMixing, c.Now)
		mixing.MixStartedAt = c.Now
		mixing.MixFrom = c.Crossfader
		return Decision{
			Next:    mixing,
			Actions: []Action{{Kind: ActionSetCrossfader, Position: MixPosition(mixing, c.Now, c.Config)}},
			Events:  []Event{newEvent(EventMixing, mixing, c.Now)},
		}

	case StageMixing:
		if IsMixComplete(tx, c.Now, c.Config) {
			return Decision{
				Actions: []Action{
					{Kind: ActionSetCrossfader, Position: MixEnd(tx.Target)},
					{Kind: ActionPause, Deck: tx.Source},
				},
				Events: []Event{newEvent(EventComplete, tx, c.Now)},
			}
		}
		return Decision{
			Next:    tx,
			Actions: []Action{{Kind: ActionSetCrossfader, Position: MixPosition(tx, c.Now, c.Config)}},
		}
	}
	return Decision{Next: tx}
}

func stepIdle(c Context) Decision {
	switch {
	case ShouldPreload(nil, c):
		tx, err := BeginPreload(nil, c)
		if err != nil {
			return Decision{Err: err}
		}
		return Decision{
			Next: tx,
			Actions: []Action{
				{Kind: ActionPopQueue, Item: tx.Item},
				{Kind: ActionCue, Deck: tx.Target, Item: tx.Item},
			},
			Events: []Event{newEvent(EventPreloading, tx, c.Now)},
		}

	case ShouldAutoStart(nil, c):
		id := deck.A
		if c.Crossfader > 0 {
			id = deck.B
		}
		ev := Event{Type: EventAutoStart, Target: id, Item: *c.QueueHead, At: c.Now}
		return Decision{
			Actions: []Action{
				{Kind: ActionPopQueue, Item: *c.QueueHead},
				{Kind: ActionLoad, Deck: id, Item: *c.QueueHead},
			},
			Events: []Event{ev},
		}
	}
	return Decision{}
}
