// Package autodj sequences unattended handoffs between the two decks.
//
// Each handoff is a Transaction that walks PRELOADING → READY → PLAYING →
// MIXING and is cleared on completion. Every decision is a pure function of
// the current transaction and a Context snapshot; Machine applies the
// resulting actions to the real decks on a ticker.
package autodj

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/queue"
)

// Stage is the phase of a transaction.
type Stage string

const (
	StagePreloading Stage = "preloading"
	StageReady      Stage = "ready"
	StagePlaying    Stage = "playing"
	StageMixing     Stage = "mixing"
)

// Easing shapes the crossfader motion during a mix.
type Easing string

const (
	EaseSmoothstep Easing = "smoothstep"
	EaseLinear     Easing = "linear"
)

// Config tunes the machine.
type Config struct {
	// LeadTime is the remaining play time on the live deck that triggers a
	// preload.
	LeadTime     time.Duration `json:"lead_time"`
	MixDuration  time.Duration `json:"mix_duration"`
	Timeout      time.Duration `json:"timeout"`
	PollInterval time.Duration `json:"poll_interval"`
	Easing       Easing        `json:"easing"`
	// AutoStart loads the queue head when nothing is playing.
	AutoStart bool `json:"auto_start"`
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		LeadTime:     12 * time.Second,
		MixDuration:  8 * time.Second,
		Timeout:      30 * time.Second,
		PollInterval: 100 * time.Millisecond,
		Easing:       EaseSmoothstep,
		AutoStart:    true,
	}
}

// Transaction is one in-flight handoff from Source to Target.
type Transaction struct {
	ID             string     `json:"id"`
	Stage          Stage      `json:"stage"`
	Target         deck.ID    `json:"target"`
	Source         deck.ID    `json:"source"`
	Item           queue.Item `json:"item"`
	StartedAt      time.Time  `json:"started_at"`
	StageEnteredAt time.Time  `json:"stage_entered_at"`
	MixStartedAt   time.Time  `json:"mix_started_at,omitzero"`
	MixFrom        float64    `json:"mix_from"`
}

// Context is everything a decision may look at.
type Context struct {
	Now        time.Time
	Decks      map[deck.ID]deck.Snapshot
	QueueHead  *queue.Item
	QueueLen   int
	Crossfader float64
	Config     Config
}

// PlayingDeck returns the live deck. When both play, the one the crossfader
// favours wins.
func PlayingDeck(c Context) (deck.ID, bool) {
	a, b := c.Decks[deck.A].Playing, c.Decks[deck.B].Playing
	switch {
	case a && b:
		if c.Crossfader > 0 {
			return deck.B, true
		}
		return deck.A, true
	case a:
		return deck.A, true
	case b:
		return deck.B, true
	}
	return "", false
}

// ShouldPreload reports whether an idle machine should cue the next item.
func ShouldPreload(tx *Transaction, c Context) bool {
	if tx != nil || c.QueueLen == 0 || c.QueueHead == nil {
		return false
	}
	src, ok := PlayingDeck(c)
	if !ok {
		return false
	}
	if c.Decks[src.Opposite()].Playing {
		return false
	}
	return c.Decks[src].Remaining() <= c.Config.LeadTime
}

// BeginPreload builds a PRELOADING transaction for the queue head targeting
// the deck opposite the live one.
func BeginPreload(tx *Transaction, c Context) (*Transaction, error) {
	if tx != nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionActive, tx.ID)
	}
	if c.QueueLen == 0 || c.QueueHead == nil {
		return nil, ErrQueueEmpty
	}
	src, ok := PlayingDeck(c)
	if !ok {
		return nil, fmt.Errorf("%w: no deck is playing", ErrInvalidTransition)
	}
	return &Transaction{
		ID:             uuid.NewString(),
		Stage:          StagePreloading,
		Source:         src,
		Target:         src.Opposite(),
		Item:           *c.QueueHead,
		StartedAt:      c.Now,
		StageEnteredAt: c.Now,
	}, nil
}

// ShouldAdvanceToReady reports whether the target deck holds the queued
// item, is ready and has not started.
func ShouldAdvanceToReady(tx *Transaction, target deck.Snapshot) bool {
	if tx == nil || tx.Stage != StagePreloading {
		return false
	}
	if !target.Ready || target.Playing {
		return false
	}
	return holdsItem(tx, target)
}

// holdsItem reports whether the target deck carries the transaction's item.
// An unlabelled source is accepted.
func holdsItem(tx *Transaction, target deck.Snapshot) bool {
	return target.SourceID == "" || target.SourceID == tx.Item.Key()
}

// ShouldStartTarget reports whether the target should be told to play.
func ShouldStartTarget(tx *Transaction, target deck.Snapshot) bool {
	if tx == nil {
		return false
	}
	switch tx.Stage {
	case StageReady:
		return target.Ready && holdsItem(tx, target)
	case StagePreloading:
		return ShouldAdvanceToReady(tx, target)
	}
	return false
}

// ShouldBeginMix reports whether the early-started target is audible.
func ShouldBeginMix(tx *Transaction, target deck.Snapshot) bool {
	return tx != nil && tx.Stage == StagePlaying && target.Playing
}

// MixEnd is the crossfader position fully favouring the target.
func MixEnd(target deck.ID) float64 {
	if target == deck.A {
		return -1
	}
	return 1
}

// MixProgress is the eased-or-linear fraction of the mix elapsed, in [0, 1].
func MixProgress(tx *Transaction, now time.Time, cfg Config) float64 {
	if tx == nil || tx.Stage != StageMixing {
		return 0
	}
	if cfg.MixDuration <= 0 {
		return 1
	}
	p := lo.Clamp(float64(now.Sub(tx.MixStartedAt))/float64(cfg.MixDuration), 0, 1)
	if cfg.Easing == EaseLinear {
		return p
	}
	return audio.Smoothstep(p)
}

// MixPosition is the crossfader position at now.
func MixPosition(tx *Transaction, now time.Time, cfg Config) float64 {
	if tx == nil {
		return 0
	}
	to := MixEnd(tx.Target)
	return tx.MixFrom + (to-tx.MixFrom)*MixProgress(tx, now, cfg)
}

// IsMixComplete reports whether the mix duration has elapsed.
func IsMixComplete(tx *Transaction, now time.Time, cfg Config) bool {
	if tx == nil || tx.Stage != StageMixing {
		return false
	}
	return now.Sub(tx.MixStartedAt) >= cfg.MixDuration
}

// ShouldCancelOnManualLoad reports whether a user load onto id invalidates
// the transaction. A running mix is allowed to finish.
func ShouldCancelOnManualLoad(tx *Transaction, id deck.ID) bool {
	return tx != nil && tx.Target == id && tx.Stage != StageMixing
}

// ShouldCancelOnQueueChange reports whether removing ids drops the
// transaction's item before it became audible.
func ShouldCancelOnQueueChange(tx *Transaction, removed []string) bool {
	if tx == nil || tx.Stage == StagePlaying || tx.Stage == StageMixing {
		return false
	}
	return lo.Contains(removed, tx.Item.ID)
}

// IsTransactionTimedOut reports whether tx has sat in its stage longer than
// timeout. A mix never times out.
func IsTransactionTimedOut(tx *Transaction, now time.Time, timeout time.Duration) bool {
	if tx == nil || tx.Stage == StageMixing || timeout <= 0 {
		return false
	}
	return now.Sub(tx.StageEnteredAt) > timeout
}

// ShouldAutoStart reports whether an idle machine should start the queue
// head on an empty console.
func ShouldAutoStart(tx *Transaction, c Context) bool {
	if tx != nil || !c.Config.AutoStart || c.QueueLen == 0 || c.QueueHead == nil {
		return false
	}
	for _, s := range c.Decks {
		if s.Playing || s.Loading {
			return false
		}
	}
	return true
}

var transitions = map[Stage][]Stage{
	StagePreloading: {StageReady, StagePlaying},
	StageReady:      {StagePlaying},
	StagePlaying:    {StageMixing},
}

// Transition returns a copy of tx moved to stage to.
func Transition(tx *Transaction, to Stage, now time.Time) (*Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: no transaction", ErrInvalidTransition)
	}
	if !lo.Contains(transitions[tx.Stage], to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Stage, to)
	}
	next := *tx
	next.Stage = to
	next.StageEnteredAt = now
	return &next, nil
}
