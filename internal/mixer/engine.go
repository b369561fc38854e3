package mixer

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/deck"
)

// Channel is one deck as the engine sees it.
type Channel interface {
	ID() deck.ID
	Render(l, r []float64)
	SetOutputGain(g float64)
}

// Stats reports master bus counters.
type Stats struct {
	Frames  uint64  `json:"frames"`
	Dropped uint64  `json:"dropped"`
	Peak    float64 `json:"peak"`
}

// Engine renders the master bus: it pulls a 20ms block from each deck,
// applies the crossfader gains and emits interleaved PCM frames at
// real-time rate.
type Engine struct {
	channels []Channel
	frameCh  chan []int16

	mu    sync.RWMutex
	state State
	stats Stats

	// render scratch, only touched by the render goroutine
	left, right []float64
	mixL, mixR  []float64
}

// NewEngine creates an engine mixing the given channels.
func NewEngine(channels ...Channel) *Engine {
	return &Engine{
		channels: channels,
		frameCh:  make(chan []int16, 100),
		state:    DefaultState(),
		left:     make([]float64, audio.FrameSize),
		right:    make([]float64, audio.FrameSize),
		mixL:     make([]float64, audio.FrameSize),
		mixR:     make([]float64, audio.FrameSize),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (e *Engine) Frames() <-chan []int16 {
	return e.frameCh
}

// State returns the crossfader section.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SetState replaces the crossfader section, clamping every field.
func (e *Engine) SetState(s State) State {
	s = s.Normalize()
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	return s
}

// Position returns the crossfader position.
func (e *Engine) Position() float64 {
	return e.State().Position
}

// SetPosition moves the crossfader.
func (e *Engine) SetPosition(p float64) {
	e.mu.Lock()
	e.state.Position = clampNaN(p, -1, 1, e.state.Position)
	e.mu.Unlock()
}

// SetCurve selects the gain law.
func (e *Engine) SetCurve(c Curve) error {
	if _, err := ParseCurve(string(c)); err != nil {
		return err
	}
	e.mu.Lock()
	e.state.Curve = c
	e.mu.Unlock()
	return nil
}

// SetMasterVolume sets the master level in [0, 1].
func (e *Engine) SetMasterVolume(v float64) {
	e.mu.Lock()
	e.state.MasterVolume = clampNaN(v, 0, 1, e.state.MasterVolume)
	e.mu.Unlock()
}

// SetDeckVolume sets one channel fader in [0, 1].
func (e *Engine) SetDeckVolume(id deck.ID, v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch id {
	case deck.A:
		e.state.VolumeA = clampNaN(v, 0, 1, e.state.VolumeA)
	case deck.B:
		e.state.VolumeB = clampNaN(v, 0, 1, e.state.VolumeB)
	default:
		return fmt.Errorf("%w: %q", deck.ErrUnknownDeck, id)
	}
	return nil
}

// Stats returns the master bus counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// RenderFrame produces the next 20ms master frame. Each call is one control
// tick: deck gains are recomputed and handed to the decks as ramp targets
// before rendering.
func (e *Engine) RenderFrame() []int16 {
	gains := DeckGains(e.State())

	clear(e.mixL)
	clear(e.mixR)
	for _, ch := range e.channels {
		ch.SetOutputGain(gains[ch.ID()])
		ch.Render(e.left, e.right)
		for i := range e.mixL {
			e.mixL[i] += e.left[i]
			e.mixR[i] += e.right[i]
		}
	}

	var peak float64
	for i := range e.mixL {
		peak = max(peak, math.Abs(e.mixL[i]), math.Abs(e.mixR[i]))
	}

	frame := make([]int16, audio.FrameSamples)
	audio.Interleave(frame, e.mixL, e.mixR)

	e.mu.Lock()
	e.stats.Frames++
	e.stats.Peak = peak
	e.mu.Unlock()
	return frame
}

// Run renders frames at real-time rate until ctx is cancelled. A frame is
// dropped rather than blocking when nobody drains Frames.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.frameCh)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	log.Printf("Mixer running (%d channels, %dms frames)", len(e.channels), audio.FrameDuration.Milliseconds())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := e.RenderFrame()
		select {
		case e.frameCh <- frame:
		default:
			e.mu.Lock()
			e.stats.Dropped++
			e.mu.Unlock()
		}
	}
}
