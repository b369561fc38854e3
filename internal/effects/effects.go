// Package effects builds the per-deck insert effects. Each effect is a small
// serial sub-graph with one stereo input and one stereo output; New returns
// nil for bypass or unknown names and the caller wires input straight to
// output.
package effects

import (
	"strings"

	"github.com/samber/lo"
)

// Kind names one effect type.
type Kind string

const (
	Echo        Kind = "echo"
	Delay       Kind = "delay"
	Reverb      Kind = "reverb"
	Flanger     Kind = "flanger"
	Phaser      Kind = "phaser"
	Chorus      Kind = "chorus"
	Tremolo     Kind = "tremolo"
	AutoPan     Kind = "autopan"
	Bitcrush    Kind = "bitcrush"
	Overdrive   Kind = "overdrive"
	Crush       Kind = "crush"
	Highpass    Kind = "highpass"
	Lowpass     Kind = "lowpass"
	Bandpass    Kind = "bandpass"
	FilterSweep Kind = "filtersweep"
	Gate        Kind = "gate"
)

// Kinds lists every effect in display order.
var Kinds = []Kind{
	Echo, Delay, Reverb, Flanger, Phaser, Chorus, Tremolo, AutoPan,
	Bitcrush, Overdrive, Crush, Highpass, Lowpass, Bandpass, FilterSweep, Gate,
}

// ParseKind normalizes a user supplied effect name ("Auto-Pan", "filter_sweep").
// It reports false for bypass selections and unknown names.
func ParseKind(name string) (Kind, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "", "_", "", " ", "").Replace(n)
	k := Kind(n)
	if _, ok := builders[k]; !ok {
		return "", false
	}
	return k, true
}

// Node is one processing stage of a chain. Process works in place on a
// stereo block.
type Node interface {
	Process(l, r []float64)
	Reset()
}

// Chain is a live effect instance.
type Chain struct {
	Kind      Kind
	Intensity float64

	// Params records the physical parameters derived from Intensity.
	Params map[string]float64

	Nodes       []Node
	Oscillators []*Oscillator

	disposed bool
}

// Process runs the block through every node. A disposed or nil chain passes
// audio through untouched.
func (c *Chain) Process(l, r []float64) {
	if c == nil || c.disposed {
		return
	}
	for _, n := range c.Nodes {
		n.Process(l, r)
	}
}

// Dispose stops every oscillator, then drops the nodes. Calling it again is
// a no-op.
func (c *Chain) Dispose() {
	if c == nil || c.disposed {
		return
	}
	for _, o := range c.Oscillators {
		o.Stop()
	}
	for _, n := range c.Nodes {
		n.Reset()
	}
	c.Nodes = nil
	c.disposed = true
}

// Disposed reports whether Dispose has run.
func (c *Chain) Disposed() bool {
	return c == nil || c.disposed
}

// ActiveOscillators counts oscillators that are still running.
func (c *Chain) ActiveOscillators() int {
	if c == nil {
		return 0
	}
	return lo.CountBy(c.Oscillators, func(o *Oscillator) bool { return o.Running() })
}

// Option adjusts effect construction.
type Option func(*config)

type config struct {
	seed uint64
}

// WithSeed sets the noise seed used by the reverb impulse response.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = seed }
}

// New builds the named effect at the given intensity in [0,1]. It returns nil
// for "", "none", "bypass" and unknown names.
func New(name string, intensity, sampleRate float64, opts ...Option) *Chain {
	kind, ok := ParseKind(name)
	if !ok || sampleRate <= 0 {
		return nil
	}
	cfg := config{seed: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &builder{
		chain: &Chain{
			Kind:      kind,
			Intensity: lo.Clamp(intensity, 0, 1),
			Params:    make(map[string]float64),
		},
		sampleRate: sampleRate,
		seed:       cfg.seed,
	}
	builders[kind](b, b.chain.Intensity)
	return b.chain
}

type builder struct {
	chain      *Chain
	sampleRate float64
	seed       uint64
}

// param records and returns a derived parameter.
func (b *builder) param(name string, v float64) float64 {
	b.chain.Params[name] = v
	return v
}

// oscillator creates and starts an LFO owned by the chain.
func (b *builder) oscillator(shape Shape, rateHz, phase float64) *Oscillator {
	o := NewOscillator(shape, rateHz, b.sampleRate, phase)
	o.Start()
	b.chain.Oscillators = append(b.chain.Oscillators, o)
	return o
}

func (b *builder) add(n Node) {
	b.chain.Nodes = append(b.chain.Nodes, n)
}

// lerp maps x in [0,1] onto [lo, hi].
func lerp(lo, hi, x float64) float64 {
	return lo + (hi-lo)*x
}

var builders = map[Kind]func(b *builder, x float64){
	Echo:        buildEcho,
	Delay:       buildDelay,
	Reverb:      buildReverb,
	Flanger:     buildFlanger,
	Phaser:      buildPhaser,
	Chorus:      buildChorus,
	Tremolo:     buildTremolo,
	AutoPan:     buildAutoPan,
	Bitcrush:    buildBitcrush,
	Overdrive:   buildOverdrive,
	Crush:       buildCrush,
	Highpass:    buildHighpass,
	Lowpass:     buildLowpass,
	Bandpass:    buildBandpass,
	FilterSweep: buildFilterSweep,
	Gate:        buildGate,
}
