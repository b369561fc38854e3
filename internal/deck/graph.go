package deck

import (
	"math"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/design"
	"github.com/samber/lo"

	"github.com/satindergrewal/twindeck/internal/dsp"
	"github.com/satindergrewal/twindeck/internal/effects"
)

const (
	LowShelfHz  = 200.0
	MidPeakHz   = 1000.0
	MidQ        = 1.0
	HighShelfHz = 10000.0

	// SweepDeadZone is the filter knob range around centre that leaves the
	// signal untouched.
	SweepDeadZone = 0.05

	// SmoothingTime is the ramp time constant for every graph parameter.
	SmoothingTime = 50 * time.Millisecond

	// controlBlock is the sub-block size at which ramped filter parameters
	// are re-evaluated.
	controlBlock = 64
)

// FilterMode is the state of the sweep filter.
type FilterMode int

const (
	FilterNeutral FilterMode = iota
	FilterHighpass
	FilterLowpass
)

func (m FilterMode) String() string {
	switch m {
	case FilterHighpass:
		return "highpass"
	case FilterLowpass:
		return "lowpass"
	default:
		return "neutral"
	}
}

// MapGainDb maps an EQ knob in [0,2] to [-12,+12] dB; 1 is flat.
func MapGainDb(v float64) float64 {
	return (lo.Clamp(v, 0, 2) - 1) * 12
}

// SweepCutoff maps the bipolar filter knob to a filter mode and cutoff.
// Negative positions sweep a highpass up from 20 Hz, positive positions sweep
// a lowpass down from 20 kHz.
func SweepCutoff(pos float64) (FilterMode, float64) {
	pos = lo.Clamp(pos, -1, 1)
	switch {
	case pos < -SweepDeadZone:
		return FilterHighpass, math.Pow(10, -pos*2) * 20
	case pos > SweepDeadZone:
		return FilterLowpass, 20000 - pos*19800
	default:
		return FilterNeutral, 0
	}
}

// EQ is the tone section of a deck. Low, Mid and High are knobs in [0,2];
// Filter is the sweep knob in [-1,1].
type EQ struct {
	Low    float64 `json:"low"`
	Mid    float64 `json:"mid"`
	High   float64 `json:"high"`
	Filter float64 `json:"filter"`
}

// FlatEQ leaves the signal unchanged.
var FlatEQ = EQ{Low: 1, Mid: 1, High: 1}

// EffectSettings is the selected insert effect. An empty Kind bypasses.
type EffectSettings struct {
	Kind      effects.Kind `json:"kind"`
	Intensity float64      `json:"intensity"`
	Wet       float64      `json:"wet"`
}

// Graph is one deck's signal path:
//
//	source -> lowshelf -> peak -> highshelf -> sweep -> dry/wet(effect) -> gain
//
// Settings survive Teardown; the nodes themselves are rebuilt by Attach.
type Graph struct {
	sampleRate float64
	attached   bool

	eq     EQ
	effect EffectSettings
	chain  *effects.Chain
	seed   uint64

	lowDb, midDb, highDb *dsp.Smoother
	filter               *dsp.Smoother
	wet                  *dsp.Smoother
	gain                 *dsp.Smoother
	dirty                bool

	low, mid, high, sweep dsp.Stereo

	dryL, dryR []float64
}

// NewGraph creates a detached graph with a flat EQ, no effect and unity gain.
func NewGraph(sampleRate float64) *Graph {
	tc := SmoothingTime.Seconds()
	g := &Graph{
		sampleRate: sampleRate,
		eq:         FlatEQ,
		seed:       1,
		lowDb:      dsp.NewSmoother(tc, sampleRate, 0),
		midDb:      dsp.NewSmoother(tc, sampleRate, 0),
		highDb:     dsp.NewSmoother(tc, sampleRate, 0),
		filter:     dsp.NewSmoother(tc, sampleRate, 0),
		wet:        dsp.NewSmoother(tc, sampleRate, 0),
		gain:       dsp.NewSmoother(tc, sampleRate, 1),
		dirty:      true,
	}
	g.low = dsp.NewStereo(dsp.Passthrough)
	g.mid = dsp.NewStereo(dsp.Passthrough)
	g.high = dsp.NewStereo(dsp.Passthrough)
	g.sweep = dsp.NewStereo(dsp.Passthrough)
	return g
}

// Attached reports whether a source is connected.
func (g *Graph) Attached() bool { return g.attached }

// Attach marks a new source as connected and builds the effect chain from the
// stored selection. It reports false if a source is already attached; the
// caller must Teardown first.
func (g *Graph) Attach() bool {
	if g.attached {
		return false
	}
	g.attached = true
	g.rebuildEffect()
	return true
}

// Teardown disconnects the source: the effect chain is disposed (stopping
// its oscillators) and all filter memory is cleared so nothing of the old
// source leaks into the next one. Tearing down a detached graph is a no-op.
func (g *Graph) Teardown() {
	if g.chain != nil {
		g.chain.Dispose()
		g.chain = nil
	}
	if !g.attached {
		return
	}
	for _, s := range [...]dsp.Stereo{g.low, g.mid, g.high, g.sweep} {
		s.Reset()
	}
	g.attached = false
}

// SetEQ ramps the tone section to eq.
func (g *Graph) SetEQ(eq EQ) {
	eq.Low = lo.Clamp(eq.Low, 0, 2)
	eq.Mid = lo.Clamp(eq.Mid, 0, 2)
	eq.High = lo.Clamp(eq.High, 0, 2)
	eq.Filter = lo.Clamp(eq.Filter, -1, 1)
	g.eq = eq
	g.lowDb.SetTarget(MapGainDb(eq.Low))
	g.midDb.SetTarget(MapGainDb(eq.Mid))
	g.highDb.SetTarget(MapGainDb(eq.High))
	g.filter.SetTarget(eq.Filter)
}

// EQ returns the current tone settings.
func (g *Graph) EQ() EQ { return g.eq }

// SetEffect replaces the insert effect. The previous chain is disposed before
// the new one is built.
func (g *Graph) SetEffect(s EffectSettings) {
	s.Intensity = lo.Clamp(s.Intensity, 0, 1)
	s.Wet = lo.Clamp(s.Wet, 0, 1)
	g.effect = s
	g.wet.SetTarget(s.Wet)
	if g.attached {
		g.rebuildEffect()
	}
}

// Effect returns the current effect selection.
func (g *Graph) Effect() EffectSettings { return g.effect }

// Chain exposes the live effect instance, nil when bypassed or detached.
func (g *Graph) Chain() *effects.Chain { return g.chain }

// SetSeed fixes the noise seed used by effects built from now on.
func (g *Graph) SetSeed(seed uint64) { g.seed = seed }

// SetGain ramps the deck output gain.
func (g *Graph) SetGain(v float64) { g.gain.SetTarget(math.Max(0, v)) }

// Gain returns the gain currently applied.
func (g *Graph) Gain() float64 { return g.gain.Current() }

func (g *Graph) rebuildEffect() {
	if g.chain != nil {
		g.chain.Dispose()
		g.chain = nil
	}
	if g.effect.Kind == "" {
		return
	}
	g.chain = effects.New(string(g.effect.Kind), g.effect.Intensity, g.sampleRate, effects.WithSeed(g.seed))
}

// Process runs one stereo block through the graph in place.
func (g *Graph) Process(l, r []float64) {
	if len(g.dryL) < len(l) {
		g.dryL = make([]float64, len(l))
		g.dryR = make([]float64, len(l))
	}
	for start := 0; start < len(l); start += controlBlock {
		end := min(start+controlBlock, len(l))
		g.processBlock(l[start:end], r[start:end], g.dryL[start:end], g.dryR[start:end])
	}
}

func (g *Graph) processBlock(l, r, dryL, dryR []float64) {
	n := len(l)
	if g.dirty || !g.lowDb.Settled() || !g.midDb.Settled() || !g.highDb.Settled() || !g.filter.Settled() {
		g.updateFilters(n)
	}

	for _, s := range [...]dsp.Stereo{g.low, g.mid, g.high, g.sweep} {
		s.Process(l, r)
	}

	if g.chain.Disposed() {
		for i := range n {
			g.wet.Next()
			gain := g.gain.Next()
			l[i] *= gain
			r[i] *= gain
		}
		return
	}

	copy(dryL, l)
	copy(dryR, r)
	g.chain.Process(l, r)

	for i := range n {
		w := g.wet.Next() * math.Pi / 2
		gain := g.gain.Next()
		dg, wg := math.Cos(w)*gain, math.Sin(w)*gain
		l[i] = dg*dryL[i] + wg*l[i]
		r[i] = dg*dryR[i] + wg*r[i]
	}
}

func (g *Graph) updateFilters(n int) {
	g.low.Set(design.LowShelf(LowShelfHz, g.lowDb.Advance(n), dsp.ButterworthQ, g.sampleRate))
	g.mid.Set(design.Peak(MidPeakHz, g.midDb.Advance(n), MidQ, g.sampleRate))
	g.high.Set(design.HighShelf(HighShelfHz, g.highDb.Advance(n), dsp.ButterworthQ, g.sampleRate))

	switch mode, fc := SweepCutoff(g.filter.Advance(n)); mode {
	case FilterHighpass:
		g.sweep.Set(design.Highpass(fc, dsp.ButterworthQ, g.sampleRate))
	case FilterLowpass:
		g.sweep.Set(design.Lowpass(fc, dsp.ButterworthQ, g.sampleRate))
	default:
		g.sweep.Set(dsp.Passthrough)
	}
	g.dirty = false
}
