package effects

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"

	"github.com/satindergrewal/twindeck/internal/dsp"
)

// filterNode is a fixed stereo biquad.
type filterNode struct {
	sections dsp.Stereo
}

func newFilterNode(c biquad.Coefficients) *filterNode {
	return &filterNode{sections: dsp.NewStereo(c)}
}

func (f *filterNode) Process(l, r []float64) { f.sections.Process(l, r) }

func (f *filterNode) Reset() { f.sections.Reset() }

// sweepSubBlock is how often the swept filter recomputes its coefficients.
const sweepSubBlock = 32

// sweepNode is a resonant lowpass whose cutoff follows an LFO on a log scale.
type sweepNode struct {
	filterNode
	lfo        *Oscillator
	sampleRate float64
	minHz      float64
	maxHz      float64
	q          float64
}

func (s *sweepNode) Process(l, r []float64) {
	for start := 0; start < len(l); start += sweepSubBlock {
		end := min(start+sweepSubBlock, len(l))
		mod := (1 + s.lfo.Next()) / 2
		s.lfo.Skip(end - start - 1)
		s.sections.Set(design.Lowpass(s.minHz*math.Pow(s.maxHz/s.minHz, mod), s.q, s.sampleRate))
		s.filterNode.Process(l[start:end], r[start:end])
	}
}

func buildHighpass(b *builder, x float64) {
	fc := b.param("cutoff_hz", 20*math.Pow(10, 2.6*x))
	b.add(newFilterNode(design.Highpass(fc, dsp.ButterworthQ, b.sampleRate)))
}

func buildLowpass(b *builder, x float64) {
	fc := b.param("cutoff_hz", 20000*math.Pow(10, -2*x))
	b.add(newFilterNode(design.Lowpass(fc, dsp.ButterworthQ, b.sampleRate)))
}

// unityBandpass rescales the constant-skirt design, whose centre gain is q,
// to 0 dB at the centre frequency.
func unityBandpass(fc, q, sampleRate float64) biquad.Coefficients {
	c := design.Bandpass(fc, q, sampleRate)
	c.B0 /= q
	c.B1 /= q
	c.B2 /= q
	return c
}

func buildBandpass(b *builder, x float64) {
	fc := b.param("centre_hz", lerp(400, 3000, x))
	q := b.param("q", lerp(0.7, 8, x))
	b.add(newFilterNode(unityBandpass(fc, q, b.sampleRate)))
}

func buildFilterSweep(b *builder, x float64) {
	rate := b.param("rate_hz", lerp(0.05, 0.5, x))
	q := b.param("q", lerp(0.7, 5, x))
	maxHz := math.Min(18000, b.sampleRate*0.45)
	s := &sweepNode{
		lfo:        b.oscillator(Sine, rate, 0.75),
		sampleRate: b.sampleRate,
		minHz:      200,
		maxHz:      maxHz,
		q:          q,
	}
	s.sections = dsp.NewStereo(dsp.Passthrough)
	b.add(s)
}
