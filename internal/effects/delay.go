package effects

import (
	"github.com/cwbudde/algo-dsp/dsp/delay"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"

	"github.com/satindergrewal/twindeck/internal/dsp"
)

// feedbackDelay is a stereo feedback delay with a lowpass in the loop. With
// cross set, each channel feeds the other (ping-pong).
type feedbackDelay struct {
	lines    [2]*delay.Line
	damp     [2]*biquad.Section
	delay    float64
	feedback float64
	cross    bool
}

func newFeedbackDelay(delaySamples, feedback, dampHz, sampleRate float64, cross bool) *feedbackDelay {
	d := &feedbackDelay{delay: delaySamples, feedback: feedback, cross: cross}
	for ch := range d.lines {
		d.lines[ch] = dsp.NewDelay(delaySamples)
		d.damp[ch] = biquad.NewSection(dsp.Guard(design.Lowpass(dampHz, dsp.ButterworthQ, sampleRate)))
	}
	return d
}

func (d *feedbackDelay) Process(l, r []float64) {
	for i := range l {
		tapL := d.lines[0].ReadFractional(d.delay)
		tapR := d.lines[1].ReadFractional(d.delay)
		fbL := d.damp[0].ProcessSample(tapL) * d.feedback
		fbR := d.damp[1].ProcessSample(tapR) * d.feedback
		if d.cross {
			d.lines[0].Write(l[i] + fbR)
			d.lines[1].Write(r[i] + fbL)
		} else {
			d.lines[0].Write(l[i] + fbL)
			d.lines[1].Write(r[i] + fbR)
		}
		l[i] += tapL
		r[i] += tapR
	}
}

func (d *feedbackDelay) Reset() {
	for ch := range d.lines {
		d.lines[ch].Reset()
		d.damp[ch].Reset()
	}
}

// modDelay is a short delay whose tap is swept by an LFO per channel.
type modDelay struct {
	lines    [2]*delay.Line
	lfo      [2]*Oscillator
	base     float64
	depth    float64
	feedback float64
	mix      float64
}

func newModDelay(base, depth, feedback, mix float64, lfoL, lfoR *Oscillator) *modDelay {
	m := &modDelay{base: base, depth: depth, feedback: feedback, mix: mix, lfo: [2]*Oscillator{lfoL, lfoR}}
	for ch := range m.lines {
		m.lines[ch] = dsp.NewDelay(base + depth + 1)
	}
	return m
}

func (m *modDelay) Process(l, r []float64) {
	for i := range l {
		modL := m.lfo[0].Next()
		modR := modL
		if m.lfo[1] != m.lfo[0] {
			modR = m.lfo[1].Next()
		}
		l[i] = m.tap(0, l[i], modL)
		r[i] = m.tap(1, r[i], modR)
	}
}

func (m *modDelay) tap(ch int, x, mod float64) float64 {
	delayed := m.lines[ch].ReadFractional(m.base + m.depth*(1+mod)/2)
	m.lines[ch].Write(x + m.feedback*delayed)
	return (1-m.mix)*x + m.mix*delayed
}

func (m *modDelay) Reset() {
	for ch := range m.lines {
		m.lines[ch].Reset()
	}
}

func buildEcho(b *builder, x float64) {
	sec := b.param("delay_s", lerp(0.25, 0.6, x))
	fb := b.param("feedback", lerp(0.3, 0.75, x))
	damp := b.param("damping_hz", lerp(5000, 2500, x))
	b.add(newFeedbackDelay(sec*b.sampleRate, fb, damp, b.sampleRate, false))
}

func buildDelay(b *builder, x float64) {
	sec := b.param("delay_s", lerp(0.12, 0.5, x))
	fb := b.param("feedback", lerp(0.2, 0.7, x))
	b.param("damping_hz", 8000)
	b.add(newFeedbackDelay(sec*b.sampleRate, fb, 8000, b.sampleRate, true))
}

func buildFlanger(b *builder, x float64) {
	rate := b.param("rate_hz", lerp(0.1, 0.5, x))
	depthMs := b.param("depth_ms", lerp(0.5, 3, x))
	fb := b.param("feedback", lerp(0.3, 0.8, x))
	lfo := b.oscillator(Sine, rate, 0)
	ms := b.sampleRate / 1000
	b.add(newModDelay(1*ms, depthMs*ms, fb, 0.5, lfo, lfo))
}

func buildChorus(b *builder, x float64) {
	rate := b.param("rate_hz", lerp(0.5, 2, x))
	depthMs := b.param("depth_ms", lerp(2, 8, x))
	b.param("mix", lerp(0.3, 0.5, x))
	lfoL := b.oscillator(Sine, rate, 0)
	lfoR := b.oscillator(Sine, rate, 0.25)
	ms := b.sampleRate / 1000
	b.add(newModDelay(15*ms, depthMs*ms, 0, b.chain.Params["mix"], lfoL, lfoR))
}
