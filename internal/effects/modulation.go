package effects

import (
	"math"

	"github.com/satindergrewal/twindeck/internal/dsp"
)

// gainMod scales both channels by 1 - depth*(1+lfo)/2.
type gainMod struct {
	lfo   *Oscillator
	depth float64
}

func (g *gainMod) Process(l, r []float64) {
	for i := range l {
		gain := 1 - g.depth*(1+g.lfo.Next())/2
		l[i] *= gain
		r[i] *= gain
	}
}

func (g *gainMod) Reset() {}

// panMod moves the image between the speakers with an equal-power law.
type panMod struct {
	lfo   *Oscillator
	depth float64
}

func (p *panMod) Process(l, r []float64) {
	for i := range l {
		pos := p.depth * p.lfo.Next()
		theta := (pos + 1) * math.Pi / 4
		l[i] *= math.Cos(theta) * math.Sqrt2
		r[i] *= math.Sin(theta) * math.Sqrt2
	}
}

func (p *panMod) Reset() {}

// gateMod chops the signal with a square source. Edges are ramped over a
// couple of milliseconds.
type gateMod struct {
	lfo    *Oscillator
	floor  float64
	smooth *dsp.Smoother
}

func (g *gateMod) Process(l, r []float64) {
	for i := range l {
		target := 1.0
		if g.lfo.Next() < 0 {
			target = g.floor
		}
		g.smooth.SetTarget(target)
		gain := g.smooth.Next()
		l[i] *= gain
		r[i] *= gain
	}
}

func (g *gateMod) Reset() { g.smooth.Reset(1) }

// phaserNode runs four first-order allpass stages per channel with a swept
// break frequency and feeds the result back.
type phaserNode struct {
	lfo        *Oscillator
	sampleRate float64
	minHz      float64
	maxHz      float64
	feedback   float64
	state      [2][4]float64
	last       [2]float64
}

func (p *phaserNode) Process(l, r []float64) {
	for i := range l {
		mod := (1 + p.lfo.Next()) / 2
		freq := p.minHz * math.Pow(p.maxHz/p.minHz, mod)
		t := math.Tan(math.Pi * freq / p.sampleRate)
		a := (t - 1) / (t + 1)
		l[i] = p.stage(0, l[i], a)
		r[i] = p.stage(1, r[i], a)
	}
}

func (p *phaserNode) stage(ch int, x, a float64) float64 {
	v := x + p.feedback*p.last[ch]
	for s := range p.state[ch] {
		y := a*v + p.state[ch][s]
		p.state[ch][s] = v - a*y
		v = y
	}
	p.last[ch] = v
	return 0.5 * (x + v)
}

func (p *phaserNode) Reset() {
	p.state = [2][4]float64{}
	p.last = [2]float64{}
}

func buildPhaser(b *builder, x float64) {
	rate := b.param("rate_hz", lerp(0.2, 2, x))
	maxHz := b.param("max_hz", lerp(1000, 4000, x))
	fb := b.param("feedback", lerp(0.2, 0.7, x))
	lfo := b.oscillator(Sine, rate, 0)
	b.add(&phaserNode{lfo: lfo, sampleRate: b.sampleRate, minHz: 200, maxHz: maxHz, feedback: fb})
}

func buildTremolo(b *builder, x float64) {
	rate := b.param("rate_hz", lerp(2, 10, x))
	depth := b.param("depth", lerp(0.3, 1, x))
	b.add(&gainMod{lfo: b.oscillator(Sine, rate, 0), depth: depth})
}

func buildAutoPan(b *builder, x float64) {
	rate := b.param("rate_hz", lerp(0.1, 1, x))
	depth := b.param("depth", lerp(0.4, 1, x))
	b.add(&panMod{lfo: b.oscillator(Sine, rate, 0), depth: depth})
}

func buildGate(b *builder, x float64) {
	rate := b.param("rate_hz", lerp(2, 16, x))
	depth := b.param("depth", lerp(0.5, 1, x))
	b.add(&gateMod{
		lfo:    b.oscillator(Square, rate, 0),
		floor:  1 - depth,
		smooth: dsp.NewSmoother(0.002, b.sampleRate, 1),
	})
}
