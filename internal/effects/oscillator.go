package effects

import "math"

// Shape selects an oscillator waveform.
type Shape int

const (
	Sine Shape = iota
	// Square alternates between +1 and -1; used as a periodic on/off source.
	Square
)

// Oscillator is a low-frequency generator driving a modulation parameter.
// A stopped oscillator outputs 0.
type Oscillator struct {
	shape   Shape
	rate    float64
	phase   float64
	inc     float64
	running bool
}

// NewOscillator creates a stopped oscillator. phase is in cycles [0,1).
func NewOscillator(shape Shape, rateHz, sampleRate, phase float64) *Oscillator {
	return &Oscillator{
		shape: shape,
		rate:  rateHz,
		phase: phase - math.Floor(phase),
		inc:   rateHz / sampleRate,
	}
}

// Start begins oscillation.
func (o *Oscillator) Start() { o.running = true }

// Stop halts the oscillator. Stopping twice is harmless.
func (o *Oscillator) Stop() { o.running = false }

// Running reports whether the oscillator is started.
func (o *Oscillator) Running() bool { return o.running }

// Rate returns the frequency in Hz.
func (o *Oscillator) Rate() float64 { return o.rate }

// Next returns the current value in [-1,1] and advances one sample.
func (o *Oscillator) Next() float64 {
	if !o.running {
		return 0
	}
	var v float64
	switch o.shape {
	case Square:
		v = 1
		if o.phase >= 0.5 {
			v = -1
		}
	default:
		v = math.Sin(2 * math.Pi * o.phase)
	}
	o.phase += o.inc
	if o.phase >= 1 {
		o.phase -= 1
	}
	return v
}

// Skip advances n samples without producing output.
func (o *Oscillator) Skip(n int) {
	if !o.running {
		return
	}
	o.phase += o.inc * float64(n)
	o.phase -= math.Floor(o.phase)
}
