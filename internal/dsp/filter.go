// Package dsp adapts the algo-dsp building blocks to the deck graph and the
// effect library: guarded filter designs, stereo biquads, fractional delay
// lines and parameter smoothers.
package dsp

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/delay"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
)

// ButterworthQ is the quality factor of a maximally flat second-order section.
const ButterworthQ = 1 / math.Sqrt2

// Passthrough is the identity transfer function.
var Passthrough = biquad.Coefficients{B0: 1}

// Guard maps a failed design to Passthrough. The design package returns the
// zero value for frequencies outside (0, Nyquist), which would mute the path.
func Guard(c biquad.Coefficients) biquad.Coefficients {
	if c == (biquad.Coefficients{}) {
		return Passthrough
	}
	return c
}

// Stereo is a pair of biquad sections sharing one set of coefficients.
type Stereo [2]*biquad.Section

// NewStereo returns a stereo section with zero state.
func NewStereo(c biquad.Coefficients) Stereo {
	c = Guard(c)
	return Stereo{biquad.NewSection(c), biquad.NewSection(c)}
}

// Set swaps the coefficients and keeps the filter state.
func (s Stereo) Set(c biquad.Coefficients) {
	c = Guard(c)
	s[0].Coefficients = c
	s[1].Coefficients = c
}

// Process filters both channels in place.
func (s Stereo) Process(l, r []float64) {
	s[0].ProcessBlock(l)
	s[1].ProcessBlock(r)
}

// Reset clears the state of both channels.
func (s Stereo) Reset() {
	s[0].Reset()
	s[1].Reset()
}

// NewDelay returns a line that can be read back up to maxDelay samples with
// cubic interpolation.
func NewDelay(maxDelay float64) *delay.Line {
	// ReadFractional clamps at Len()-3.
	line, err := delay.New(int(math.Ceil(math.Max(maxDelay, 1))) + 4)
	if err != nil {
		panic(err)
	}
	return line
}
