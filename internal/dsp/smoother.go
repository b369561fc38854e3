package dsp

import "math"

// Smoother ramps a parameter towards its target with a one-pole lowpass.
// The time constant is the time to cover ~63% of a step.
type Smoother struct {
	coef    float64
	current float64
	target  float64
}

// NewSmoother creates a smoother settled at initial.
func NewSmoother(timeConstant, sampleRate, initial float64) *Smoother {
	s := &Smoother{current: initial, target: initial}
	s.SetTimeConstant(timeConstant, sampleRate)
	return s
}

// SetTimeConstant changes the ramp speed; a non-positive time constant jumps.
func (s *Smoother) SetTimeConstant(seconds, sampleRate float64) {
	if seconds <= 0 || sampleRate <= 0 {
		s.coef = 1
		return
	}
	s.coef = 1 - math.Exp(-1/(seconds*sampleRate))
}

// SetTarget sets the value to ramp towards.
func (s *Smoother) SetTarget(v float64) { s.target = v }

// Target returns the value being ramped towards.
func (s *Smoother) Target() float64 { return s.target }

// Current returns the present value without advancing.
func (s *Smoother) Current() float64 { return s.current }

// Reset jumps to v.
func (s *Smoother) Reset(v float64) {
	s.current = v
	s.target = v
}

// Next advances one sample and returns the new value.
func (s *Smoother) Next() float64 {
	if s.current == s.target {
		return s.current
	}
	s.current += s.coef * (s.target - s.current)
	if math.Abs(s.target-s.current) < 1e-6 {
		s.current = s.target
	}
	return s.current
}

// Advance moves n samples at once and returns the new value.
func (s *Smoother) Advance(n int) float64 {
	if s.current == s.target || n <= 0 {
		return s.current
	}
	s.current = s.target + (s.current-s.target)*math.Pow(1-s.coef, float64(n))
	if math.Abs(s.target-s.current) < 1e-6 {
		s.current = s.target
	}
	return s.current
}

// Settled reports whether the ramp has finished.
func (s *Smoother) Settled() bool { return s.current == s.target }
