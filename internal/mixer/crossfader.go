// Package mixer blends the two decks into the master bus.
package mixer

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"

	"github.com/satindergrewal/twindeck/internal/deck"
)

var ErrUnknownCurve = errors.New("unknown crossfader curve")

// Curve is a crossfader gain law.
type Curve string

const (
	// CurveSmooth is an equal-power fade.
	CurveSmooth Curve = "smooth"
	// CurveCut keeps both decks at full level except near the ends.
	CurveCut Curve = "cut"
	// CurveDip holds the favoured deck at unity and tapers the other linearly.
	CurveDip Curve = "dip"
)

// ParseCurve maps a case-insensitive name to a Curve.
func ParseCurve(s string) (Curve, error) {
	switch c := Curve(strings.ToLower(strings.TrimSpace(s))); c {
	case CurveSmooth, CurveCut, CurveDip:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCurve, s)
}

// State is the crossfader section. Position -1 is full deck A, +1 full deck B.
type State struct {
	Position     float64 `json:"position"`
	Curve        Curve   `json:"curve"`
	MasterVolume float64 `json:"master_volume"`
	VolumeA      float64 `json:"volume_a"`
	VolumeB      float64 `json:"volume_b"`
}

// DefaultState is centred, smooth, everything at unity.
func DefaultState() State {
	return State{Curve: CurveSmooth, MasterVolume: 1, VolumeA: 1, VolumeB: 1}
}

// Normalize clamps every field into range and defaults an empty curve.
func (s State) Normalize() State {
	s.Position = clampNaN(s.Position, -1, 1, 0)
	s.MasterVolume = clampNaN(s.MasterVolume, 0, 1, 1)
	s.VolumeA = clampNaN(s.VolumeA, 0, 1, 1)
	s.VolumeB = clampNaN(s.VolumeB, 0, 1, 1)
	if s.Curve == "" {
		s.Curve = CurveSmooth
	}
	return s
}

func clampNaN(v, low, high, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return lo.Clamp(v, low, high)
}

// CurveGains returns the curve gains for a position in [-1, 1].
func CurveGains(curve Curve, position float64) (a, b float64) {
	t := (lo.Clamp(position, -1, 1) + 1) / 2
	switch curve {
	case CurveCut:
		a, b = 1, 1
		if t > 0.9 {
			a = 0
		}
		if t < 0.1 {
			b = 0
		}
	case CurveDip:
		a, b = 1, 1
		if t > 0.5 {
			a = 2 * (1 - t)
		}
		if t < 0.5 {
			b = 2 * t
		}
	default:
		a = math.Cos(t * math.Pi / 2)
		b = math.Sin(t * math.Pi / 2)
	}
	return a, b
}

// DeckGains is the final per-deck gain: curve × deck volume × master volume.
func DeckGains(s State) map[deck.ID]float64 {
	s = s.Normalize()
	a, b := CurveGains(s.Curve, s.Position)
	return map[deck.ID]float64{
		deck.A: a * s.VolumeA * s.MasterVolume,
		deck.B: b * s.VolumeB * s.MasterVolume,
	}
}

// Favored returns the deck the crossfader leans toward; A at centre.
func (s State) Favored() deck.ID {
	if s.Position > 0 {
		return deck.B
	}
	return deck.A
}
