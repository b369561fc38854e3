package dsp

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

const sr = 48000.0

func db(x float64) float64 { return 20 * math.Log10(x) }

func TestDesignMagnitudes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		coeff biquad.Coefficients
		freq  float64
		want  float64 // dB
		tol   float64
	}{
		{"peak centre +12", design.Peak(1000, 12, 1, sr), 1000, 12, 0.01},
		{"peak centre -12", design.Peak(1000, -12, 1, sr), 1000, -12, 0.01},
		{"lowshelf dc", design.LowShelf(200, -12, ButterworthQ, sr), 1, -12, 0.05},
		{"lowshelf highs", design.LowShelf(200, -12, ButterworthQ, sr), 15000, 0, 0.05},
		{"lowpass cutoff", design.Lowpass(1000, ButterworthQ, sr), 1000, -3.01, 0.05},
		{"highpass cutoff", design.Highpass(1000, ButterworthQ, sr), 1000, -3.01, 0.05},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Guard(tt.coeff)
			if got := c.MagnitudeDB(tt.freq, sr); math.Abs(got-tt.want) > tt.tol {
				t.Errorf("|H(%v)| = %.3f dB, want %.3f dB", tt.freq, got, tt.want)
			}
		})
	}
}

func TestGuardInvalidDesign(t *testing.T) {
	t.Parallel()

	for _, c := range []biquad.Coefficients{
		Guard(design.Lowpass(0, 1, sr)),
		Guard(design.Highpass(30000, 1, sr)),
		Guard(biquad.Coefficients{}),
	} {
		if c != Passthrough {
			t.Errorf("invalid design = %+v, want passthrough", c)
		}
	}

	lp := design.Lowpass(1000, ButterworthQ, sr)
	if Guard(lp) != lp {
		t.Error("Guard changed a valid design")
	}
}

func TestStereoPassthrough(t *testing.T) {
	t.Parallel()

	s := NewStereo(biquad.Coefficients{})
	l := []float64{0.5, -0.25, 1, 0}
	r := []float64{0, 1, 0, -1}
	wantL := append([]float64(nil), l...)
	wantR := append([]float64(nil), r...)
	s.Process(l, r)
	for i := range l {
		if l[i] != wantL[i] || r[i] != wantR[i] {
			t.Errorf("sample %d = (%v, %v), want (%v, %v)", i, l[i], r[i], wantL[i], wantR[i])
		}
	}
}

func TestStereoSetKeepsState(t *testing.T) {
	t.Parallel()

	s := NewStereo(design.Lowpass(500, ButterworthQ, sr))
	s.Process([]float64{1, 1, 1}, []float64{1, 1, 1})
	before := s[0].State()
	s.Set(design.Lowpass(800, ButterworthQ, sr))
	if s[0].State() != before {
		t.Error("Set cleared the filter state")
	}
	s.Reset()
	if s[0].State() != [2]float64{} || s[1].State() != [2]float64{} {
		t.Error("Reset left state behind")
	}
}

func TestSmootherReachesTarget(t *testing.T) {
	t.Parallel()

	s := NewSmoother(0.05, sr, 0)
	s.SetTarget(1)

	// One time constant covers ~63% of the step.
	var v float64
	for range int(0.05 * sr) {
		v = s.Next()
	}
	if math.Abs(v-(1-math.Exp(-1))) > 0.01 {
		t.Errorf("after one time constant = %v, want ~0.632", v)
	}

	for range int(sr) {
		s.Next()
	}
	if !s.Settled() || s.Current() != 1 {
		t.Errorf("smoother not settled: current=%v", s.Current())
	}
}

func TestSmootherAdvanceMatchesNext(t *testing.T) {
	t.Parallel()

	a := NewSmoother(0.05, sr, 0)
	b := NewSmoother(0.05, sr, 0)
	a.SetTarget(1)
	b.SetTarget(1)
	for range 64 {
		a.Next()
	}
	b.Advance(64)
	if math.Abs(a.Current()-b.Current()) > 1e-9 {
		t.Errorf("Advance(64) = %v, 64x Next = %v", b.Current(), a.Current())
	}
}

func TestSmootherZeroTimeConstantJumps(t *testing.T) {
	t.Parallel()

	s := NewSmoother(0, sr, 0)
	s.SetTarget(0.7)
	if got := s.Next(); got != 0.7 {
		t.Errorf("Next() = %v, want 0.7", got)
	}
}

func TestNewDelay(t *testing.T) {
	t.Parallel()

	d := NewDelay(8)
	for i := 1; i <= 5; i++ {
		d.Write(float64(i))
	}
	if got := d.Read(1); got != 5 {
		t.Errorf("Read(1) = %v, want 5", got)
	}
	if got := d.Read(3); got != 3 {
		t.Errorf("Read(3) = %v, want 3", got)
	}
	if got := d.ReadFractional(8); got != 0 {
		t.Errorf("ReadFractional(8) = %v, want 0 before the line fills", got)
	}
	if d.Len() < 8+3 {
		t.Errorf("Len() = %d, too short for an 8 sample tap", d.Len())
	}

	d.Reset()
	if got := d.Read(2); got != 0 {
		t.Errorf("Read after Reset = %v, want 0", got)
	}
}
