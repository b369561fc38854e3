package deck

import (
	"math"
	"testing"

	"github.com/satindergrewal/twindeck/internal/effects"
)

const testRate = 48000.0

func TestMapGainDb(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{1.0, 0},
		{0, -12},
		{2, 12},
		{0.5, -6},
		{-1, -12},
		{3, 12},
	}
	for _, tt := range tests {
		if got := MapGainDb(tt.in); got != tt.want {
			t.Errorf("MapGainDb(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSweepCutoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pos      float64
		wantMode FilterMode
		wantHz   float64
	}{
		{0, FilterNeutral, 0},
		{0.05, FilterNeutral, 0},
		{-0.05, FilterNeutral, 0},
		{-0.5, FilterHighpass, 200},
		{-1, FilterHighpass, 2000},
		{0.5, FilterLowpass, 10100},
		{1, FilterLowpass, 200},
	}
	for _, tt := range tests {
		mode, hz := SweepCutoff(tt.pos)
		if mode != tt.wantMode || math.Abs(hz-tt.wantHz) > 1e-9 {
			t.Errorf("SweepCutoff(%v) = (%v, %v), want (%v, %v)", tt.pos, mode, hz, tt.wantMode, tt.wantHz)
		}
	}
}

func sine(freq float64, n int) ([]float64, []float64) {
	l := make([]float64, n)
	r := make([]float64, n)
	for i := range l {
		v := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/testRate)
		l[i], r[i] = v, v
	}
	return l, r
}

func rms(buf []float64) float64 {
	var sum float64
	for _, v := range buf {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(buf)))
}

func TestFlatGraphIsTransparent(t *testing.T) {
	t.Parallel()

	g := NewGraph(testRate)
	g.Attach()
	l, r := sine(440, 4096)
	want := append([]float64(nil), l...)
	g.Process(l, r)
	for i := range l {
		if math.Abs(l[i]-want[i]) > 1e-12 {
			t.Fatalf("sample %d = %v, want %v", i, l[i], want[i])
		}
	}
}

func TestEQCutAttenuatesLows(t *testing.T) {
	t.Parallel()

	g := NewGraph(testRate)
	g.Attach()
	g.SetEQ(EQ{Low: 0, Mid: 1, High: 1})

	l, r := sine(50, int(testRate))
	before := rms(l[len(l)/2:])
	g.Process(l, r)
	after := rms(l[len(l)/2:])
	gotDb := 20 * math.Log10(after/before)
	if gotDb > -11 || gotDb < -12.5 {
		t.Errorf("50 Hz with low knob at 0: %.2f dB, want about -12", gotDb)
	}
}

func TestSweepLowpassRemovesHighs(t *testing.T) {
	t.Parallel()

	g := NewGraph(testRate)
	g.Attach()
	g.SetEQ(EQ{Low: 1, Mid: 1, High: 1, Filter: 1})

	l, r := sine(5000, int(testRate))
	before := rms(l)
	g.Process(l, r)
	if after := rms(l[len(l)/2:]); after > before*0.01 {
		t.Errorf("5 kHz through fully closed lowpass: %v -> %v", before, after)
	}
}

func TestParameterChangesAreRamped(t *testing.T) {
	t.Parallel()

	g := NewGraph(testRate)
	g.Attach()
	g.SetGain(0)

	l := make([]float64, int(testRate))
	r := make([]float64, len(l))
	for i := range l {
		l[i], r[i] = 1, 1
	}
	g.Process(l, r)

	if l[0] < 0.99 {
		t.Errorf("first sample after gain change = %v, want ramp start near 1", l[0])
	}
	// One time constant (50 ms) covers ~63% of the step.
	if v := l[int(0.05*testRate)]; math.Abs(v-math.Exp(-1)) > 0.02 {
		t.Errorf("gain after 50ms = %v, want ~0.37", v)
	}
	if v := l[len(l)-1]; v > 1e-3 {
		t.Errorf("gain after 1s = %v, want ~0", v)
	}
}

func TestWetDryEqualPower(t *testing.T) {
	t.Parallel()

	g := NewGraph(testRate)
	g.Attach()
	g.wet.Reset(1)
	g.SetEffect(EffectSettings{Wet: 1})

	l, r := sine(440, 1024)
	want := append([]float64(nil), l...)
	g.Process(l, r)
	for i := range l {
		if math.Abs(l[i]-want[i]) > 1e-9 {
			t.Fatalf("fully wet bypass sample %d = %v, want %v", i, l[i], want[i])
		}
	}
}

func TestBypassIgnoresWet(t *testing.T) {
	t.Parallel()

	g := NewGraph(testRate)
	g.Attach()
	g.wet.Reset(0.5)
	g.SetEffect(EffectSettings{Wet: 0.5})

	l, r := sine(440, 1024)
	want := append([]float64(nil), l...)
	g.Process(l, r)
	for i := range l {
		if math.Abs(l[i]-want[i]) > 1e-9 {
			t.Fatalf("half wet bypass sample %d = %v, want %v", i, l[i], want[i])
		}
	}
}

func TestTeardownDisposesEffect(t *testing.T) {
	t.Parallel()

	g := NewGraph(testRate)
	g.SetEffect(EffectSettings{Kind: effects.Chorus, Intensity: 0.5, Wet: 0.5})
	if g.Chain() != nil {
		t.Fatal("effect built while detached")
	}
	if !g.Attach() {
		t.Fatal("Attach on a fresh graph failed")
	}
	if g.Attach() {
		t.Error("second Attach without Teardown should be refused")
	}

	chain := g.Chain()
	if chain == nil || chain.ActiveOscillators() == 0 {
		t.Fatal("chorus chain missing or idle after Attach")
	}

	g.Teardown()
	if chain.ActiveOscillators() != 0 {
		t.Errorf("oscillators still running after Teardown: %d", chain.ActiveOscillators())
	}
	if g.Attached() || g.Chain() != nil {
		t.Error("graph still attached after Teardown")
	}
	g.Teardown()

	// Settings survive and the chain is rebuilt on the next Attach.
	g.Attach()
	if g.Chain() == nil || g.Chain() == chain {
		t.Error("Attach did not rebuild the effect chain")
	}
	if g.Effect().Kind != effects.Chorus {
		t.Errorf("effect kind = %q after rebuild", g.Effect().Kind)
	}
}

func TestSetEffectReplacesChain(t *testing.T) {
	t.Parallel()

	g := NewGraph(testRate)
	g.Attach()
	g.SetEffect(EffectSettings{Kind: effects.Flanger, Intensity: 1, Wet: 1})
	old := g.Chain()
	g.SetEffect(EffectSettings{Kind: effects.Echo, Intensity: 1, Wet: 1})
	if !old.Disposed() || old.ActiveOscillators() != 0 {
		t.Error("previous chain not disposed")
	}
	g.SetEffect(EffectSettings{})
	if g.Chain() != nil {
		t.Error("empty kind should bypass")
	}
}
