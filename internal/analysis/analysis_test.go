package analysis

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/deck"
)

// clickTrack renders a 20ms two-tone burst on every beat.
func clickTrack(bpm float64, sampleRate int, dur time.Duration) [][2]float32 {
	sr := float64(sampleRate)
	n := int(dur.Seconds() * sr)
	out := make([][2]float32, n)
	burst := int(0.02 * sr)
	for k := 0; ; k++ {
		start := int(math.Round(float64(k) * 60 / bpm * sr))
		if start >= n {
			break
		}
		for i := 0; i < burst && start+i < n; i++ {
			env := math.Exp(-float64(i) / (0.004 * sr))
			v := env * (0.6*math.Sin(2*math.Pi*100*float64(i)/sr) + 0.4*math.Sin(2*math.Pi*3000*float64(i)/sr))
			out[start+i][0] += float32(v)
			out[start+i][1] += float32(v)
		}
	}
	return out
}

// chord sums sines on the given semitone offsets from tonicHz, each weighted
// by the square root of its key-profile value.
func chord(tonicHz float64, profile [12]float64, offsets []int, sampleRate int, dur time.Duration) [][2]float32 {
	sr := float64(sampleRate)
	n := int(dur.Seconds() * sr)
	out := make([][2]float32, n)
	for _, o := range offsets {
		f := tonicHz * math.Pow(2, float64(o)/12)
		amp := 0.05 * math.Sqrt(profile[o])
		for i := range out {
			v := float32(amp * math.Sin(2*math.Pi*f*float64(i)/sr))
			out[i][0] += v
			out[i][1] += v
		}
	}
	return out
}

func TestEstimateRecoversClickTempo(t *testing.T) {
	tests := []struct {
		bpm        float64
		sampleRate int
		dur        time.Duration
	}{
		{128, 48000, 4 * time.Second},
		{128, 44100, 4 * time.Second},
		{100, 48000, 8 * time.Second},
		{90, 48000, 8 * time.Second},
		{128, 48000, 8 * time.Second},
		{140, 48000, 8 * time.Second},
		{174, 48000, 8 * time.Second},
		{128, 44100, 12 * time.Second},
		{85, 48000, 8 * time.Second},
	}
	for _, tt := range tests {
		est, err := Estimate(context.Background(), clickTrack(tt.bpm, tt.sampleRate, tt.dur), tt.sampleRate, Options{SkipKey: true})
		if err != nil {
			t.Fatalf("%v BPM @ %d: %v", tt.bpm, tt.sampleRate, err)
		}
		if est.BPM == nil {
			t.Fatalf("%v BPM @ %d: no tempo", tt.bpm, tt.sampleRate)
		}
		if math.Abs(*est.BPM-tt.bpm) > 1 {
			t.Errorf("%v BPM @ %d: got %.2f", tt.bpm, tt.sampleRate, *est.BPM)
		}
		if est.Confidence <= 0.5 || est.Confidence > 1 {
			t.Errorf("%v BPM @ %d: confidence %.3f, want (0.5, 1]", tt.bpm, tt.sampleRate, est.Confidence)
		}
		if len(est.Candidates) == 0 || len(est.Candidates) > maxCandidates {
			t.Errorf("%v BPM @ %d: %d candidates", tt.bpm, tt.sampleRate, len(est.Candidates))
		}
	}
}

func TestEstimateSilence(t *testing.T) {
	est, err := Estimate(context.Background(), make([][2]float32, 4*48000), 48000, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if est.BPM != nil {
		t.Errorf("BPM = %v for silence, want nil", *est.BPM)
	}
	if est.Key != UnknownKey || est.KeyConfidence != 0 {
		t.Errorf("key = %q (%.2f), want unknown", est.Key, est.KeyConfidence)
	}
}

func TestEstimateKey(t *testing.T) {
	tests := []struct {
		name    string
		frames  [][2]float32
		camelot string
		key     string
	}{
		{"C major triad", chord(261.63, majorProfile, []int{0, 4, 7}, 48000, 4*time.Second), "8B", "C"},
		{"A minor triad", chord(220.0, minorProfile, []int{0, 3, 7}, 48000, 4*time.Second), "8A", "Am"},
	}
	for _, tt := range tests {
		est, err := Estimate(context.Background(), tt.frames, 48000, DefaultOptions())
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if est.Key != tt.camelot || est.KeyName != tt.key {
			t.Errorf("%s: key = %s (%s), want %s (%s)", tt.name, est.Key, est.KeyName, tt.camelot, tt.key)
		}
		if est.KeyConfidence < KeyConfidenceFloor {
			t.Errorf("%s: key confidence %.3f below floor", tt.name, est.KeyConfidence)
		}
	}
}

func TestEstimateErrors(t *testing.T) {
	frames := make([][2]float32, 10)
	if _, err := Estimate(context.Background(), frames, 0, DefaultOptions()); !errors.Is(err, ErrBadSampleRate) {
		t.Errorf("sample rate 0: err = %v", err)
	}
	if _, err := Estimate(context.Background(), nil, 48000, DefaultOptions()); !errors.Is(err, ErrNoAudio) {
		t.Errorf("empty: err = %v", err)
	}
	if _, err := Estimate(context.Background(), frames, 48000, Options{MinBPM: 150, MaxBPM: 100}); !errors.Is(err, ErrBadTempoRange) {
		t.Errorf("inverted range: err = %v", err)
	}
}

func TestEstimateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Estimate(ctx, clickTrack(120, 48000, 2*time.Second), 48000, DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCamelot(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{Key{Tonic: 0}, "8B"},
		{Key{Tonic: 7}, "9B"},
		{Key{Tonic: 5}, "7B"},
		{Key{Tonic: 11}, "1B"},
		{Key{Tonic: 9, Minor: true}, "8A"},
		{Key{Tonic: 4, Minor: true}, "9A"},
		{Key{Tonic: 2, Minor: true}, "7A"},
		{Key{Tonic: 6, Minor: true}, "11A"},
	}
	for _, tt := range tests {
		if got := tt.key.Camelot(); got != tt.want {
			t.Errorf("%s.Camelot() = %s, want %s", tt.key.Name(), got, tt.want)
		}
	}
}

func TestDoubleIsStrong(t *testing.T) {
	t.Parallel()

	// Peaks every 10 lags: the 20-lag beat has an equally strong half.
	acf := make([]float64, 45)
	for k := 0; k < len(acf); k += 10 {
		acf[k] = 1 - float64(k)/100
	}
	if !doubleIsStrong(acf, 60, 180) {
		t.Error("pulse at half period not detected")
	}

	// Peaks only every 20 lags.
	acf = make([]float64, 45)
	for k := 0; k < len(acf); k += 20 {
		acf[k] = 1 - float64(k)/100
	}
	if doubleIsStrong(acf, 60, 180) {
		t.Error("empty half period reported strong")
	}
}

func TestLagValueInterpolates(t *testing.T) {
	acf := []float64{1, 0.5, 0.25}
	tests := []struct{ lag, want float64 }{
		{0, 1},
		{0.5, 0.75},
		{1.5, 0.375},
		{2, 0.25},
		{2.5, 0},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := lagValue(acf, tt.lag); got != tt.want {
			t.Errorf("lagValue(%v) = %v, want %v", tt.lag, got, tt.want)
		}
	}
}

func TestRefineLag(t *testing.T) {
	// Samples of -(x-2.25)² around the vertex at 2.25.
	acf := make([]float64, 5)
	for i := range acf {
		d := float64(i) - 2.25
		acf[i] = 1 - d*d
	}
	if got := refineLag(acf, 2); math.Abs(got-2.25) > 1e-12 {
		t.Errorf("refineLag = %v, want 2.25", got)
	}
	if got := refineLag(acf, 0); got != 0 {
		t.Errorf("refineLag at edge = %v, want 0", got)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "data", "analysis.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	bpm := 127.9
	want := TempoKeyEstimate{
		BPM:           &bpm,
		Confidence:    0.8,
		Candidates:    []Candidate{{BPM: 127.9, Score: 1.2}, {BPM: 64, Score: 0.9}},
		Key:           "8A",
		KeyName:       "Am",
		KeyConfidence: 0.3,
	}
	if err := s.Put("track-1", want); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("track-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.BPM == nil || *got.BPM != bpm || got.Key != "8A" || got.KeyName != "Am" || len(got.Candidates) != 2 {
		t.Errorf("Get = %+v", got)
	}

	if err := s.Put("track-2", TempoKeyEstimate{Key: UnknownKey, Candidates: []Candidate{}}); err != nil {
		t.Fatal(err)
	}
	got, err = s.Get("track-2")
	if err != nil || got.BPM != nil || got.Key != UnknownKey {
		t.Errorf("Get(track-2) = %+v, %v", got, err)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: err = %v", err)
	}
}

func testBuffer() *audio.Buffer {
	return &audio.Buffer{Frames: make([][2]float32, 1024), SampleRate: 48000}
}

func TestAnalyzerCancelsSupersededRun(t *testing.T) {
	a := NewAnalyzer(DefaultOptions(), nil)
	started := make(chan struct{}, 2)
	var calls atomic.Int32
	bpm := 120.0
	a.estimate = func(ctx context.Context, _ [][2]float32, _ int, _ Options) (TempoKeyEstimate, error) {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-ctx.Done()
			return TempoKeyEstimate{}, ctx.Err()
		}
		return TempoKeyEstimate{BPM: &bpm, Key: UnknownKey}, nil
	}
	results := make(chan Result, 4)
	a.Subscribe(func(r Result) { results <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	if err := a.Submit(deck.A, "old", testBuffer()); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := a.Submit(deck.A, "new", testBuffer()); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-results:
		if r.SourceID != "new" || r.Err != nil || r.Estimate.BPM == nil {
			t.Errorf("result = %+v, want the newer source", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}
	select {
	case r := <-results:
		t.Errorf("unexpected extra result %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAnalyzerUsesCache(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	bpm := 174.0
	store.Put("cached", TempoKeyEstimate{BPM: &bpm, Key: "5A", Candidates: []Candidate{}})

	a := NewAnalyzer(DefaultOptions(), store)
	a.estimate = func(context.Context, [][2]float32, int, Options) (TempoKeyEstimate, error) {
		t.Error("estimate called for cached source")
		return TempoKeyEstimate{}, nil
	}
	results := make(chan Result, 1)
	a.Subscribe(func(r Result) { results <- r })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.Submit(deck.B, "cached", testBuffer())
	select {
	case r := <-results:
		if !r.Cached || r.Deck != deck.B || *r.Estimate.BPM != 174 {
			t.Errorf("result = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}

	if est, err := a.Lookup("cached"); err != nil || est.Key != "5A" {
		t.Errorf("Lookup = %+v, %v", est, err)
	}
}

func TestAnalyzerRejectsEmptyBuffer(t *testing.T) {
	a := NewAnalyzer(DefaultOptions(), nil)
	if err := a.Submit(deck.A, "x", nil); !errors.Is(err, ErrNoAudio) {
		t.Errorf("err = %v, want ErrNoAudio", err)
	}
	a.Close()
	if err := a.Submit(deck.A, "x", testBuffer()); !errors.Is(err, ErrAnalyzerClosed) {
		t.Errorf("after Close: err = %v", err)
	}
}
