package analysis

import (
	"context"
	"math"
	"sort"

	"github.com/cwbudde/algo-dsp/dsp/window"
	"github.com/samber/lo"
)

const (
	onsetFrame = 1024
	onsetHop   = 512

	lowBandHz  = 150.0
	highBandHz = 2000.0
	highWeight = 0.6

	bpmStep       = 0.1
	maxCandidates = 8
	octaveTol     = 0.03
	snapRatio     = 0.97

	// strongLagRatio is how strong the half-period autocorrelation peak must
	// be, relative to the full period, for the faster octave to win.
	strongLagRatio = 0.8
)

// Candidate is one local maximum of the tempo score curve.
type Candidate struct {
	BPM   float64 `json:"bpm"`
	Score float64 `json:"score"`
}

type tempoResult struct {
	bpm        float64
	ok         bool
	confidence float64
	candidates []Candidate
}

// onsetEnvelope turns mono audio into a conditioned onset-strength curve
// sampled at sampleRate/onsetHop.
func onsetEnvelope(ctx context.Context, mono []float64, sampleRate float64) ([]float64, error) {
	n := (len(mono)-onsetFrame)/onsetHop + 1
	if len(mono) < onsetFrame || n < 3 {
		return nil, nil
	}

	aLow := 1 - math.Exp(-2*math.Pi*lowBandHz/sampleRate)
	aHigh := 1 - math.Exp(-2*math.Pi*highBandHz/sampleRate)
	low := make([]float64, len(mono))
	high := make([]float64, len(mono))
	var lpLow, lpHigh float64
	for i, x := range mono {
		lpLow += aLow * (x - lpLow)
		lpHigh += aHigh * (x - lpHigh)
		low[i] = lpLow
		high[i] = x - lpHigh
	}

	logLow := make([]float64, n)
	logHigh := make([]float64, n)
	for f := range n {
		if f%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		start := f * onsetHop
		var eLow, eHigh float64
		for _, v := range low[start : start+onsetFrame] {
			eLow += v * v
		}
		for _, v := range high[start : start+onsetFrame] {
			eHigh += v * v
		}
		logLow[f] = math.Log(eLow/onsetFrame + 1e-10)
		logHigh[f] = math.Log(eHigh/onsetFrame + 1e-10)
	}

	onset := make([]float64, n)
	for f := 1; f < n; f++ {
		onset[f] = math.Max(0, logLow[f]-logLow[f-1]) + highWeight*math.Max(0, logHigh[f]-logHigh[f-1])
	}

	// 3-frame moving average.
	smooth := make([]float64, n)
	for f := range n {
		from, to := max(0, f-1), min(n-1, f+1)
		var sum float64
		for _, v := range onset[from : to+1] {
			sum += v
		}
		smooth[f] = sum / float64(to-from+1)
	}

	mean, std := meanStd(smooth)
	if std == 0 {
		return nil, nil
	}
	for f, v := range smooth {
		smooth[f] = math.Max(0, (v-mean)/std)
	}

	// Slow-drift removal with a 1 s one-pole lowpass.
	fps := sampleRate / onsetHop
	a := 1 - math.Exp(-1/fps)
	env := make([]float64, n)
	lp := smooth[0]
	for f, v := range smooth {
		lp += a * (v - lp)
		env[f] = v - lp
	}

	window.Apply(window.TypeHann, env)
	return env, nil
}

// autocorrelation returns the biased autocorrelation of x for lags
// 0..maxLag, normalised so lag 0 is 1. It returns nil for a silent input.
func autocorrelation(x []float64, maxLag int) []float64 {
	maxLag = min(maxLag, len(x)-1)
	acf := make([]float64, maxLag+1)
	for k := range acf {
		var sum float64
		for i := 0; i+k < len(x); i++ {
			sum += x[i] * x[i+k]
		}
		acf[k] = sum
	}
	if acf[0] <= 0 {
		return nil
	}
	zero := acf[0]
	for k := range acf {
		acf[k] /= zero
	}
	return acf
}

// lagValue linearly interpolates acf at a fractional lag.
func lagValue(acf []float64, lag float64) float64 {
	if lag < 0 {
		return 0
	}
	i := int(lag)
	if i >= len(acf)-1 {
		if i == len(acf)-1 && lag == float64(i) {
			return acf[i]
		}
		return 0
	}
	frac := lag - float64(i)
	return acf[i]*(1-frac) + acf[i+1]*frac
}

// harmonicScore weighs the beat lag with its double and half.
func harmonicScore(acf []float64, fps, bpm float64) float64 {
	lag := 60 * fps / bpm
	return lagValue(acf, lag) + 0.5*lagValue(acf, 2*lag) + 0.25*lagValue(acf, lag/2)
}

// lagPeak returns the largest acf value within two lags of lag.
func lagPeak(acf []float64, lag float64) float64 {
	c := int(math.Round(lag))
	peak := math.Inf(-1)
	for k := max(0, c-2); k <= c+2 && k < len(acf); k++ {
		peak = math.Max(peak, acf[k])
	}
	if math.IsInf(peak, -1) {
		return 0
	}
	return peak
}

// doubleIsStrong reports whether onsets recur at half the beat period of bpm
// about as regularly as at the full period. The harmonic score favours the
// slower octave on a steady pulse, so this decides between bpm and 2*bpm.
func doubleIsStrong(acf []float64, fps, bpm float64) bool {
	slow := lagPeak(acf, 60*fps/bpm)
	fast := lagPeak(acf, 30*fps/bpm)
	return slow > 0 && fast >= strongLagRatio*slow
}

// refineLag returns the parabolic vertex of acf around integer lag i.
func refineLag(acf []float64, i int) float64 {
	if i < 1 || i+1 >= len(acf) {
		return float64(i)
	}
	y0, y1, y2 := acf[i-1], acf[i], acf[i+1]
	d := y0 - 2*y1 + y2
	if d >= 0 {
		return float64(i)
	}
	off := lo.Clamp(0.5*(y0-y2)/d, -0.5, 0.5)
	return float64(i) + off
}

func estimateTempo(ctx context.Context, mono []float64, sampleRate float64, opts Options) (tempoResult, error) {
	env, err := onsetEnvelope(ctx, mono, sampleRate)
	if err != nil || env == nil {
		return tempoResult{}, err
	}

	fps := sampleRate / onsetHop
	maxLag := int(math.Ceil(60*fps/opts.MinBPM))*2 + 2
	acf := autocorrelation(env, maxLag)
	if acf == nil {
		return tempoResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return tempoResult{}, err
	}

	steps := int(math.Round((opts.MaxBPM-opts.MinBPM)/bpmStep)) + 1
	grid := make([]float64, steps)
	scores := make([]float64, steps)
	best := 0
	for i := range grid {
		grid[i] = opts.MinBPM + float64(i)*bpmStep
		scores[i] = harmonicScore(acf, fps, grid[i])
		if scores[i] > scores[best] {
			best = i
		}
	}

	// Local maxima of the score curve, strongest first.
	var peaks []Candidate
	for i := range scores {
		left := i == 0 || scores[i] > scores[i-1]
		right := i == len(scores)-1 || scores[i] >= scores[i+1]
		if left && right {
			peaks = append(peaks, Candidate{BPM: round1(grid[i]), Score: scores[i]})
		}
	}
	sort.SliceStable(peaks, func(a, b int) bool { return peaks[a].Score > peaks[b].Score })

	bestBPM, bestScore := grid[best], scores[best]
	mean, std := meanStd(scores)
	second := mean
	for _, p := range peaks {
		if !octaveRelated(p.BPM, bestBPM) {
			second = p.Score
			break
		}
	}

	var confidence float64
	if bestScore != 0 {
		sep := lo.Clamp((bestScore-second)/math.Abs(bestScore), 0, 1)
		prominence := 0.0
		if std > 0 {
			prominence = (bestScore - mean) / std
		}
		confidence = sep * sigmoid(prominence)
	}

	beat := bestBPM
	if 2*beat <= opts.MaxBPM && doubleIsStrong(acf, fps, beat) {
		beat *= 2
	}

	// Gentle octave snap toward the preferred tempo. A slower alternative is
	// never taken over a confirmed faster pulse.
	for _, factor := range []float64{2, 0.5} {
		alt := beat * factor
		if alt < opts.MinBPM || alt > opts.MaxBPM {
			continue
		}
		if harmonicScore(acf, fps, alt) < snapRatio*harmonicScore(acf, fps, beat) {
			continue
		}
		if factor < 1 && doubleIsStrong(acf, fps, alt) {
			continue
		}
		if math.Abs(math.Log2(alt/opts.PreferredBPM)) < math.Abs(math.Log2(beat/opts.PreferredBPM)) {
			beat = alt
			break
		}
	}

	lag := 60 * fps / beat
	refined := (refineLag(acf, int(math.Round(lag))) + refineLag(acf, int(math.Round(2*lag)))/2) / 2
	bpm := 60 * fps / refined

	return tempoResult{
		bpm:        bpm,
		ok:         true,
		confidence: confidence,
		candidates: peaks[:min(len(peaks), maxCandidates)],
	}, nil
}

func octaveRelated(bpm, ref float64) bool {
	for _, m := range []float64{0.5, 1, 2} {
		target := ref * m
		if math.Abs(bpm-target) <= octaveTol*target {
			return true
		}
	}
	return false
}

func meanStd(x []float64) (mean, std float64) {
	if len(x) == 0 {
		return 0, 0
	}
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	for _, v := range x {
		std += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(std / float64(len(x)))
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func round1(x float64) float64 { return math.Round(x*10) / 10 }
