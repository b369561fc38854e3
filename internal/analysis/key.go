package analysis

import (
	"context"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-dsp/dsp/window"
	"github.com/cwbudde/algo-vecmath"
)

const (
	keySampleRate = 11025.0
	keyFrame      = 4096
	chromaMinHz   = 65.0
	chromaMaxHz   = 5000.0

	// KeyConfidenceFloor is the separation below which no key is reported.
	KeyConfidenceFloor = 0.15
	// UnknownKey is reported when the chroma does not favour one key.
	UnknownKey = "unknown"
)

// Krumhansl-Kessler key profiles, tonic first.
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

var pitchNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Key is a tonic pitch class and mode.
type Key struct {
	Tonic int
	Minor bool
}

// Camelot returns the Camelot wheel label, e.g. 8B for C major, 8A for A minor.
func (k Key) Camelot() string {
	if k.Minor {
		return fmt.Sprintf("%dA", camelotNumber((k.Tonic+3)%12))
	}
	return fmt.Sprintf("%dB", camelotNumber(k.Tonic))
}

// Name returns the conventional name, e.g. "C" or "Am".
func (k Key) Name() string {
	if k.Minor {
		return pitchNames[k.Tonic] + "m"
	}
	return pitchNames[k.Tonic]
}

// camelotNumber positions a major key on the wheel: C is 8, each fifth up
// adds one.
func camelotNumber(tonic int) int {
	return ((tonic*7)%12+7)%12 + 1
}

type keyResult struct {
	key        Key
	ok         bool
	confidence float64
	chroma     [12]float64
}

// chromagram folds the power spectrum of Hann-windowed frames into 12
// pitch classes, normalised to a peak of 1.
func chromagram(ctx context.Context, mono []float64, sampleRate float64) ([12]float64, error) {
	var chroma [12]float64

	factor := max(1, int(math.Round(sampleRate/keySampleRate)))
	rate := sampleRate / float64(factor)
	dec := make([]float64, len(mono)/factor)
	for i := range dec {
		var sum float64
		for _, v := range mono[i*factor : (i+1)*factor] {
			sum += v
		}
		dec[i] = sum / float64(factor)
	}
	if len(dec) < keyFrame {
		return chroma, nil
	}

	plan, err := algofft.NewPlan64(keyFrame)
	if err != nil {
		return chroma, fmt.Errorf("analysis: fft plan: %w", err)
	}

	// Pitch class per FFT bin, -1 outside the analysed range.
	bins := keyFrame / 2
	class := make([]int, bins)
	for k := range class {
		f := float64(k) * rate / keyFrame
		if k == 0 || f < chromaMinHz || f > chromaMaxHz {
			class[k] = -1
			continue
		}
		midi := int(math.Round(12*math.Log2(f/440))) + 69
		class[k] = ((midi % 12) + 12) % 12
	}

	taper, err := window.Hann(keyFrame)
	if err != nil {
		return chroma, fmt.Errorf("analysis: window: %w", err)
	}
	frame := make([]float64, keyFrame)
	src := make([]complex128, keyFrame)
	dst := make([]complex128, keyFrame)
	re := make([]float64, bins)
	im := make([]float64, bins)
	power := make([]float64, bins)

	for start := 0; start+keyFrame <= len(dec); start += keyFrame {
		if err := ctx.Err(); err != nil {
			return chroma, err
		}
		vecmath.MulBlock(frame, dec[start:start+keyFrame], taper)
		for i, v := range frame {
			src[i] = complex(v, 0)
		}
		if err := plan.Forward(dst, src); err != nil {
			return chroma, fmt.Errorf("analysis: fft: %w", err)
		}
		for k := range bins {
			re[k], im[k] = real(dst[k]), imag(dst[k])
		}
		vecmath.Power(power, re, im)
		for k, pc := range class {
			if pc >= 0 {
				chroma[pc] += power[k]
			}
		}
	}

	peak := 0.0
	for _, v := range chroma {
		peak = math.Max(peak, v)
	}
	if peak > 0 {
		for i := range chroma {
			chroma[i] /= peak
		}
	}
	return chroma, nil
}

// pearson is the correlation of chroma with profile rotated to tonic.
func pearson(chroma [12]float64, profile [12]float64, tonic int) float64 {
	var rotated [12]float64
	for i := range rotated {
		rotated[i] = profile[((i-tonic)%12+12)%12]
	}
	mx, _ := meanStd(chroma[:])
	my, _ := meanStd(rotated[:])
	var sxy, sxx, syy float64
	for i := range chroma {
		dx, dy := chroma[i]-mx, rotated[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

func estimateKey(ctx context.Context, mono []float64, sampleRate float64) (keyResult, error) {
	chroma, err := chromagram(ctx, mono, sampleRate)
	if err != nil {
		return keyResult{}, err
	}

	best, second := math.Inf(-1), math.Inf(-1)
	var bestKey Key
	for tonic := range 12 {
		for _, minor := range []bool{false, true} {
			profile := majorProfile
			if minor {
				profile = minorProfile
			}
			r := pearson(chroma, profile, tonic)
			switch {
			case r > best:
				second = best
				best = r
				bestKey = Key{Tonic: tonic, Minor: minor}
			case r > second:
				second = r
			}
		}
	}

	res := keyResult{key: bestKey, chroma: chroma}
	if best <= 0 {
		return res, nil
	}
	res.confidence = (best - second) / best
	res.ok = res.confidence >= KeyConfidenceFloor
	return res, nil
}
