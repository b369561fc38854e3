// Package analysis estimates tempo and musical key from decoded audio. It
// runs off the real-time path; see Analyzer for the background worker.
package analysis

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoAudio        = errors.New("no audio to analyse")
	ErrBadSampleRate  = errors.New("invalid sample rate")
	ErrBadTempoRange  = errors.New("invalid tempo range")
	ErrNotFound       = errors.New("no analysis for source")
	ErrAnalyzerClosed = errors.New("analyzer closed")
)

// Options bound the tempo search.
type Options struct {
	MinBPM       float64
	MaxBPM       float64
	PreferredBPM float64
	// SkipKey disables key estimation.
	SkipKey bool
}

// DefaultOptions searches 60-200 BPM and leans toward 120.
func DefaultOptions() Options {
	return Options{MinBPM: 60, MaxBPM: 200, PreferredBPM: 120}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinBPM <= 0 {
		o.MinBPM = d.MinBPM
	}
	if o.MaxBPM <= 0 {
		o.MaxBPM = d.MaxBPM
	}
	if o.PreferredBPM <= 0 {
		o.PreferredBPM = d.PreferredBPM
	}
	return o
}

// TempoKeyEstimate is the analysis result for one buffer. BPM is nil when
// no periodicity was found.
type TempoKeyEstimate struct {
	BPM           *float64    `json:"bpm"`
	Confidence    float64     `json:"confidence"`
	Candidates    []Candidate `json:"candidates"`
	Key           string      `json:"key"`
	KeyName       string      `json:"key_name,omitempty"`
	KeyConfidence float64     `json:"key_confidence"`
}

// Estimate analyses stereo frames at sampleRate.
func Estimate(ctx context.Context, frames [][2]float32, sampleRate int, opts Options) (TempoKeyEstimate, error) {
	if sampleRate <= 0 {
		return TempoKeyEstimate{}, fmt.Errorf("%w: %d", ErrBadSampleRate, sampleRate)
	}
	if len(frames) == 0 {
		return TempoKeyEstimate{}, ErrNoAudio
	}
	opts = opts.withDefaults()
	if opts.MinBPM >= opts.MaxBPM {
		return TempoKeyEstimate{}, fmt.Errorf("%w: %v-%v", ErrBadTempoRange, opts.MinBPM, opts.MaxBPM)
	}

	mono := make([]float64, len(frames))
	for i, f := range frames {
		mono[i] = 0.5 * (float64(f[0]) + float64(f[1]))
	}
	sr := float64(sampleRate)

	est := TempoKeyEstimate{Key: UnknownKey, Candidates: []Candidate{}}
	tempo, err := estimateTempo(ctx, mono, sr, opts)
	if err != nil {
		return TempoKeyEstimate{}, err
	}
	if tempo.ok {
		bpm := tempo.bpm
		est.BPM = &bpm
		est.Confidence = tempo.confidence
		est.Candidates = tempo.candidates
	}

	if opts.SkipKey {
		return est, nil
	}
	key, err := estimateKey(ctx, mono, sr)
	if err != nil {
		return TempoKeyEstimate{}, err
	}
	est.KeyConfidence = key.confidence
	if key.ok {
		est.Key = key.key.Camelot()
		est.KeyName = key.key.Name()
	}
	return est, nil
}
