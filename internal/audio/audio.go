package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// SourceKind says where a track comes from.
type SourceKind string

const (
	SourceLocal  SourceKind = "local"
	SourceRemote SourceKind = "remote"
)

// Buffer is a fully decoded stereo track.
type Buffer struct {
	Frames     [][2]float32
	SampleRate int
}

// Len returns the number of stereo frames.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Frames)
}

// Duration returns the playback length at rate 1.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Frames)) * float64(time.Second) / float64(b.SampleRate))
}
