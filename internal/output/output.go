// Package output plays the master bus on the local sound card.
package output

import (
	"errors"
	"sync/atomic"

	"github.com/satindergrewal/twindeck/internal/audio"
)

// ErrUnavailable is returned when the binary was built without audio
// device support.
var ErrUnavailable = errors.New("local speaker output unavailable in this build")

// frameStreamer adapts a channel of interleaved int16 frames to a beep
// streamer. Underruns are filled with silence so the device clock never
// stalls.
type frameStreamer struct {
	frames  <-chan []int16
	done    <-chan struct{}
	pending []int16
	under   atomic.Uint64
}

func newFrameStreamer(frames <-chan []int16, done <-chan struct{}) *frameStreamer {
	return &frameStreamer{frames: frames, done: done}
}

func (s *frameStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if len(s.pending) < audio.Channels {
			if !s.next() {
				select {
				case <-s.done:
					return i, i > 0
				default:
				}
				s.under.Add(1)
				samples[i] = [2]float64{}
				continue
			}
		}
		samples[i][0] = float64(s.pending[0]) / 32768
		samples[i][1] = float64(s.pending[1]) / 32768
		s.pending = s.pending[audio.Channels:]
	}
	return len(samples), true
}

func (s *frameStreamer) next() bool {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return false
		}
		s.pending = f
		return len(f) >= audio.Channels
	default:
		return false
	}
}

func (s *frameStreamer) Err() error { return nil }
