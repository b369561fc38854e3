package output

import "testing"

func TestFrameStreamerConverts(t *testing.T) {
	frames := make(chan []int16, 2)
	frames <- []int16{16384, -16384, 0, 32767}
	done := make(chan struct{})
	s := newFrameStreamer(frames, done)

	buf := make([][2]float64, 3)
	n, ok := s.Stream(buf)
	if n != 3 || !ok {
		t.Fatalf("Stream = %d, %v", n, ok)
	}
	if buf[0] != [2]float64{0.5, -0.5} {
		t.Errorf("frame 0 = %v", buf[0])
	}
	if buf[1][0] != 0 || buf[1][1] < 0.999 {
		t.Errorf("frame 1 = %v", buf[1])
	}
	if buf[2] != [2]float64{} || s.under.Load() != 1 {
		t.Errorf("underrun frame = %v under=%d", buf[2], s.under.Load())
	}
}

func TestFrameStreamerStopsWhenDone(t *testing.T) {
	frames := make(chan []int16)
	done := make(chan struct{})
	close(done)
	s := newFrameStreamer(frames, done)
	n, ok := s.Stream(make([][2]float64, 8))
	if n != 0 || ok {
		t.Errorf("Stream after done = %d, %v", n, ok)
	}
	if s.Err() != nil {
		t.Error("Err != nil")
	}
}
