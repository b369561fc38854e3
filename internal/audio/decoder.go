package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// DecodeFile decodes a local audio file to a Buffer at SampleRate. WAV and
// MP3 are decoded in process; anything else, or a file beep rejects, goes
// through FFmpeg.
func DecodeFile(ctx context.Context, path string) (*Buffer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".mp3":
		buf, err := decodeBeep(ctx, path)
		if err == nil {
			return buf, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return DecodeFFmpeg(ctx, path)
}

func decodeBeep(ctx context.Context, path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		streamer, format, err = wav.Decode(f)
	} else {
		streamer, format, err = mp3.Decode(f)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	defer streamer.Close()

	return Drain(ctx, streamer, format.SampleRate)
}

// Drain reads s to the end, resampling to SampleRate. It stops early with
// ctx's error once ctx is done.
func Drain(ctx context.Context, s beep.Streamer, rate beep.SampleRate) (*Buffer, error) {
	target := beep.SampleRate(SampleRate)
	if rate != target {
		s = beep.Resample(4, rate, target, s)
	}

	frames := make([][2]float32, 0, SampleRate*60)
	chunk := make([][2]float64, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, ok := s.Stream(chunk)
		for _, f := range chunk[:n] {
			frames = append(frames, [2]float32{float32(f[0]), float32(f[1])})
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return &Buffer{Frames: frames, SampleRate: SampleRate}, nil
}

// DecodeFFmpeg runs FFmpeg to decode a file path or URL to 48kHz stereo.
func DecodeFFmpeg(ctx context.Context, input string) (*Buffer, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", input,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg decode %s: %w", input, err)
	}
	if len(out) < 4 {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", input, io.ErrUnexpectedEOF)
	}

	return &Buffer{Frames: BytesToFrames(out), SampleRate: SampleRate}, nil
}
