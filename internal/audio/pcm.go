package audio

import (
	"encoding/binary"
	"math"
)

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// SoftClip limits x to (-1,1) with a tanh knee above 0.9.
func SoftClip(x float64) float64 {
	const knee = 0.9
	if x > knee {
		return knee + (1-knee)*math.Tanh((x-knee)/(1-knee))
	}
	if x < -knee {
		return -knee - (1-knee)*math.Tanh((-x-knee)/(1-knee))
	}
	return x
}

// Interleave converts planar float channels to clipped int16 PCM.
// dst must hold 2*len(l) samples.
func Interleave(dst []int16, l, r []float64) {
	for i := range l {
		dst[2*i] = toInt16(SoftClip(l[i]))
		dst[2*i+1] = toInt16(SoftClip(r[i]))
	}
}

func toInt16(x float64) int16 {
	v := math.Round(x * 32767)
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToFrames decodes interleaved s16le stereo into float frames.
func BytesToFrames(raw []byte) [][2]float32 {
	n := len(raw) / 4
	frames := make([][2]float32, n)
	for i := range frames {
		l := int16(binary.LittleEndian.Uint16(raw[i*4:]))
		r := int16(binary.LittleEndian.Uint16(raw[i*4+2:]))
		frames[i] = [2]float32{float32(l) / 32768, float32(r) / 32768}
	}
	return frames
}
