package effects

import "math"

// shaperTableSize is the resolution of the wave-shaping curves over [-1,1].
const shaperTableSize = 44100

// ShaperTable samples curve over [-1,1].
func ShaperTable(curve func(x float64) float64) []float64 {
	table := make([]float64, shaperTableSize)
	for i := range table {
		x := 2*float64(i)/float64(shaperTableSize-1) - 1
		table[i] = curve(x)
	}
	return table
}

// shaper maps samples through a lookup table, optionally holding every
// hold-th sample to reduce the effective sample rate.
type shaper struct {
	table []float64
	hold  int
	count int
	held  [2]float64
}

func (s *shaper) lookup(x float64) float64 {
	if x <= -1 {
		return s.table[0]
	}
	if x >= 1 {
		return s.table[len(s.table)-1]
	}
	pos := (x + 1) / 2 * float64(len(s.table)-1)
	i := int(pos)
	frac := pos - float64(i)
	if i+1 >= len(s.table) {
		return s.table[i]
	}
	return s.table[i]*(1-frac) + s.table[i+1]*frac
}

func (s *shaper) Process(l, r []float64) {
	for i := range l {
		if s.hold > 1 {
			if s.count == 0 {
				s.held[0] = s.lookup(l[i])
				s.held[1] = s.lookup(r[i])
			}
			s.count = (s.count + 1) % s.hold
			l[i], r[i] = s.held[0], s.held[1]
			continue
		}
		l[i] = s.lookup(l[i])
		r[i] = s.lookup(r[i])
	}
}

func (s *shaper) Reset() {
	s.count = 0
	s.held = [2]float64{}
}

func buildBitcrush(b *builder, x float64) {
	bits := math.Round(b.param("bits", lerp(12, 3, x)))
	hold := b.param("hold", math.Floor(lerp(1, 16, x)))
	levels := math.Pow(2, bits-1)
	b.add(&shaper{
		table: ShaperTable(func(v float64) float64 { return math.Round(v*levels) / levels }),
		hold:  int(hold),
	})
}

func buildOverdrive(b *builder, x float64) {
	drive := b.param("drive", lerp(1, 20, x))
	norm := math.Tanh(drive)
	b.add(&shaper{table: ShaperTable(func(v float64) float64 { return math.Tanh(drive*v) / norm })})
}

func buildCrush(b *builder, x float64) {
	drive := b.param("drive", lerp(4, 40, x))
	bits := math.Round(b.param("bits", lerp(8, 4, x)))
	levels := math.Pow(2, bits-1)
	norm := math.Tanh(drive)
	b.add(&shaper{table: ShaperTable(func(v float64) float64 {
		return math.Round(math.Tanh(drive*v)/norm*levels) / levels
	})})
}
