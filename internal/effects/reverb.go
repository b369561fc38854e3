package effects

import (
	"math"
	"math/rand/v2"

	"github.com/cwbudde/algo-dsp/dsp/conv"
	"github.com/cwbudde/algo-dsp/dsp/delay"
	"github.com/cwbudde/algo-vecmath"

	"github.com/satindergrewal/twindeck/internal/dsp"
)

// Partition sizes of the reverb convolver: 2^6 samples of latency, growing
// to 2^13 sample partitions for the tail.
const (
	convMinOrder = 6
	convMaxOrder = 13
)

// ImpulseResponse synthesizes an exponentially decaying noise burst. The same
// seed always yields the same response.
func ImpulseResponse(length int, decay float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
	ir := make([]float64, length)
	var energy float64
	for i := range ir {
		env := math.Pow(1-float64(i)/float64(length), decay)
		ir[i] = (2*rng.Float64() - 1) * env
		energy += ir[i] * ir[i]
	}
	if energy > 0 {
		vecmath.ScaleBlock(ir, ir, 1/math.Sqrt(energy))
	}
	return ir
}

// reverbNode is pre-delay followed by decorrelated left/right convolution.
type reverbNode struct {
	pre      [2]*delay.Line
	preDelay float64
	conv     [2]*conv.PartitionedConvolution
	wet      float64

	in, tail [2][]float64
}

func (n *reverbNode) Process(l, r []float64) {
	if len(n.in[0]) < len(l) {
		for ch := range n.in {
			n.in[ch] = make([]float64, len(l))
			n.tail[ch] = make([]float64, len(l))
		}
	}
	for ch, buf := range [2][]float64{l, r} {
		in, tail := n.in[ch][:len(buf)], n.tail[ch][:len(buf)]
		for i, x := range buf {
			n.pre[ch].Write(x)
			in[i] = n.pre[ch].ReadFractional(n.preDelay)
		}
		if err := n.conv[ch].ProcessBlock(in, tail); err != nil {
			continue
		}
		vecmath.ScaleBlockInPlace(tail, n.wet)
		vecmath.AddBlockInPlace(buf, tail)
	}
}

func (n *reverbNode) Reset() {
	for ch := range n.pre {
		n.pre[ch].Reset()
		n.conv[ch].Reset()
	}
}

func buildReverb(b *builder, x float64) {
	preMs := b.param("predelay_ms", lerp(10, 40, x))
	length := b.param("length_s", lerp(0.8, 3.5, x))
	decay := b.param("decay", lerp(4, 2, x))
	wet := b.param("level", lerp(0.5, 0.9, x))

	samples := int(length * b.sampleRate)
	pre := preMs * b.sampleRate / 1000
	node := &reverbNode{preDelay: pre, wet: wet}
	for ch := range node.conv {
		pc, err := conv.NewPartitionedConvolution(ImpulseResponse(samples, decay, b.seed+uint64(ch)), convMinOrder, convMaxOrder)
		if err != nil {
			// An empty response leaves the chain dry.
			return
		}
		node.conv[ch] = pc
		node.pre[ch] = dsp.NewDelay(pre)
	}
	b.add(node)
}
