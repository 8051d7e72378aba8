// Package wave turns compiled sequences into the binary blocks the device
// memory holds: little-endian int16 DAC words with the two marker lanes in
// the low bits, plus the sequencer table entries that drive playback.
package wave

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/szaiser/m8190a/internal/seq"
)

const (
	// BytesPerSample is the memory width of one DAC word.
	BytesPerSample = 2

	// dacFullScale is the signed 12-bit full-scale value. Words carry the
	// sample in bits 4..15, the sync marker in bit 1, and the sample marker
	// in bit 0.
	dacFullScale = 2047

	sampleShift     = 4
	sampleMarkerBit = 1 << 0
	syncMarkerBit   = 1 << 1
)

func markerWord(st seq.Step) int16 {
	var m int16
	if st.SampleMarker {
		m |= sampleMarkerBit
	}
	if st.SyncMarker {
		m |= syncMarkerBit
	}
	return m
}

// AppendStepWords synthesizes one step into dst. coherentOffset is the
// step's position in the channel's playback stream; sine payloads without
// absolute phase derive their oscillator argument from it, so tones stay
// phase-continuous across step and segment boundaries.
func AppendStepWords(dst []int16, st seq.Step, coherentOffset int64) []int16 {
	marker := markerWord(st)
	switch p := st.Payload.(type) {
	case seq.Wait:
		for n := int64(0); n < st.LengthSmpl; n++ {
			dst = append(dst, marker)
		}
	case seq.Constant:
		// Truncate toward zero like the device driver's int cast.
		w := int16(p.Value*dacFullScale)<<sampleShift | marker
		for n := int64(0); n < st.LengthSmpl; n++ {
			dst = append(dst, w)
		}
	case seq.Arbitrary:
		for _, v := range p.Samples {
			dst = append(dst, int16(v*dacFullScale)<<sampleShift|marker)
		}
	case seq.Sine:
		offset := coherentOffset
		if p.AbsolutePhase {
			offset = 0
		}
		start := len(dst)
		for n := int64(0); n < st.LengthSmpl; n++ {
			dst = append(dst, 0)
		}
		for _, c := range p.Components {
			omega := 2 * math.Pi * c.FrequencyMHz / seq.SamplesPerMus
			phase := c.PhaseDeg * math.Pi / 180
			amp := c.Amplitude * dacFullScale
			for n := int64(0); n < st.LengthSmpl; n++ {
				// Per-component truncation, then int16 summation. The
				// amplitude-sum bound keeps the total inside full scale.
				dst[start+int(n)] += int16(amp * math.Sin(omega*float64(offset+n)+phase))
			}
		}
		for n := start; n < len(dst); n++ {
			dst[n] = dst[n]<<sampleShift | marker
		}
	default:
		// The payload interface is sealed; this is unreachable.
		panic(fmt.Sprintf("wave: unknown payload kind %q", st.Payload.Kind()))
	}
	return dst
}

// SegmentWords synthesizes one playback pass of a compiled segment at the
// given stream offset. Loop repetitions replay these exact words; the device
// sequencer loops memory, it does not re-synthesize.
func SegmentWords(g *seq.Segment, coherentOffset int64) []int16 {
	words := make([]int16, 0, g.TotalLengthSmpl())
	off := coherentOffset
	for _, st := range g.Steps() {
		words = AppendStepWords(words, st, off)
		off += st.LengthSmpl
	}
	return words
}

// ChannelWords serializes the full unrolled playback stream of one channel:
// each segment synthesized once at the offset of its first occurrence, then
// tiled loop-count times. The sequence must be compiled first.
func ChannelWords(s *seq.Sequence, ch seq.Channel) ([]int16, error) {
	if !s.Sealed() {
		return nil, fmt.Errorf("wave: sequence %q is not compiled", s.Name)
	}
	segs, err := s.Segments(ch)
	if err != nil {
		return nil, err
	}
	stream := make([]int16, 0, s.RepeatedLengthSmpl(ch))
	off := int64(0)
	for _, g := range segs {
		words := SegmentWords(g, off)
		for i := int64(0); i < g.LoopCount; i++ {
			stream = append(stream, words...)
		}
		off += g.RepeatedLengthSmpl()
	}
	return stream, nil
}

// ChannelBytes is ChannelWords rendered as the little-endian byte block
// handed to the write collaborator.
func ChannelBytes(s *seq.Sequence, ch seq.Channel) ([]byte, error) {
	words, err := ChannelWords(s, ch)
	if err != nil {
		return nil, err
	}
	return Bytes(words), nil
}

// ChannelByteLength is the size of ChannelBytes without synthesizing it.
func ChannelByteLength(s *seq.Sequence, ch seq.Channel) int64 {
	return BytesPerSample * s.RepeatedLengthSmpl(ch)
}

// Bytes renders DAC words little-endian.
func Bytes(words []int16) []byte {
	out := make([]byte, BytesPerSample*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(out[BytesPerSample*i:], uint16(w))
	}
	return out
}

// Amplitudes recovers the normalized sample values from DAC words, the
// inverse of the synthesis scaling. Marker bits are discarded.
func Amplitudes(words []int16) []float64 {
	out := make([]float64, len(words))
	for i, w := range words {
		out[i] = float64(w>>sampleShift) / dacFullScale
	}
	return out
}

// MarkerBits extracts one marker lane from DAC words as a packed bitstream,
// least significant bit first.
func MarkerBits(words []int16, kind seq.MarkerKind) ([]byte, error) {
	var bit int16
	switch kind {
	case seq.MarkerSample:
		bit = sampleMarkerBit
	case seq.MarkerSync:
		bit = syncMarkerBit
	default:
		return nil, fmt.Errorf("wave: unknown marker kind %q", string(kind))
	}
	out := make([]byte, (len(words)+7)/8)
	for i, w := range words {
		if w&bit != 0 {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out, nil
}
