package seq

import "math"

// Hardware constants for the M8190A running at the fixed 12 GSa/s sample clock.
const (
	// SamplesPerMus is the number of samples per microsecond.
	SamplesPerMus = 12000

	// MinSegmentSamples is the smallest sample count a written segment may
	// occupy. Shorter segments are padded up to this size.
	MinSegmentSamples = 320

	// SampleGranularity is the increment in which segment lengths may grow
	// beyond MinSegmentSamples.
	SampleGranularity = 64

	// BlockSamples is one linear-playtime block: MinSegmentSamples plus one
	// granularity step. Trigger timing is expressed in these blocks.
	BlockSamples = MinSegmentSamples + SampleGranularity

	// MaxLengthSmpl bounds any single step or segment length.
	MaxLengthSmpl = 2_000_000_000

	// AmplitudeGranularity is the smallest representable amplitude step of
	// the 12-bit DAC.
	AmplitudeGranularity = 1.0 / (1 << 11)
)

// SamplesFromMus converts a duration in microseconds to samples, rounding to
// the nearest whole sample.
func SamplesFromMus(mus float64) int64 {
	return int64(math.Round(mus * SamplesPerMus))
}

// MusFromSamples converts a sample count to a duration in microseconds.
func MusFromSamples(smpl int64) float64 {
	return float64(smpl) / SamplesPerMus
}

// ValidLength returns the compiled length for a requested sample count:
// MinSegmentSamples for anything at or below it, otherwise the next length of
// the form 320 + 64*n. Segment memory can only be written in these sizes.
func ValidLength(l int64) int64 {
	if l <= MinSegmentSamples {
		return MinSegmentSamples
	}
	rem := (l - MinSegmentSamples) % SampleGranularity
	if rem == 0 {
		return l
	}
	return l + SampleGranularity - rem
}

// PadSamples returns how many wait samples must be appended to a run of
// length l to reach its compiled length.
func PadSamples(l int64) int64 {
	return ValidLength(l) - l
}

// Length is a step duration given in exactly one unit, either microseconds or
// samples. The zero value carries no unit and fails resolution; construct
// through Mus or Smpl.
type Length struct {
	mus  float64
	smpl int64
	unit lengthUnit
}

type lengthUnit uint8

const (
	unitNone lengthUnit = iota
	unitMus
	unitSmpl
)

// Mus specifies a duration in microseconds. It is rounded to the nearest
// whole sample on resolution.
func Mus(v float64) Length {
	return Length{mus: v, unit: unitMus}
}

// Smpl specifies a duration as a sample count.
func Smpl(n int64) Length {
	return Length{smpl: n, unit: unitSmpl}
}

// IsZero reports whether the length was never given a unit.
func (l Length) IsZero() bool {
	return l.unit == unitNone
}

// samples resolves the length to a sample count.
func (l Length) samples() (int64, error) {
	switch l.unit {
	case unitMus:
		if l.mus < 0 {
			return 0, NewConfigurationError("step length must not be negative")
		}
		return SamplesFromMus(l.mus), nil
	case unitSmpl:
		if l.smpl < 0 {
			return 0, NewConfigurationError("step length must not be negative")
		}
		return l.smpl, nil
	default:
		return 0, NewConfigurationError("step length missing: specify either microseconds or samples")
	}
}
