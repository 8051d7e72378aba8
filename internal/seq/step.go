package seq

import (
	"fmt"
	"math"

	"golang.org/x/text/unicode/norm"
)

// Channel identifies one output channel of one device.
type Channel struct {
	Device string
	Number int
}

// String renders the channel as "device/number".
func (c Channel) String() string {
	return fmt.Sprintf("%s/%d", c.Device, c.Number)
}

// MarkerKind identifies one of the two digital marker lanes of a channel.
type MarkerKind string

const (
	// MarkerSample is the sample-marker lane (bit 0 of a DAC word).
	MarkerSample MarkerKind = "smpl"

	// MarkerSync is the sync-marker lane (bit 1 of a DAC word).
	MarkerSync MarkerKind = "sync"
)

// Kind names a payload variant.
type Kind string

const (
	// KindWait outputs zero amplitude.
	KindWait Kind = "wait"

	// KindConstant holds a fixed normalized output level.
	KindConstant Kind = "constant"

	// KindArbitrary plays back a literal sample vector.
	KindArbitrary Kind = "arbitrary"

	// KindSine superposes fixed-frequency tones.
	KindSine Kind = "sine"
)

// Payload is a sealed interface over the per-channel waveform description of
// a Step. Only Wait, Constant, Arbitrary, and Sine implement it.
type Payload interface {
	payload() // Sealed - only these types implement it

	// Kind returns the variant name.
	Kind() Kind

	// AveragePower returns the normalized full-scale average power of the
	// payload. Only sine payloads contribute power; the duty-cycle limiter
	// consumes this.
	AveragePower() float64

	// validate checks the payload against the resolved step length.
	validate(lengthSmpl int64) error
}

// Wait outputs zero amplitude for the full step duration.
type Wait struct{}

func (Wait) payload() {}

// Kind implements Payload.
func (Wait) Kind() Kind { return KindWait }

// AveragePower implements Payload. Wait contributes no power.
func (Wait) AveragePower() float64 { return 0 }

func (Wait) validate(int64) error { return nil }

// Constant holds the output at a fixed level, normalized to [-1, 1].
type Constant struct {
	Value float64
}

func (Constant) payload() {}

// Kind implements Payload.
func (Constant) Kind() Kind { return KindConstant }

// AveragePower implements Payload. Constant output is not sine-type and is
// not counted against the duty-cycle ceiling.
func (Constant) AveragePower() float64 { return 0 }

func (c Constant) validate(int64) error {
	if math.Abs(c.Value) > 1 {
		return NewConfigurationError(fmt.Sprintf("constant value %v outside [-1, 1]", c.Value))
	}
	return nil
}

// Arbitrary plays back a literal sample vector, normalized to [-1, 1]. The
// vector length must equal the step length in samples.
type Arbitrary struct {
	Samples []float64
}

func (Arbitrary) payload() {}

// Kind implements Payload.
func (Arbitrary) Kind() Kind { return KindArbitrary }

// AveragePower implements Payload. Arbitrary payloads are not sine-type; the
// limiter only bounds sine steps.
func (Arbitrary) AveragePower() float64 { return 0 }

func (a Arbitrary) validate(lengthSmpl int64) error {
	if int64(len(a.Samples)) != lengthSmpl {
		return NewConfigurationError(fmt.Sprintf("arbitrary payload has %d samples for a %d sample step", len(a.Samples), lengthSmpl))
	}
	for i, v := range a.Samples {
		if math.Abs(v) > 1 {
			return NewConfigurationError(fmt.Sprintf("arbitrary sample %d is %v, outside [-1, 1]", i, v))
		}
	}
	return nil
}

// Component is one tone of a Sine payload.
type Component struct {
	FrequencyMHz float64
	Amplitude    float64
	PhaseDeg     float64
}

// Sine superposes one or more fixed-frequency tones. By default the
// oscillator phase carries the running sample offset of the whole channel
// stream, so repeated and adjacent sine steps stay phase-coherent.
type Sine struct {
	Components []Component

	// AbsolutePhase restarts the oscillator at every step start instead of
	// carrying the coherent sample offset.
	AbsolutePhase bool
}

func (Sine) payload() {}

// Kind implements Payload.
func (Sine) Kind() Kind { return KindSine }

// AveragePower implements Payload: sum(a_i^2)/2 in normalized full-scale
// units, assuming uncorrelated-frequency superposition.
func (s Sine) AveragePower() float64 {
	var p float64
	for _, c := range s.Components {
		p += c.Amplitude * c.Amplitude
	}
	return p / 2
}

// amplitudeSlack tolerates accumulated float error when checking that the
// component amplitudes sum to at most full scale: ten times the float64
// machine epsilon.
var amplitudeSlack = 10 * (math.Nextafter(1, 2) - 1)

func (s Sine) validate(int64) error {
	if len(s.Components) == 0 {
		return NewConfigurationError("sine payload needs at least one component")
	}
	var sum float64
	for i, c := range s.Components {
		if c.Amplitude < 0 || c.Amplitude > 1 {
			return NewConfigurationError(fmt.Sprintf("sine component %d amplitude %v outside [0, 1]", i, c.Amplitude))
		}
		sum += c.Amplitude
	}
	if sum-1 > amplitudeSlack {
		return NewConfigurationError(fmt.Sprintf("sine component amplitudes sum to %v, above full scale", sum))
	}
	return nil
}

// Step is one named interval of one channel's timeline.
//
// INVARIANTS:
//   - LengthSmpl >= 1 and is fixed by unit conversion exactly once, in
//     NewStep. It never changes afterwards.
//   - Payload is never nil.
type Step struct {
	Name       string
	LengthSmpl int64
	Payload    Payload

	// SampleMarker and SyncMarker drive the two digital marker lanes high
	// for the step's full duration.
	SampleMarker bool
	SyncMarker   bool
}

// StepOption customizes a Step at construction.
type StepOption func(*Step)

// WithSampleMarker drives the sample-marker lane high for the step.
func WithSampleMarker() StepOption {
	return func(s *Step) { s.SampleMarker = true }
}

// WithSyncMarker drives the sync-marker lane high for the step.
func WithSyncMarker() StepOption {
	return func(s *Step) { s.SyncMarker = true }
}

// NewStep builds a validated Step. The name is normalized to NFC, the length
// is resolved to samples, and the payload is checked against it.
func NewStep(name string, length Length, p Payload, opts ...StepOption) (Step, error) {
	if name == "" {
		return Step{}, NewConfigurationError("step name must not be empty")
	}
	if p == nil {
		p = Wait{}
	}
	smpl, err := length.samples()
	if err != nil {
		return Step{}, err
	}
	if smpl < 1 {
		return Step{}, NewConfigurationError(fmt.Sprintf("step %q resolves to %d samples, need at least 1", name, smpl))
	}
	if smpl > MaxLengthSmpl {
		return Step{}, NewConfigurationError(fmt.Sprintf("step %q resolves to %d samples, above the %d sample limit", name, smpl, int64(MaxLengthSmpl)))
	}
	if err := p.validate(smpl); err != nil {
		return Step{}, err
	}
	st := Step{
		Name:       CanonicalName(name),
		LengthSmpl: smpl,
		Payload:    p,
	}
	for _, opt := range opts {
		opt(&st)
	}
	return st, nil
}

// waitStep builds an internal wait step without the user-facing validation.
// Padding and limiter steps are created through this.
func waitStep(name string, lengthSmpl int64) Step {
	return Step{Name: name, LengthSmpl: lengthSmpl, Payload: Wait{}}
}

// LengthMus returns the step duration in microseconds.
func (s Step) LengthMus() float64 {
	return MusFromSamples(s.LengthSmpl)
}

// AveragePower returns the normalized average power of the step's payload.
func (s Step) AveragePower() float64 {
	return s.Payload.AveragePower()
}

// CanonicalName normalizes a user-supplied name to NFC so that lookups and
// ledger keys compare byte-wise. Names are canonicalized on construction;
// callers addressing sequences by name later (the memory directory, the CLI)
// apply the same normalization.
func CanonicalName(s string) string {
	return norm.NFC.String(s)
}
