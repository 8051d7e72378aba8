package seq

import "fmt"

// PadStepName is the name of the wait step appended to a segment to satisfy
// the granularity law.
const PadStepName = "_missing_smpls_"

// AdvanceMode selects how the device sequencer leaves a table entry.
type AdvanceMode string

const (
	// AdvanceAuto continues to the next entry unconditionally.
	AdvanceAuto AdvanceMode = "AUTO"

	// AdvanceConditional continues on an advancement event.
	AdvanceConditional AdvanceMode = "COND"

	// AdvanceRepeat repeats the entry until an advancement event.
	AdvanceRepeat AdvanceMode = "REP"

	// AdvanceSingle plays the entry once and then waits for an advancement
	// event. Slave channels end on a single-advance entry so they park until
	// the master's next trigger.
	AdvanceSingle AdvanceMode = "SING"
)

// TableCode returns the 2-bit advance field encoded into sequencer control
// words.
func (m AdvanceMode) TableCode() (uint32, error) {
	switch m {
	case AdvanceAuto:
		return 0, nil
	case AdvanceConditional:
		return 1, nil
	case AdvanceRepeat:
		return 2, nil
	case AdvanceSingle:
		return 3, nil
	default:
		return 0, NewConfigurationError(fmt.Sprintf("unknown advance mode %q", string(m)))
	}
}

// ParseAdvanceMode validates an advance mode name.
func ParseAdvanceMode(s string) (AdvanceMode, error) {
	switch AdvanceMode(s) {
	case AdvanceAuto, AdvanceConditional, AdvanceRepeat, AdvanceSingle:
		return AdvanceMode(s), nil
	default:
		return "", NewConfigurationError(fmt.Sprintf("unknown advance mode %q", s))
	}
}

// Segment is a named, loop-repeated run of Steps on one channel. It is the
// atomic unit written to device memory, so its compiled length obeys the
// granularity law: Compile appends the PadStepName wait step when the raw
// step lengths do not land on a valid length.
//
// INVARIANTS:
//   - After Compile, TotalLengthSmpl() == ValidLength(TotalLengthSmpl()) and
//     the padding step has been appended at most once.
//   - Step names added through Append are unique within the segment.
type Segment struct {
	Name      string
	LoopCount int64
	Advance   AdvanceMode

	// MarkerEnable gates whether the device forwards this segment's marker
	// bits at all. On by default.
	MarkerEnable bool

	steps  []Step
	padded bool
}

// SegmentOption customizes a Segment at construction.
type SegmentOption func(*Segment)

// WithLoop repeats the segment the given number of times during playback.
func WithLoop(n int64) SegmentOption {
	return func(g *Segment) { g.LoopCount = n }
}

// WithAdvance sets the segment's sequencer advance mode.
func WithAdvance(m AdvanceMode) SegmentOption {
	return func(g *Segment) { g.Advance = m }
}

// WithoutMarkers disables marker forwarding for the segment.
func WithoutMarkers() SegmentOption {
	return func(g *Segment) { g.MarkerEnable = false }
}

// NewSegment creates an empty segment with loop count 1 and automatic
// advance.
func NewSegment(name string, opts ...SegmentOption) (*Segment, error) {
	if name == "" {
		return nil, NewConfigurationError("segment name must not be empty")
	}
	g := &Segment{
		Name:         CanonicalName(name),
		LoopCount:    1,
		Advance:      AdvanceAuto,
		MarkerEnable: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.LoopCount < 1 {
		return nil, NewConfigurationError(fmt.Sprintf("segment %q loop count %d, need at least 1", name, g.LoopCount))
	}
	if g.LoopCount > 1<<32-1 {
		return nil, NewConfigurationError(fmt.Sprintf("segment %q loop count %d exceeds the sequencer's 32 bit field", name, g.LoopCount))
	}
	if _, err := g.Advance.TableCode(); err != nil {
		return nil, err
	}
	return g, nil
}

// Append adds a step to the segment. Step names must be unique within the
// segment so steps stay addressable.
func (g *Segment) Append(st Step) error {
	for _, existing := range g.steps {
		if existing.Name == st.Name {
			return NewDuplicateNameError("", st.Name)
		}
	}
	g.steps = append(g.steps, st)
	return nil
}

// appendInternal adds a limiter or padding step without the uniqueness
// check. Internal step names may repeat.
func (g *Segment) appendInternal(st Step) {
	g.steps = append(g.steps, st)
}

// insertAfter places a step directly behind index i.
func (g *Segment) insertAfter(i int, st Step) error {
	if i < 0 || i >= len(g.steps) {
		return NewNotFoundError("", fmt.Sprintf("segment %q has no step index %d", g.Name, i))
	}
	g.steps = append(g.steps, Step{})
	copy(g.steps[i+2:], g.steps[i+1:])
	g.steps[i+1] = st
	return nil
}

// Steps returns the segment's steps in order. The slice is shared with the
// segment; callers must not modify it.
func (g *Segment) Steps() []Step {
	return g.steps
}

// StepByName returns the uniquely named step. It fails when the name is
// absent or, for internal names, duplicated.
func (g *Segment) StepByName(name string) (Step, error) {
	name = CanonicalName(name)
	found := -1
	for i, st := range g.steps {
		if st.Name != name {
			continue
		}
		if found >= 0 {
			return Step{}, NewDuplicateNameError("", name)
		}
		found = i
	}
	if found < 0 {
		return Step{}, NewNotFoundError("", fmt.Sprintf("segment %q has no step %q", g.Name, name))
	}
	return g.steps[found], nil
}

// TotalLengthSmpl is the summed length of the segment's steps, including the
// padding step once Compile has run.
func (g *Segment) TotalLengthSmpl() int64 {
	var sum int64
	for _, st := range g.steps {
		sum += st.LengthSmpl
	}
	return sum
}

// CompiledLengthSmpl is the length the segment occupies in device memory:
// ValidLength of the raw step lengths.
func (g *Segment) CompiledLengthSmpl() int64 {
	return ValidLength(g.TotalLengthSmpl())
}

// RepeatedLengthSmpl is the compiled length multiplied by the loop count,
// the segment's full share of the playback window.
func (g *Segment) RepeatedLengthSmpl() int64 {
	return g.CompiledLengthSmpl() * g.LoopCount
}

// PadSamplesNeeded returns how many wait samples Compile would append now.
func (g *Segment) PadSamplesNeeded() int64 {
	if g.padded {
		return 0
	}
	return PadSamples(g.TotalLengthSmpl())
}

// compile materializes the granularity padding exactly once.
func (g *Segment) compile() {
	if g.padded {
		return
	}
	if missing := PadSamples(g.TotalLengthSmpl()); missing > 0 {
		g.appendInternal(waitStep(PadStepName, missing))
	}
	g.padded = true
}
