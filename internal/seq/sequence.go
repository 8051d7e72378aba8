package seq

import (
	"fmt"
	"slices"
	"sort"
)

// ChannelTable is the configured device/channel map a sequence is validated
// against at creation time.
type ChannelTable interface {
	// DeviceChannels returns the configured channel numbers of a device and
	// whether the device exists.
	DeviceChannels(device string) ([]int, bool)
}

// AliasResolver maps marker alias names to their channel and marker lane.
type AliasResolver interface {
	// ResolveMarkerAlias resolves an alias; ok is false when the alias is
	// not configured.
	ResolveMarkerAlias(alias string) (ch Channel, kind MarkerKind, ok bool)
}

// Config is the slice of the immutable setup the sequence builder consults.
type Config interface {
	ChannelTable
	AliasResolver
}

// Sequence is one logical multi-channel waveform program: an ordered run of
// segments, instantiated once per participating (device, channel) pair under
// a single name.
//
// INVARIANTS:
//   - Builder operations (StartNewSegment, AddStep) apply to every channel in
//     scope, so all channels of one device hold the same number of segments
//     in the same order.
//   - After Compile the sequence is sealed: every mutation fails with a
//     SEALED build error, and every segment carries its granularity padding.
type Sequence struct {
	Name string

	// Advance is the sequence-level sequencer advance mode.
	Advance AdvanceMode

	// LoopCount is the sequence-level repeat count encoded into every
	// sequencer table entry.
	LoopCount int64

	cfg      Config
	channels []Channel
	segs     map[Channel][]*Segment
	segNames map[string]struct{}
	sealed   bool
}

// Option customizes a Sequence at construction.
type Option func(*Sequence)

// WithSequenceAdvance sets the sequence-level advance mode. The default is
// conditional advance.
func WithSequenceAdvance(m AdvanceMode) Option {
	return func(s *Sequence) { s.Advance = m }
}

// WithSequenceLoop sets the sequence-level loop count. The default is 1.
func WithSequenceLoop(n int64) Option {
	return func(s *Sequence) { s.LoopCount = n }
}

// New creates an empty sequence over the requested channels. Every requested
// device and channel number must exist in the configured channel table.
func New(name string, cfg Config, channels map[string][]int, opts ...Option) (*Sequence, error) {
	if name == "" {
		return nil, NewConfigurationError("sequence name must not be empty")
	}
	if cfg == nil {
		return nil, NewConfigurationError("sequence needs a channel table")
	}
	if len(channels) == 0 {
		return nil, NewConfigurationError("sequence needs at least one channel")
	}

	name = CanonicalName(name)
	var scope []Channel
	devices := make([]string, 0, len(channels))
	for dev := range channels {
		devices = append(devices, dev)
	}
	sort.Strings(devices)
	for _, dev := range devices {
		configured, ok := cfg.DeviceChannels(dev)
		if !ok {
			return nil, &BuildError{
				Code:     ErrCodeConfiguration,
				Message:  fmt.Sprintf("device %q is not configured", dev),
				Sequence: name,
			}
		}
		nums := slices.Clone(channels[dev])
		sort.Ints(nums)
		for i, n := range nums {
			if i > 0 && nums[i-1] == n {
				return nil, &BuildError{
					Code:     ErrCodeConfiguration,
					Message:  fmt.Sprintf("channel %d of device %q requested twice", n, dev),
					Sequence: name,
				}
			}
			if !slices.Contains(configured, n) {
				return nil, &BuildError{
					Code:     ErrCodeConfiguration,
					Message:  fmt.Sprintf("device %q has no channel %d", dev, n),
					Sequence: name,
					Channel:  Channel{Device: dev, Number: n}.String(),
				}
			}
			scope = append(scope, Channel{Device: dev, Number: n})
		}
	}

	s := &Sequence{
		Name:      name,
		Advance:   AdvanceConditional,
		LoopCount: 1,
		cfg:       cfg,
		channels:  scope,
		segs:      make(map[Channel][]*Segment, len(scope)),
		segNames:  make(map[string]struct{}),
	}
	for _, ch := range scope {
		s.segs[ch] = nil
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.LoopCount < 1 || s.LoopCount > 1<<32-1 {
		return nil, &BuildError{
			Code:     ErrCodeConfiguration,
			Message:  fmt.Sprintf("sequence loop count %d outside [1, 2^32-1]", s.LoopCount),
			Sequence: name,
		}
	}
	if _, err := s.Advance.TableCode(); err != nil {
		return nil, err
	}
	return s, nil
}

// Channels returns the participating channels ordered by device name, then
// channel number.
func (s *Sequence) Channels() []Channel {
	return slices.Clone(s.channels)
}

// Devices returns the participating device names in order.
func (s *Sequence) Devices() []string {
	var devs []string
	for _, ch := range s.channels {
		if len(devs) == 0 || devs[len(devs)-1] != ch.Device {
			devs = append(devs, ch.Device)
		}
	}
	return devs
}

// DeviceChannels returns the participating channels of one device, in order.
func (s *Sequence) DeviceChannels(device string) []Channel {
	var out []Channel
	for _, ch := range s.channels {
		if ch.Device == device {
			out = append(out, ch)
		}
	}
	return out
}

// HasChannel reports whether the channel takes part in the sequence.
func (s *Sequence) HasChannel(ch Channel) bool {
	return slices.Contains(s.channels, ch)
}

// Sealed reports whether Compile has run.
func (s *Sequence) Sealed() bool {
	return s.sealed
}

// StartNewSegment opens a new segment on every channel in scope. The name
// must not have been used for another segment of this sequence.
func (s *Sequence) StartNewSegment(name string, opts ...SegmentOption) error {
	if s.sealed {
		return NewSealedError(s.Name)
	}
	name = CanonicalName(name)
	if _, dup := s.segNames[name]; dup {
		return NewDuplicateNameError(s.Name, name)
	}
	for _, ch := range s.channels {
		g, err := NewSegment(name, opts...)
		if err != nil {
			return err
		}
		s.segs[ch] = append(s.segs[ch], g)
	}
	s.segNames[name] = struct{}{}
	return nil
}

// ChannelStep is the per-channel payload of a StepSpec.
type ChannelStep struct {
	// Payload defaults to Wait when nil.
	Payload Payload

	// Length overrides the StepSpec-wide length for this channel. Channels
	// of one device normally share the step length; an override that breaks
	// lock-step surfaces later as a channel-sync violation.
	Length Length

	SampleMarker bool
	SyncMarker   bool
}

// StepSpec describes one step across all channels of the sequence. Channels
// without an entry in Channels receive a wait step of the spec-wide length.
type StepSpec struct {
	Name   string
	Length Length

	// MarkerAliases raises configured marker aliases for this step, on the
	// channel each alias resolves to.
	MarkerAliases []string

	Channels map[Channel]ChannelStep
}

// AddStep appends one step to the currently open segment of every channel in
// scope.
func (s *Sequence) AddStep(spec StepSpec) error {
	if s.sealed {
		return NewSealedError(s.Name)
	}
	if len(s.segNames) == 0 {
		return NewNotFoundError(s.Name, "no open segment: call StartNewSegment first")
	}
	for ch := range spec.Channels {
		if !s.HasChannel(ch) {
			return &BuildError{
				Code:     ErrCodeConfiguration,
				Message:  "step payload addresses a channel outside the sequence",
				Sequence: s.Name,
				Channel:  ch.String(),
			}
		}
	}

	type markerSet struct{ sample, sync bool }
	aliasMarkers := make(map[Channel]markerSet)
	for _, alias := range spec.MarkerAliases {
		ch, kind, ok := s.cfg.ResolveMarkerAlias(alias)
		if !ok {
			return &BuildError{
				Code:     ErrCodeConfiguration,
				Message:  fmt.Sprintf("unknown marker alias %q", alias),
				Sequence: s.Name,
			}
		}
		if !s.HasChannel(ch) {
			return &BuildError{
				Code:     ErrCodeConfiguration,
				Message:  fmt.Sprintf("marker alias %q targets a channel outside the sequence", alias),
				Sequence: s.Name,
				Channel:  ch.String(),
			}
		}
		m := aliasMarkers[ch]
		switch kind {
		case MarkerSample:
			m.sample = true
		case MarkerSync:
			m.sync = true
		default:
			return &BuildError{
				Code:     ErrCodeConfiguration,
				Message:  fmt.Sprintf("marker alias %q has unknown marker kind %q", alias, string(kind)),
				Sequence: s.Name,
			}
		}
		aliasMarkers[ch] = m
	}

	for _, ch := range s.channels {
		cs := spec.Channels[ch]
		length := cs.Length
		if length.IsZero() {
			length = spec.Length
		}
		st, err := NewStep(spec.Name, length, cs.Payload)
		if err != nil {
			return fmt.Errorf("step %q on channel %s: %w", spec.Name, ch, err)
		}
		st.SampleMarker = cs.SampleMarker || aliasMarkers[ch].sample
		st.SyncMarker = cs.SyncMarker || aliasMarkers[ch].sync

		segs := s.segs[ch]
		if err := segs[len(segs)-1].Append(st); err != nil {
			return fmt.Errorf("step %q on channel %s: %w", spec.Name, ch, err)
		}
	}
	return nil
}

// Segments returns the segment run of one channel. The slice and segments
// are live; mutating callers must hold the builder discipline.
func (s *Sequence) Segments(ch Channel) ([]*Segment, error) {
	if !s.HasChannel(ch) {
		return nil, &BuildError{
			Code:     ErrCodeConfiguration,
			Message:  "channel is not part of the sequence",
			Sequence: s.Name,
			Channel:  ch.String(),
		}
	}
	return s.segs[ch], nil
}

// InsertStepAfter places a step directly behind (segmentIndex, stepIndex) on
// one channel. The duty-cycle limiter uses this to splice in idle time; the
// step skips the per-segment name-uniqueness rule.
func (s *Sequence) InsertStepAfter(ch Channel, segmentIndex, stepIndex int, st Step) error {
	if s.sealed {
		return NewSealedError(s.Name)
	}
	segs, err := s.Segments(ch)
	if err != nil {
		return err
	}
	if segmentIndex < 0 || segmentIndex >= len(segs) {
		return NewNotFoundError(s.Name, fmt.Sprintf("channel %s has no segment index %d", ch, segmentIndex))
	}
	return segs[segmentIndex].insertAfter(stepIndex, st)
}

// PrependSegment places a fully built segment before every existing segment
// of one channel. The synchronization layer uses this for trigger plumbing.
func (s *Sequence) PrependSegment(ch Channel, g *Segment) error {
	if s.sealed {
		return NewSealedError(s.Name)
	}
	if _, err := s.Segments(ch); err != nil {
		return err
	}
	s.segs[ch] = append([]*Segment{g}, s.segs[ch]...)
	return nil
}

// AppendSegment places a fully built segment after every existing segment of
// one channel.
func (s *Sequence) AppendSegment(ch Channel, g *Segment) error {
	if s.sealed {
		return NewSealedError(s.Name)
	}
	if _, err := s.Segments(ch); err != nil {
		return err
	}
	s.segs[ch] = append(s.segs[ch], g)
	return nil
}

// Compile materializes the granularity padding on every segment of every
// channel and seals the sequence against further mutation. Compiling twice
// is an error, mirroring the one-shot finalize lifecycle.
func (s *Sequence) Compile() error {
	if s.sealed {
		return NewSealedError(s.Name)
	}
	for _, ch := range s.channels {
		for _, g := range s.segs[ch] {
			g.compile()
		}
	}
	s.sealed = true
	return nil
}

// SegmentCount returns the number of segments on one channel.
func (s *Sequence) SegmentCount(ch Channel) int {
	return len(s.segs[ch])
}

// RepeatedLengthSmpl is the channel's full playback window in samples:
// compiled segment lengths times their loop counts.
func (s *Sequence) RepeatedLengthSmpl(ch Channel) int64 {
	var sum int64
	for _, g := range s.segs[ch] {
		sum += g.RepeatedLengthSmpl()
	}
	return sum
}

// LengthMus is the channel's full playback window in microseconds.
func (s *Sequence) LengthMus(ch Channel) float64 {
	return MusFromSamples(s.RepeatedLengthSmpl(ch))
}
