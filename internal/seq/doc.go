// Package seq holds the waveform data model: steps, segments, and
// multi-channel sequences.
//
// The model is the pure core of the compiler - it never performs device I/O
// and has no hidden state, so independent Sequence objects can be built and
// compiled freely in parallel.
//
// MODEL:
//
// A Step is the atomic interval of one channel: a name, a length in samples
// (fixed once by unit conversion at 12000 samples per microsecond), a sealed
// Payload variant (wait, constant, arbitrary, sine), and two marker flags.
//
// A Segment is a named, loop-repeated run of Steps. Segment memory can only
// be written in lengths of the form 320 + 64*n, so Compile appends a wait
// step named "_missing_smpls_" whenever the raw step lengths fall short of
// the next valid length.
//
// A Sequence replicates its segment run across every participating
// (device, channel) pair. Builder operations address all channels at once,
// which keeps the per-device channel timelines lock-step by construction;
// the synchronization layer re-validates that before anything is written.
//
// LIFECYCLE:
//
// build (StartNewSegment/AddStep) -> limiter and trigger injection mutate
// via InsertStepAfter/PrependSegment/AppendSegment -> Compile pads and seals
// -> the allocator serializes. A sealed sequence rejects every mutation.
package seq
