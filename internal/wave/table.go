package wave

import (
	"encoding/binary"
	"fmt"

	"github.com/szaiser/m8190a/internal/seq"
)

// TableBytesPerEntry is the wire size of one sequencer table row.
const TableBytesPerEntry = 24

// Sequencer control word layout.
const (
	controlInitMarker   = 1 << 28 // first entry of a sequence
	controlEndMarker    = 1 << 30 // last entry of a sequence
	controlMarkerEnable = 1 << 24

	sequenceAdvanceShift = 20
	segmentAdvanceShift  = 16
)

// TableEntry is one sequencer table row: the control word, the two loop
// counts, and the segment addressing triple. StartOffset and EndOffset
// window the segment; full playback uses 0 and the all-ones sentinel.
type TableEntry struct {
	Control      uint32
	SequenceLoop uint32
	SegmentLoop  uint32
	SegmentID    uint32
	StartOffset  uint32
	EndOffset    uint32
}

// TableEntries builds the sequencer table rows for one channel of a compiled
// sequence. segmentIDs carries the device segment id of each segment, in
// order.
func TableEntries(s *seq.Sequence, ch seq.Channel, segmentIDs []uint32) ([]TableEntry, error) {
	if !s.Sealed() {
		return nil, fmt.Errorf("wave: sequence %q is not compiled", s.Name)
	}
	segs, err := s.Segments(ch)
	if err != nil {
		return nil, err
	}
	if len(segmentIDs) != len(segs) {
		return nil, fmt.Errorf("wave: sequence %q channel %s has %d segments, got %d segment ids",
			s.Name, ch, len(segs), len(segmentIDs))
	}
	seqAdv, err := s.Advance.TableCode()
	if err != nil {
		return nil, err
	}

	entries := make([]TableEntry, 0, len(segs))
	for i, g := range segs {
		segAdv, err := g.Advance.TableCode()
		if err != nil {
			return nil, err
		}
		var control uint32
		if i == 0 {
			control |= controlInitMarker
		}
		if i == len(segs)-1 {
			control |= controlEndMarker
		}
		if g.MarkerEnable {
			control |= controlMarkerEnable
		}
		control |= seqAdv << sequenceAdvanceShift
		control |= segAdv << segmentAdvanceShift
		entries = append(entries, TableEntry{
			Control:      control,
			SequenceLoop: uint32(s.LoopCount),
			SegmentLoop:  uint32(g.LoopCount),
			SegmentID:    segmentIDs[i],
			StartOffset:  0,
			EndOffset:    1<<32 - 1,
		})
	}
	return entries, nil
}

// EncodeEntries renders table rows as the little-endian block written to
// sequencer memory.
func EncodeEntries(entries []TableEntry) []byte {
	out := make([]byte, 0, TableBytesPerEntry*len(entries))
	var buf [TableBytesPerEntry]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[0:], e.Control)
		binary.LittleEndian.PutUint32(buf[4:], e.SequenceLoop)
		binary.LittleEndian.PutUint32(buf[8:], e.SegmentLoop)
		binary.LittleEndian.PutUint32(buf[12:], e.SegmentID)
		binary.LittleEndian.PutUint32(buf[16:], e.StartOffset)
		binary.LittleEndian.PutUint32(buf[20:], e.EndOffset)
		out = append(out, buf[:]...)
	}
	return out
}
