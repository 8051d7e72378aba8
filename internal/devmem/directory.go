package devmem

import (
	"fmt"
	"sort"
)

// Entry records one resident channel block: the sequence it belongs to, the
// channel it plays on, and where it sits in sample memory.
type Entry struct {
	Sequence    string
	Channel     int
	OffsetBytes int64
	LengthBytes int64
}

// Directory tracks the blocks resident in one device's sample memory.
//
// Blocks are packed contiguously from byte 0 with no gaps between them, so
// the next free byte is always UsedBytes. Entries are kept in offset order.
type Directory struct {
	device   string
	capacity int64
	entries  []Entry
}

// NewDirectory returns an empty directory for one device.
func NewDirectory(device string, capacityBytes int64) *Directory {
	return &Directory{device: device, capacity: capacityBytes}
}

// Device returns the device this directory tracks.
func (d *Directory) Device() string { return d.device }

// CapacityBytes returns the device's total sample memory.
func (d *Directory) CapacityBytes() int64 { return d.capacity }

// UsedBytes returns the number of occupied bytes, which is also the next
// free byte.
func (d *Directory) UsedBytes() int64 {
	if len(d.entries) == 0 {
		return 0
	}
	last := d.entries[len(d.entries)-1]
	return last.OffsetBytes + last.LengthBytes
}

// FreeBytes returns the remaining sample memory.
func (d *Directory) FreeBytes() int64 {
	return d.capacity - d.UsedBytes()
}

// Entries returns the resident blocks in offset order.
func (d *Directory) Entries() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Has reports whether any block of the named sequence is resident.
func (d *Directory) Has(sequence string) bool {
	for _, e := range d.entries {
		if e.Sequence == sequence {
			return true
		}
	}
	return false
}

// insert appends a block at the next free byte and returns its entry.
func (d *Directory) insert(sequence string, channel int, lengthBytes int64) (Entry, error) {
	free := d.FreeBytes()
	if lengthBytes > free {
		return Entry{}, NewOverflowError(d.device, sequence, lengthBytes, free)
	}
	e := Entry{
		Sequence:    sequence,
		Channel:     channel,
		OffsetBytes: d.UsedBytes(),
		LengthBytes: lengthBytes,
	}
	d.entries = append(d.entries, e)
	return e, nil
}

// compactWithout computes the layout after dropping every block of sequence.
// kept holds the surviving entries at their packed offsets, removed the
// dropped entries at their old offsets, and moved the subset of kept whose
// offset changed.
func (d *Directory) compactWithout(sequence string) (kept, removed, moved []Entry) {
	var next int64
	for _, e := range d.entries {
		if e.Sequence == sequence {
			removed = append(removed, e)
			continue
		}
		if e.OffsetBytes != next {
			e.OffsetBytes = next
			moved = append(moved, e)
		}
		kept = append(kept, e)
		next += e.LengthBytes
	}
	return kept, removed, moved
}

// planRemove computes the compaction that deleting sequence would cause
// without modifying the directory. The caller rewrites the moved blocks on
// the device first and commits with remove once every transfer succeeded.
func (d *Directory) planRemove(sequence string) (removed, moved []Entry) {
	_, removed, moved = d.compactWithout(sequence)
	return removed, moved
}

// remove drops every block of sequence and repacks the survivors.
func (d *Directory) remove(sequence string) {
	kept, _, _ := d.compactWithout(sequence)
	d.entries = kept
}

// newDirectoryFromEntries validates a replayed layout: entries must tile the
// memory contiguously from byte 0 and fit the capacity.
func newDirectoryFromEntries(device string, capacityBytes int64, entries []Entry) (*Directory, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OffsetBytes < sorted[j].OffsetBytes })

	var next int64
	for _, e := range sorted {
		if e.LengthBytes <= 0 {
			return nil, fmt.Errorf("devmem: block %s/%d of sequence %q has length %d",
				device, e.Channel, e.Sequence, e.LengthBytes)
		}
		if e.OffsetBytes != next {
			return nil, fmt.Errorf("devmem: device %q memory has a gap: sequence %q channel %d sits at byte %d, expected %d",
				device, e.Sequence, e.Channel, e.OffsetBytes, next)
		}
		next += e.LengthBytes
	}
	if next > capacityBytes {
		return nil, fmt.Errorf("devmem: device %q memory holds %d bytes but capacity is %d",
			device, next, capacityBytes)
	}
	return &Directory{device: device, capacity: capacityBytes, entries: sorted}, nil
}
