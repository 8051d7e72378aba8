package devmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/szaiser/m8190a/internal/wave"
)

// Writer delivers encoded channel data to device memory.
//
// WriteSamples must be idempotent under retry: writing the same block to the
// same offset twice leaves memory in the state a single write would. The
// allocator relies on this to overwrite stale bytes after a failed insert
// and to slide blocks down during compaction.
type Writer interface {
	// WriteSamples stores an encoded sample block at a byte offset of one
	// channel's memory.
	WriteSamples(ctx context.Context, device string, channel int, offsetBytes int64, block []byte) error

	// WriteTable replaces the sequencer table of one channel.
	WriteTable(ctx context.Context, device string, channel int, entries []wave.TableEntry) error
}

// SimWriter emulates device sample memory in the host process. It backs the
// write pipeline when no instrument is attached and gives tests a way to
// inspect exactly what reached each channel.
type SimWriter struct {
	mu       sync.Mutex
	capacity map[string]int64
	samples  map[string]map[int][]byte
	tables   map[string]map[int][]wave.TableEntry
}

// NewSimWriter returns a writer with the given per-device capacities.
func NewSimWriter(capacities map[string]int64) *SimWriter {
	caps := make(map[string]int64, len(capacities))
	for dev, c := range capacities {
		caps[dev] = c
	}
	return &SimWriter{
		capacity: caps,
		samples:  make(map[string]map[int][]byte),
		tables:   make(map[string]map[int][]wave.TableEntry),
	}
}

// WriteSamples implements Writer.
func (w *SimWriter) WriteSamples(ctx context.Context, device string, channel int, offsetBytes int64, block []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	capacity, ok := w.capacity[device]
	if !ok {
		return &IOError{
			Op: "samples", Device: device, Channel: channel, OffsetBytes: offsetBytes,
			Err: fmt.Errorf("unknown device"),
		}
	}
	end := offsetBytes + int64(len(block))
	if offsetBytes < 0 || end > capacity {
		return &IOError{
			Op: "samples", Device: device, Channel: channel, OffsetBytes: offsetBytes,
			Err: fmt.Errorf("write ends at byte %d beyond capacity %d", end, capacity),
		}
	}

	slab := w.samples[device][channel]
	if int64(len(slab)) < end {
		grown := make([]byte, end)
		copy(grown, slab)
		slab = grown
	}
	copy(slab[offsetBytes:], block)
	if w.samples[device] == nil {
		w.samples[device] = make(map[int][]byte)
	}
	w.samples[device][channel] = slab
	return nil
}

// WriteTable implements Writer.
func (w *SimWriter) WriteTable(ctx context.Context, device string, channel int, entries []wave.TableEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.capacity[device]; !ok {
		return &IOError{
			Op: "table", Device: device, Channel: channel,
			Err: fmt.Errorf("unknown device"),
		}
	}
	if w.tables[device] == nil {
		w.tables[device] = make(map[int][]wave.TableEntry)
	}
	w.tables[device][channel] = append([]wave.TableEntry(nil), entries...)
	return nil
}

// Bytes returns a copy of the sample memory written to one channel.
func (w *SimWriter) Bytes(device string, channel int) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.samples[device][channel]...)
}

// Table returns a copy of the sequencer table last written to one channel.
func (w *SimWriter) Table(device string, channel int) []wave.TableEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]wave.TableEntry(nil), w.tables[device][channel]...)
}
