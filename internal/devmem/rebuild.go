package devmem

import (
	"fmt"

	"github.com/szaiser/m8190a/internal/journal"
	"github.com/szaiser/m8190a/internal/setup"
)

// Rebuild replays a ledger into one directory per configured device.
//
// Ops are applied in ledger order. A delete leaves a transient gap that the
// rewrite ops of the same mutation close again, so gaps are only rejected
// once the whole ledger is replayed. Any op that contradicts the replayed
// state marks the ledger corrupt.
//
// Rebuild restores the directory view only; the ledger carries no sample
// payloads, so resident sequences must be re-inserted before they can be
// compacted again.
func Rebuild(cfg *setup.Setup, ops []journal.Op) (map[string]*Directory, error) {
	capacities := cfg.Capacities()
	layout := make(map[string][]Entry, len(capacities))

	for _, op := range ops {
		capacity, ok := capacities[op.Device]
		if !ok {
			return nil, fmt.Errorf("devmem: ledger op %d references unknown device %q", op.ID, op.Device)
		}
		entries := layout[op.Device]

		switch op.Kind {
		case journal.KindInsert:
			if i := findBlock(entries, op.Sequence, op.Channel); i >= 0 {
				return nil, fmt.Errorf("devmem: ledger op %d inserts sequence %q channel %d into %q twice",
					op.ID, op.Sequence, op.Channel, op.Device)
			}
			var next int64
			for _, e := range entries {
				next += e.LengthBytes
			}
			if op.OffsetBytes != next {
				return nil, fmt.Errorf("devmem: ledger op %d inserts at byte %d of %q but the next free byte is %d",
					op.ID, op.OffsetBytes, op.Device, next)
			}
			if next+op.LengthBytes > capacity {
				return nil, fmt.Errorf("devmem: ledger op %d overflows device %q: %d bytes into capacity %d",
					op.ID, op.Device, next+op.LengthBytes, capacity)
			}
			layout[op.Device] = append(entries, Entry{
				Sequence:    op.Sequence,
				Channel:     op.Channel,
				OffsetBytes: op.OffsetBytes,
				LengthBytes: op.LengthBytes,
			})

		case journal.KindDelete:
			i := findBlock(entries, op.Sequence, op.Channel)
			if i < 0 {
				return nil, fmt.Errorf("devmem: ledger op %d deletes sequence %q channel %d which is not resident in %q",
					op.ID, op.Sequence, op.Channel, op.Device)
			}
			if entries[i].OffsetBytes != op.OffsetBytes || entries[i].LengthBytes != op.LengthBytes {
				return nil, fmt.Errorf("devmem: ledger op %d deletes sequence %q channel %d at byte %d length %d but it is resident at byte %d length %d",
					op.ID, op.Sequence, op.Channel, op.OffsetBytes, op.LengthBytes,
					entries[i].OffsetBytes, entries[i].LengthBytes)
			}
			layout[op.Device] = append(entries[:i], entries[i+1:]...)

		case journal.KindRewrite:
			i := findBlock(entries, op.Sequence, op.Channel)
			if i < 0 {
				return nil, fmt.Errorf("devmem: ledger op %d moves sequence %q channel %d which is not resident in %q",
					op.ID, op.Sequence, op.Channel, op.Device)
			}
			if entries[i].LengthBytes != op.LengthBytes {
				return nil, fmt.Errorf("devmem: ledger op %d moves sequence %q channel %d with length %d but it is resident with length %d",
					op.ID, op.Sequence, op.Channel, op.LengthBytes, entries[i].LengthBytes)
			}
			entries[i].OffsetBytes = op.OffsetBytes

		default:
			return nil, fmt.Errorf("devmem: ledger op %d has unknown kind %q", op.ID, op.Kind)
		}
	}

	dirs := make(map[string]*Directory, len(capacities))
	for dev, capacity := range capacities {
		dir, err := newDirectoryFromEntries(dev, capacity, layout[dev])
		if err != nil {
			return nil, err
		}
		dirs[dev] = dir
	}
	return dirs, nil
}

// findBlock returns the index of the block for (sequence, channel), or -1.
func findBlock(entries []Entry, sequence string, channel int) int {
	for i, e := range entries {
		if e.Sequence == sequence && e.Channel == channel {
			return i
		}
	}
	return -1
}
