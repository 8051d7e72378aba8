package devmem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/szaiser/m8190a/internal/coord"
	"github.com/szaiser/m8190a/internal/journal"
	"github.com/szaiser/m8190a/internal/metrics"
	"github.com/szaiser/m8190a/internal/seq"
	"github.com/szaiser/m8190a/internal/setup"
	"github.com/szaiser/m8190a/internal/wave"
)

// TokenSource mints idempotency tokens for journal records.
type TokenSource interface {
	NewToken() string
}

// uuidTokens is the production token source. Version 7 UUIDs sort by mint
// time, which keeps the ledger's unique index append-friendly.
type uuidTokens struct{}

func (uuidTokens) NewToken() string { return uuid.Must(uuid.NewV7()).String() }

// blockKey addresses one cached channel block.
type blockKey struct {
	sequence string
	channel  int
}

// deviceState serializes all memory mutations of one device. blocks caches
// the encoded bytes of every resident block so compaction can rewrite them
// without re-encoding.
type deviceState struct {
	mu     sync.Mutex
	dir    *Directory
	blocks map[blockKey][]byte
}

// Allocator owns the memory directory of every configured device and moves
// compiled sequences in and out of device memory through a Writer.
type Allocator struct {
	writer  Writer
	tokens  TokenSource
	journal *journal.Journal
	metrics *metrics.Metrics
	logger  *slog.Logger
	devices map[string]*deviceState
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithJournal records every memory mutation in a ledger.
func WithJournal(j *journal.Journal) AllocatorOption {
	return func(a *Allocator) { a.journal = j }
}

// WithMetrics publishes memory gauges and mutation counters.
func WithMetrics(m *metrics.Metrics) AllocatorOption {
	return func(a *Allocator) { a.metrics = m }
}

// WithTokenSource overrides the journal token generator.
func WithTokenSource(ts TokenSource) AllocatorOption {
	return func(a *Allocator) { a.tokens = ts }
}

// WithLogger overrides the allocator's logger, slog.Default otherwise.
func WithLogger(l *slog.Logger) AllocatorOption {
	return func(a *Allocator) { a.logger = l }
}

// NewAllocator returns an allocator with one empty directory per device in
// the setup.
func NewAllocator(cfg *setup.Setup, w Writer, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		writer:  w,
		tokens:  uuidTokens{},
		logger:  slog.Default(),
		devices: make(map[string]*deviceState),
	}
	for dev, capacity := range cfg.Capacities() {
		a.devices[dev] = &deviceState{
			dir:    NewDirectory(dev, capacity),
			blocks: make(map[blockKey][]byte),
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics != nil {
		for dev, st := range a.devices {
			a.metrics.SetMemoryUsage(dev, 0, st.dir.CapacityBytes())
		}
	}
	return a
}

// Devices returns the configured device names in sorted order.
func (a *Allocator) Devices() []string {
	names := make([]string, 0, len(a.devices))
	for dev := range a.devices {
		names = append(names, dev)
	}
	sort.Strings(names)
	return names
}

// Usage reports one device's memory occupancy.
func (a *Allocator) Usage(device string) (used, capacity int64, err error) {
	st, ok := a.devices[device]
	if !ok {
		return 0, 0, fmt.Errorf("devmem: unknown device %q", device)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dir.UsedBytes(), st.dir.CapacityBytes(), nil
}

// Entries returns one device's resident blocks in offset order.
func (a *Allocator) Entries(device string) ([]Entry, error) {
	st, ok := a.devices[device]
	if !ok {
		return nil, fmt.Errorf("devmem: unknown device %q", device)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dir.Entries(), nil
}

// lockAll takes every device lock in sorted name order and returns the
// matching unlock. Sequence names are unique across the whole setup, so
// inserts and deletes look at every directory.
func (a *Allocator) lockAll() func() {
	names := a.Devices()
	for _, dev := range names {
		a.devices[dev].mu.Lock()
	}
	return func() {
		for _, dev := range names {
			a.devices[dev].mu.Unlock()
		}
	}
}

// Restore adopts directories rebuilt from a ledger, so a fresh allocator can
// continue a journaled session where the previous process left off. It only
// applies to an allocator with no resident blocks.
//
// The host-side block cache is backfilled with zero placeholders of the
// recorded lengths: the bytes themselves never reach a ledger, and the
// simulated fleet starts zeroed anyway, so compaction after a restore moves
// exactly what the devices hold.
func (a *Allocator) Restore(dirs map[string]*Directory) error {
	unlock := a.lockAll()
	defer unlock()

	for _, dev := range a.Devices() {
		if a.devices[dev].dir.UsedBytes() > 0 {
			return fmt.Errorf("devmem: restore into non-empty device %q", dev)
		}
	}
	for dev := range dirs {
		if _, ok := a.devices[dev]; !ok {
			return fmt.Errorf("devmem: restore references unconfigured device %q", dev)
		}
	}

	for _, dev := range a.Devices() {
		st := a.devices[dev]
		src, ok := dirs[dev]
		if !ok {
			continue
		}
		dir, err := newDirectoryFromEntries(dev, st.dir.CapacityBytes(), src.Entries())
		if err != nil {
			return fmt.Errorf("devmem: restore device %q: %w", dev, err)
		}
		st.dir = dir
		st.blocks = make(map[blockKey][]byte, len(dir.Entries()))
		for _, e := range dir.Entries() {
			st.blocks[blockKey{sequence: e.Sequence, channel: e.Channel}] = make([]byte, e.LengthBytes)
		}
		if a.metrics != nil {
			a.metrics.SetMemoryUsage(dev, dir.UsedBytes(), dir.CapacityBytes())
		}
	}

	a.logger.Info("restored memory directories from ledger", "devices", len(dirs))
	return nil
}

// pendingBlock is one planned channel transfer of an insert.
type pendingBlock struct {
	device  string
	channel int
	offset  int64
	block   []byte
	table   []wave.TableEntry
}

// Insert writes a finalized sequence into device memory: one sample block
// and one sequencer table per participating channel, appended at the tail of
// each device's packed memory.
//
// Nothing is transferred until every participating device has room, and the
// directory is only updated once every transfer succeeded and the mutation
// is journaled. A failed transfer therefore leaves the directory unchanged;
// any bytes already written sit in space the directory still reports free
// and are overwritten by the next insert.
func (a *Allocator) Insert(ctx context.Context, s *seq.Sequence) error {
	if !s.Sealed() {
		return NewNotFinalizedError(s.Name)
	}
	if err := coord.CheckAlignment(s); err != nil {
		return err
	}

	unlock := a.lockAll()
	defer unlock()

	for _, dev := range a.Devices() {
		if a.devices[dev].dir.Has(s.Name) {
			return NewDuplicateError(dev, s.Name)
		}
	}

	var pend []pendingBlock
	for _, dev := range s.Devices() {
		st, ok := a.devices[dev]
		if !ok {
			return fmt.Errorf("devmem: sequence %q targets unconfigured device %q", s.Name, dev)
		}
		base := st.dir.UsedBytes()
		var need int64
		for _, ch := range s.DeviceChannels(dev) {
			n := wave.ChannelByteLength(s, ch)
			pend = append(pend, pendingBlock{
				device:  dev,
				channel: ch.Number,
				offset:  base + need,
			})
			need += n
		}
		if need > st.dir.FreeBytes() {
			return NewOverflowError(dev, s.Name, need, st.dir.FreeBytes())
		}
	}

	i := 0
	for _, dev := range s.Devices() {
		for _, ch := range s.DeviceChannels(dev) {
			block, err := wave.ChannelBytes(s, ch)
			if err != nil {
				return err
			}
			ids := make([]uint32, s.SegmentCount(ch))
			for j := range ids {
				ids[j] = uint32(j + 1)
			}
			table, err := wave.TableEntries(s, ch, ids)
			if err != nil {
				return err
			}
			pend[i].block = block
			pend[i].table = table
			i++
		}
	}

	for _, p := range pend {
		if err := a.writer.WriteSamples(ctx, p.device, p.channel, p.offset, p.block); err != nil {
			a.countWriteError(p.device)
			return wrapIO("samples", p.device, p.channel, p.offset, err)
		}
		if err := a.writer.WriteTable(ctx, p.device, p.channel, p.table); err != nil {
			a.countWriteError(p.device)
			return wrapIO("table", p.device, p.channel, 0, err)
		}
	}

	if a.journal != nil {
		ops := make([]journal.Op, 0, len(pend))
		for _, p := range pend {
			ops = append(ops, journal.Op{
				Token:       a.tokens.NewToken(),
				Kind:        journal.KindInsert,
				Device:      p.device,
				Sequence:    s.Name,
				Channel:     p.channel,
				OffsetBytes: p.offset,
				LengthBytes: int64(len(p.block)),
			})
		}
		if err := a.journal.Record(ctx, ops); err != nil {
			return fmt.Errorf("devmem: journal insert of %q: %w", s.Name, err)
		}
	}

	var total int64
	for _, p := range pend {
		st := a.devices[p.device]
		if _, err := st.dir.insert(s.Name, p.channel, int64(len(p.block))); err != nil {
			return err
		}
		st.blocks[blockKey{sequence: s.Name, channel: p.channel}] = p.block
		total += int64(len(p.block))
	}
	for _, dev := range s.Devices() {
		st := a.devices[dev]
		if a.metrics != nil {
			a.metrics.IncInserts(dev)
			a.metrics.SetMemoryUsage(dev, st.dir.UsedBytes(), st.dir.CapacityBytes())
		}
	}

	a.logger.Info("sequence written to device memory",
		"sequence", s.Name,
		"devices", s.Devices(),
		"blocks", len(pend),
		"bytes", total)
	return nil
}

// Delete frees every block of the named sequence and repacks the survivors.
//
// Each holding device is compacted in turn: the moved blocks are rewritten
// at their new offsets from the host cache, and the directory commits as
// soon as its device's transfers land. A transfer failure mid-compaction
// surfaces as an IOError with that device's directory unchanged; devices
// already compacted stay committed.
func (a *Allocator) Delete(ctx context.Context, name string) error {
	name = seq.CanonicalName(name)

	unlock := a.lockAll()
	defer unlock()

	var holders []string
	for _, dev := range a.Devices() {
		if a.devices[dev].dir.Has(name) {
			holders = append(holders, dev)
		}
	}
	if len(holders) == 0 {
		return NewNotFoundError(name)
	}

	var ops []journal.Op
	var totalMoved int
	for _, dev := range holders {
		st := a.devices[dev]
		removed, moved := st.dir.planRemove(name)

		for _, mv := range moved {
			block, ok := st.blocks[blockKey{sequence: mv.Sequence, channel: mv.Channel}]
			if !ok {
				return fmt.Errorf("devmem: no cached block for sequence %q channel %s/%d",
					mv.Sequence, dev, mv.Channel)
			}
			if err := a.writer.WriteSamples(ctx, dev, mv.Channel, mv.OffsetBytes, block); err != nil {
				a.countWriteError(dev)
				return wrapIO("samples", dev, mv.Channel, mv.OffsetBytes, err)
			}
		}

		st.dir.remove(name)
		for _, rm := range removed {
			delete(st.blocks, blockKey{sequence: rm.Sequence, channel: rm.Channel})
			ops = append(ops, journal.Op{
				Token:       a.tokens.NewToken(),
				Kind:        journal.KindDelete,
				Device:      dev,
				Sequence:    rm.Sequence,
				Channel:     rm.Channel,
				OffsetBytes: rm.OffsetBytes,
				LengthBytes: rm.LengthBytes,
			})
		}
		for _, mv := range moved {
			ops = append(ops, journal.Op{
				Token:       a.tokens.NewToken(),
				Kind:        journal.KindRewrite,
				Device:      dev,
				Sequence:    mv.Sequence,
				Channel:     mv.Channel,
				OffsetBytes: mv.OffsetBytes,
				LengthBytes: mv.LengthBytes,
			})
		}
		totalMoved += len(moved)

		if a.metrics != nil {
			a.metrics.IncDeletes(dev)
			a.metrics.AddRewrites(dev, len(moved))
			a.metrics.SetMemoryUsage(dev, st.dir.UsedBytes(), st.dir.CapacityBytes())
		}
	}

	if a.journal != nil {
		if err := a.journal.Record(ctx, ops); err != nil {
			return fmt.Errorf("devmem: journal delete of %q: %w", name, err)
		}
	}

	a.logger.Info("sequence freed from device memory",
		"sequence", name,
		"devices", holders,
		"moved_blocks", totalMoved)
	return nil
}

func (a *Allocator) countWriteError(device string) {
	if a.metrics != nil {
		a.metrics.IncWriteErrors(device)
	}
}

// wrapIO turns a transport failure into an IOError, passing through errors
// that already are one.
func wrapIO(op, device string, channel int, offset int64, err error) error {
	var ioe *IOError
	if errors.As(err, &ioe) {
		return err
	}
	return &IOError{Op: op, Device: device, Channel: channel, OffsetBytes: offset, Err: err}
}
