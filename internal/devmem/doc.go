// Package devmem manages onboard sample memory: a per-device directory of
// resident channel blocks and an allocator that moves compiled sequences in
// and out of that memory through a Writer.
//
// Blocks are packed contiguously from byte 0. Inserting a sequence appends
// its channel blocks at the tail of each participating device; deleting one
// frees its blocks and rewrites every surviving block that sat behind them,
// so the packed invariant holds after every mutation.
//
// All mutations take every device lock in sorted name order, which makes the
// allocator a single writer per device and keeps sequence names unique
// across the whole setup.
package devmem
