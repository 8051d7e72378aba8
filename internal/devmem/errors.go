package devmem

import (
	"errors"
	"fmt"
	"strings"
)

// MemoryError reports a failure of a directory or allocator operation.
//
// Memory errors cover:
//   - Overflow: a sequence does not fit in the remaining sample memory
//   - Not found: deleting a sequence that is not resident
//   - Duplicate: inserting a sequence whose name is already resident
//   - Not finalized: inserting a sequence that was never compiled
//
// All memory errors surface immediately and leave the directory unchanged.
type MemoryError struct {
	// Code identifies the error category.
	Code MemoryErrorCode

	// Message is a human-readable description.
	Message string

	// Device names the affected device, when known.
	Device string

	// Sequence names the affected sequence, when known.
	Sequence string
}

// MemoryErrorCode categorizes memory errors.
type MemoryErrorCode string

const (
	// ErrCodeOverflow indicates the sequence does not fit in sample memory.
	ErrCodeOverflow MemoryErrorCode = "MEMORY_OVERFLOW"

	// ErrCodeNotFound indicates the named sequence is not resident.
	ErrCodeNotFound MemoryErrorCode = "NOT_FOUND"

	// ErrCodeDuplicate indicates the sequence name is already resident.
	ErrCodeDuplicate MemoryErrorCode = "DUPLICATE_SEQUENCE"

	// ErrCodeNotFinalized indicates the sequence was never compiled.
	ErrCodeNotFinalized MemoryErrorCode = "NOT_FINALIZED"
)

// Error implements the error interface.
func (e *MemoryError) Error() string {
	var ctx []string
	if e.Device != "" {
		ctx = append(ctx, "device="+e.Device)
	}
	if e.Sequence != "" {
		ctx = append(ctx, "sequence="+e.Sequence)
	}
	if len(ctx) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(ctx, ", "))
}

// IsOverflowError reports whether err is a memory overflow.
func IsOverflowError(err error) bool {
	var me *MemoryError
	return errors.As(err, &me) && me.Code == ErrCodeOverflow
}

// IsNotFoundError reports whether err means the sequence is not resident.
func IsNotFoundError(err error) bool {
	var me *MemoryError
	return errors.As(err, &me) && me.Code == ErrCodeNotFound
}

// IsDuplicateError reports whether err is a resident name collision.
func IsDuplicateError(err error) bool {
	var me *MemoryError
	return errors.As(err, &me) && me.Code == ErrCodeDuplicate
}

// IsNotFinalizedError reports whether err means the sequence was not compiled.
func IsNotFinalizedError(err error) bool {
	var me *MemoryError
	return errors.As(err, &me) && me.Code == ErrCodeNotFinalized
}

// NewOverflowError builds the error for a sequence that does not fit.
func NewOverflowError(device, sequence string, need, free int64) *MemoryError {
	return &MemoryError{
		Code:     ErrCodeOverflow,
		Message:  fmt.Sprintf("sequence needs %d bytes but only %d remain", need, free),
		Device:   device,
		Sequence: sequence,
	}
}

// NewNotFoundError builds the error for deleting an absent sequence.
func NewNotFoundError(sequence string) *MemoryError {
	return &MemoryError{
		Code:     ErrCodeNotFound,
		Message:  "sequence is not resident in any device memory",
		Sequence: sequence,
	}
}

// NewDuplicateError builds the error for a resident name collision.
func NewDuplicateError(device, sequence string) *MemoryError {
	return &MemoryError{
		Code:     ErrCodeDuplicate,
		Message:  "a sequence with this name is already resident",
		Device:   device,
		Sequence: sequence,
	}
}

// NewNotFinalizedError builds the error for inserting an uncompiled sequence.
func NewNotFinalizedError(sequence string) *MemoryError {
	return &MemoryError{
		Code:     ErrCodeNotFinalized,
		Message:  "sequence must be finalized before it can be written",
		Sequence: sequence,
	}
}

// IOError reports a failed transfer to device memory. The directory is never
// updated for a transfer that failed, so the host view stays consistent with
// what was acknowledged.
type IOError struct {
	// Op is the transfer kind, "samples" or "table".
	Op string

	// Device and Channel locate the target.
	Device  string
	Channel int

	// OffsetBytes is the target byte offset of a samples transfer.
	OffsetBytes int64

	// Err is the underlying transport failure.
	Err error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	if e.Op == "samples" {
		return fmt.Sprintf("IO_ERROR: %s write to %s/%d at byte %d: %v",
			e.Op, e.Device, e.Channel, e.OffsetBytes, e.Err)
	}
	return fmt.Sprintf("IO_ERROR: %s write to %s/%d: %v", e.Op, e.Device, e.Channel, e.Err)
}

// Unwrap exposes the underlying transport failure.
func (e *IOError) Unwrap() error { return e.Err }

// IsIOError reports whether err is a failed device transfer.
func IsIOError(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe)
}
