package seq

import (
	"errors"
	"fmt"
	"strings"
)

// BuildError reports a mistake detected while assembling a sequence tree.
//
// Build errors cover:
//   - Configuration: unknown device/channel/alias or invalid step parameters
//   - Duplicate name: a segment or step name reused within its scope
//   - Not found: addressing a segment or step that does not exist
//   - Sealed: mutating a sequence after Compile
//
// All build errors surface immediately and are never retried.
type BuildError struct {
	// Code identifies the error category.
	Code BuildErrorCode

	// Message is a human-readable description.
	Message string

	// Sequence names the affected sequence, when known.
	Sequence string

	// Segment names the affected segment or step, when known.
	Segment string

	// Channel identifies the affected channel as "device/number", when known.
	Channel string
}

// BuildErrorCode categorizes build errors.
type BuildErrorCode string

const (
	// ErrCodeConfiguration indicates an unknown device, channel, or marker
	// alias, or step parameters outside their allowed range.
	ErrCodeConfiguration BuildErrorCode = "CONFIGURATION"

	// ErrCodeDuplicateName indicates a segment or step name collision.
	ErrCodeDuplicateName BuildErrorCode = "DUPLICATE_NAME"

	// ErrCodeNotFound indicates the addressed segment or step does not exist.
	ErrCodeNotFound BuildErrorCode = "NOT_FOUND"

	// ErrCodeSealed indicates a mutation was attempted after Compile.
	ErrCodeSealed BuildErrorCode = "SEALED"
)

// Error implements the error interface.
func (e *BuildError) Error() string {
	var ctx []string
	if e.Sequence != "" {
		ctx = append(ctx, "sequence="+e.Sequence)
	}
	if e.Segment != "" {
		ctx = append(ctx, "segment="+e.Segment)
	}
	if e.Channel != "" {
		ctx = append(ctx, "channel="+e.Channel)
	}
	if len(ctx) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(ctx, ", "))
}

// IsConfigurationError returns true if the error is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigurationError(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code == ErrCodeConfiguration
	}
	return false
}

// IsDuplicateNameError returns true if the error is a name collision.
// Uses errors.As to handle wrapped errors.
func IsDuplicateNameError(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code == ErrCodeDuplicateName
	}
	return false
}

// IsNotFoundError returns true if the error is a missing segment or step.
// Uses errors.As to handle wrapped errors.
func IsNotFoundError(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code == ErrCodeNotFound
	}
	return false
}

// IsSealedError returns true if the error is a mutation-after-Compile error.
// Uses errors.As to handle wrapped errors.
func IsSealedError(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code == ErrCodeSealed
	}
	return false
}

// NewConfigurationError creates a BuildError for an invalid configuration
// reference or parameter.
func NewConfigurationError(message string) *BuildError {
	return &BuildError{Code: ErrCodeConfiguration, Message: message}
}

// NewDuplicateNameError creates a BuildError for a reused segment or step name.
func NewDuplicateNameError(sequence, name string) *BuildError {
	return &BuildError{
		Code:     ErrCodeDuplicateName,
		Message:  "name already in use",
		Sequence: sequence,
		Segment:  name,
	}
}

// NewNotFoundError creates a BuildError for a missing segment or step.
func NewNotFoundError(sequence, message string) *BuildError {
	return &BuildError{
		Code:     ErrCodeNotFound,
		Message:  message,
		Sequence: sequence,
	}
}

// NewSealedError creates a BuildError for a mutation after Compile.
func NewSealedError(sequence string) *BuildError {
	return &BuildError{
		Code:     ErrCodeSealed,
		Message:  "sequence is sealed and can no longer be modified",
		Sequence: sequence,
	}
}
