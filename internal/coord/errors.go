package coord

import (
	"errors"
	"fmt"

	"github.com/szaiser/m8190a/internal/seq"
)

// SyncError reports a cross-channel alignment violation: two channels of one
// device whose segments at the same index compile to different lengths. The
// hardware drives a device's channels in sample-synchronous lock-step, so
// this is never auto-corrected - silently padding would change the timing
// the user asked for.
type SyncError struct {
	Sequence     string
	Device       string
	SegmentIndex int
	ChannelA     seq.Channel
	ChannelB     seq.Channel
	LengthA      int64
	LengthB      int64
	Message      string
}

func (e *SyncError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("channel sync violation in sequence %q on device %q: %s", e.Sequence, e.Device, e.Message)
	}
	return fmt.Sprintf("channel sync violation in sequence %q: segment %d is %d samples on %s but %d samples on %s",
		e.Sequence, e.SegmentIndex, e.LengthA, e.ChannelA, e.LengthB, e.ChannelB)
}

// IsSyncError reports whether err is a SyncError.
func IsSyncError(err error) bool {
	var e *SyncError
	return errors.As(err, &e)
}
