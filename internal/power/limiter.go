// Package power bounds the long-run average output power of sine steps by
// splicing idle time into their segments. It runs per channel, after the
// user finishes building and before the granularity pass, so the idle steps
// it inserts are padded and serialized like any other step.
package power

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/szaiser/m8190a/internal/seq"
)

// IdleStepName is the name of wait steps the limiter inserts. Like the
// granularity pad it is an internal name and may repeat within a segment.
const IdleStepName = "_rf_power_safety_"

// recheckSlack absorbs float rounding in the post-insertion verification.
const recheckSlack = 1e-12

// CeilingSource provides the per-channel power ceiling: the configured
// maximum sine average power as a fraction of the amplifier's full-scale
// power. Channels without a ceiling are not limited.
type CeilingSource interface {
	PowerCeiling(ch seq.Channel) (float64, bool)
}

// DutyCycleError reports that no finite idle time can bring a channel's
// average power under its ceiling.
type DutyCycleError struct {
	Sequence string
	Channel  string
	Message  string
}

func (e *DutyCycleError) Error() string {
	return fmt.Sprintf("duty cycle unsatisfiable: %s (sequence=%s, channel=%s)", e.Message, e.Sequence, e.Channel)
}

// IsDutyCycleError reports whether err is a DutyCycleError.
func IsDutyCycleError(err error) bool {
	var e *DutyCycleError
	return errors.As(err, &e)
}

// Insertion records one idle step the limiter spliced in. StepIndex is the
// inserted step's final position within its segment.
type Insertion struct {
	Channel      seq.Channel
	SegmentIndex int
	StepIndex    int
	Samples      int64
}

// Result summarizes one limiter pass.
type Result struct {
	Insertions []Insertion

	// AveragePower is the post-insertion duty-cycle-weighted average power
	// per limited channel.
	AveragePower map[seq.Channel]float64
}

// InsertedSamples sums the idle samples added on one channel.
func (r Result) InsertedSamples(ch seq.Channel) int64 {
	var sum int64
	for _, ins := range r.Insertions {
		if ins.Channel == ch {
			sum += ins.Samples
		}
	}
	return sum
}

// Apply enforces the duty-cycle ceiling on every channel of the sequence
// that has one configured. After each sine step whose step power exceeds the
// ceiling it inserts a wait step sized so the step's own playback window
// dilutes down to the ceiling; this provably brings the channel average
// under the ceiling as well. Channels are treated independently, so the
// inserted idle time may desynchronize channel lengths - the alignment check
// runs afterwards and reports that as a configuration mistake.
func Apply(s *seq.Sequence, ceilings CeilingSource) (Result, error) {
	res := Result{AveragePower: make(map[seq.Channel]float64)}
	if s.Sealed() {
		return res, seq.NewSealedError(s.Name)
	}
	for _, ch := range s.Channels() {
		ceiling, limited := ceilings.PowerCeiling(ch)
		if !limited {
			continue
		}
		pavg, active := channelAveragePower(s, ch)
		if active == 0 || pavg <= ceiling {
			res.AveragePower[ch] = pavg
			slog.Debug("duty-cycle ceiling satisfied",
				"sequence", s.Name,
				"channel", ch.String(),
				"avg_power", pavg,
				"ceiling", ceiling,
			)
			continue
		}
		if ceiling <= 0 {
			return res, &DutyCycleError{
				Sequence: s.Name,
				Channel:  ch.String(),
				Message:  fmt.Sprintf("channel emits sine power but its ceiling is %v", ceiling),
			}
		}
		if err := limitChannel(s, ch, ceiling, &res); err != nil {
			return res, err
		}

		pavg, _ = channelAveragePower(s, ch)
		if pavg > ceiling*(1+recheckSlack) {
			return res, &DutyCycleError{
				Sequence: s.Name,
				Channel:  ch.String(),
				Message:  fmt.Sprintf("average power %v still above ceiling %v after idle insertion", pavg, ceiling),
			}
		}
		res.AveragePower[ch] = pavg
	}
	return res, nil
}

// limitChannel inserts idle time after every sine step above the ceiling.
// Offenders must exist: the channel average is a convex combination of step
// powers, so an average above the ceiling implies at least one step above it.
func limitChannel(s *seq.Sequence, ch seq.Channel, ceiling float64, res *Result) error {
	segs, err := s.Segments(ch)
	if err != nil {
		return err
	}
	inserted := false
	for segIdx, g := range segs {
		steps := g.Steps()
		var offenders []int
		for i, st := range steps {
			if st.AveragePower() > ceiling {
				offenders = append(offenders, i)
			}
		}
		shift := 0
		for _, i := range offenders {
			st := steps[i]
			raw := float64(st.LengthSmpl) * (st.AveragePower()/ceiling - 1)
			extra := seq.ValidLength(int64(math.Ceil(raw)))
			if extra > seq.MaxLengthSmpl {
				return &DutyCycleError{
					Sequence: s.Name,
					Channel:  ch.String(),
					Message:  fmt.Sprintf("step %q needs %d idle samples, above the %d sample limit", st.Name, extra, int64(seq.MaxLengthSmpl)),
				}
			}
			idle, err := seq.NewStep(IdleStepName, seq.Smpl(extra), seq.Wait{})
			if err != nil {
				return err
			}
			if err := s.InsertStepAfter(ch, segIdx, i+shift, idle); err != nil {
				return err
			}
			shift++
			res.Insertions = append(res.Insertions, Insertion{
				Channel:      ch,
				SegmentIndex: segIdx,
				StepIndex:    i + shift,
				Samples:      extra,
			})
			inserted = true
			slog.Info("inserted duty-cycle idle step",
				"sequence", s.Name,
				"channel", ch.String(),
				"segment", g.Name,
				"after_step", st.Name,
				"idle_smpl", extra,
				"step_power", st.AveragePower(),
				"ceiling", ceiling,
			)
		}
	}
	if !inserted {
		return &DutyCycleError{
			Sequence: s.Name,
			Channel:  ch.String(),
			Message:  "average power above ceiling but no single step exceeds it",
		}
	}
	return nil
}

// channelAveragePower computes the duty-cycle-weighted average power of one
// channel over its raw (pre-padding) playback window, and the total active
// sine samples.
func channelAveragePower(s *seq.Sequence, ch seq.Channel) (pavg float64, active int64) {
	segs, err := s.Segments(ch)
	if err != nil {
		return 0, 0
	}
	var num float64
	var den int64
	for _, g := range segs {
		for _, st := range g.Steps() {
			num += float64(st.LengthSmpl*g.LoopCount) * st.AveragePower()
			den += st.LengthSmpl * g.LoopCount
			if st.AveragePower() > 0 {
				active += st.LengthSmpl * g.LoopCount
			}
		}
	}
	if den == 0 {
		return 0, active
	}
	return num / float64(den), active
}
