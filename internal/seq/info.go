package seq

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteInfo renders a read-only text tree of the sequence: every channel,
// its segments, and each step with duration and payload summary. The layout
// is for humans and golden tests, not a machine format.
func WriteInfo(w io.Writer, s *Sequence) error {
	if _, err := fmt.Fprintf(w, "sequence %s  advance %s  loop %d\n", s.Name, s.Advance, s.LoopCount); err != nil {
		return err
	}
	for _, ch := range s.channels {
		_, err := fmt.Fprintf(w, "  channel %s  samples %d  mus %.6f\n",
			ch, s.RepeatedLengthSmpl(ch), s.LengthMus(ch))
		if err != nil {
			return err
		}
		for i, g := range s.segs[ch] {
			err := writeRow(w, "    ", i, g.Name, MusFromSamples(g.RepeatedLengthSmpl()),
				"loop "+strconv.FormatInt(g.LoopCount, 10), string(g.Advance))
			if err != nil {
				return err
			}
			for j, st := range g.Steps() {
				err := writeRow(w, "      ", j, st.Name, st.LengthMus(),
					string(st.Payload.Kind()), payloadSummary(st.Payload), markerSummary(st))
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// writeRow emits one fixed-width tree row: index, name, duration in
// microseconds, then free-form fields.
func writeRow(w io.Writer, prefix string, row int, name string, mus float64, fields ...string) error {
	line := fmt.Sprintf("%s%-6d%-18s%-12.6f", prefix, row, name, mus)
	for _, f := range fields {
		line += fmt.Sprintf("%-10s", f)
	}
	_, err := fmt.Fprintln(w, strings.TrimRight(line, " "))
	return err
}

func payloadSummary(p Payload) string {
	switch v := p.(type) {
	case Wait:
		return "-"
	case Constant:
		return "value=" + formatFloat(v.Value)
	case Arbitrary:
		return fmt.Sprintf("samples=%d", len(v.Samples))
	case Sine:
		freqs := make([]string, len(v.Components))
		amps := make([]string, len(v.Components))
		phases := make([]string, len(v.Components))
		for i, c := range v.Components {
			freqs[i] = formatFloat(c.FrequencyMHz)
			amps[i] = formatFloat(c.Amplitude)
			phases[i] = formatFloat(c.PhaseDeg)
		}
		return fmt.Sprintf("f=[%s] a=[%s] p=[%s]",
			strings.Join(freqs, " "), strings.Join(amps, " "), strings.Join(phases, " "))
	default:
		return "?"
	}
}

func markerSummary(st Step) string {
	return fmt.Sprintf("smpl=%d sync=%d", boolBit(st.SampleMarker), boolBit(st.SyncMarker))
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
