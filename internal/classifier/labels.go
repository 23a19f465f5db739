package classifier

import "fmt"

// Label is a percussion class predicted by the model.
type Label int

// Order matches the model's output vector.
const (
	Kick Label = iota
	Snare
	HiHat
)

// Labels lists every class in output-vector order.
var Labels = []Label{Kick, Snare, HiHat}

func (l Label) String() string {
	switch l {
	case Kick:
		return "kick"
	case Snare:
		return "snare"
	case HiHat:
		return "hi-hat"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// Pitch returns the General MIDI percussion key for the label and whether the
// label has one.
func (l Label) Pitch() (uint8, bool) {
	switch l {
	case Kick:
		return 36, true
	case Snare:
		return 38, true
	case HiHat:
		return 42, true
	default:
		return 0, false
	}
}

// ParseLabel is the inverse of Label.String.
func ParseLabel(s string) (Label, bool) {
	for _, l := range Labels {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

// OnsetEvent is one classified transient.
type OnsetEvent struct {
	Time       float64 // seconds from the start of the signal
	Label      Label
	Confidence float64 // probability of Label, in [0, 1]
}
