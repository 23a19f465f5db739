package midi

import (
	"errors"
	"fmt"
	"sort"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// Sequence is the flattened content of a MIDI file.
type Sequence struct {
	BPM   float64
	Notes []Note // sorted by start time
}

// ReadFile loads every note of every track. Only metric time formats are
// supported and the first tempo event applies to the whole file.
func ReadFile(path string) (*Sequence, error) {
	s, err := smf.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading midi: %w", err)
	}
	mt, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, errors.New("unsupported SMPTE time format")
	}
	tpq := float64(uint16(mt))
	if tpq == 0 {
		return nil, errors.New("midi resolution is zero")
	}

	bpm := 0.0
	for _, tr := range s.Tracks {
		for _, ev := range tr {
			var t float64
			if ev.Message.GetMetaTempo(&t) {
				bpm = t
				break
			}
		}
		if bpm > 0 {
			break
		}
	}
	if bpm <= 0 {
		bpm = 120
	}
	toSec := func(tick uint64) float64 { return float64(tick) / tpq * 60 / bpm }

	type key struct{ ch, pitch uint8 }
	var notes []Note
	for _, tr := range s.Tracks {
		var abs uint64
		open := map[key][]Note{}
		for _, ev := range tr {
			abs += uint64(ev.Delta)
			msg := gomidi.Message(ev.Message)
			var ch, pitch, vel uint8
			switch {
			case msg.GetNoteStart(&ch, &pitch, &vel):
				k := key{ch, pitch}
				open[k] = append(open[k], Note{Pitch: pitch, Velocity: vel, Start: toSec(abs)})
			case msg.GetNoteEnd(&ch, &pitch):
				k := key{ch, pitch}
				if pending := open[k]; len(pending) > 0 {
					n := pending[0]
					n.End = toSec(abs)
					notes = append(notes, n)
					open[k] = pending[1:]
				}
			}
		}
		for _, pending := range open {
			for _, n := range pending {
				n.End = toSec(abs)
				notes = append(notes, n)
			}
		}
	}

	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Start != notes[j].Start {
			return notes[i].Start < notes[j].Start
		}
		return notes[i].Pitch < notes[j].Pitch
	})
	return &Sequence{BPM: bpm, Notes: notes}, nil
}
