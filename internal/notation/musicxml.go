package notation

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/himanishpuri/drumscribe/internal/midi"
)

const (
	// Divisions per quarter note; the grid is sixteenth notes.
	Divisions = 4
	// SlotsPerMeasure is one 4/4 bar on the sixteenth grid.
	SlotsPerMeasure = 4 * Divisions

	partID = "P1"
)

const xmlDoctype = `<!DOCTYPE score-partwise PUBLIC "-//Recordare//DTD MusicXML 3.1 Partwise//EN" "http://www.musicxml.org/dtds/partwise.dtd">` + "\n"

// Score is a MusicXML 3.1 partwise document.
type Score struct {
	XMLName  xml.Name `xml:"score-partwise"`
	Version  string   `xml:"version,attr"`
	Work     *work    `xml:"work,omitempty"`
	PartList partList `xml:"part-list"`
	Parts    []part   `xml:"part"`
}

type work struct {
	Title string `xml:"work-title"`
}

type partList struct {
	ScoreParts []scorePart `xml:"score-part"`
}

type scorePart struct {
	ID              string            `xml:"id,attr"`
	Name            string            `xml:"part-name"`
	Instruments     []scoreInstrument `xml:"score-instrument"`
	MIDIInstruments []midiInstrument  `xml:"midi-instrument"`
}

type scoreInstrument struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"instrument-name"`
}

type midiInstrument struct {
	ID        string `xml:"id,attr"`
	Channel   int    `xml:"midi-channel"`
	Unpitched int    `xml:"midi-unpitched"`
}

type part struct {
	ID       string    `xml:"id,attr"`
	Measures []measure `xml:"measure"`
}

type measure struct {
	Number     int         `xml:"number,attr"`
	Attributes *attributes `xml:"attributes,omitempty"`
	Notes      []note      `xml:"note"`
}

type attributes struct {
	Divisions int      `xml:"divisions"`
	Key       *key     `xml:"key,omitempty"`
	Time      *timeSig `xml:"time,omitempty"`
	Clef      *clef    `xml:"clef,omitempty"`
}

type key struct {
	Fifths int `xml:"fifths"`
}

type timeSig struct {
	Beats    int `xml:"beats"`
	BeatType int `xml:"beat-type"`
}

type clef struct {
	Sign string `xml:"sign"`
	Line int    `xml:"line,omitempty"`
}

type note struct {
	Chord      *struct{}      `xml:"chord,omitempty"`
	Rest       *rest          `xml:"rest,omitempty"`
	Unpitched  *unpitched     `xml:"unpitched,omitempty"`
	Duration   int            `xml:"duration"`
	Instrument *instrumentRef `xml:"instrument,omitempty"`
	Voice      int            `xml:"voice"`
	Type       string         `xml:"type,omitempty"`
	Dot        *struct{}      `xml:"dot,omitempty"`
	Stem       string         `xml:"stem,omitempty"`
	Notehead   string         `xml:"notehead,omitempty"`

	pitch uint8
}

type rest struct {
	Measure string `xml:"measure,attr,omitempty"`
}

type unpitched struct {
	Step   string `xml:"display-step"`
	Octave int    `xml:"display-octave"`
}

type instrumentRef struct {
	ID string `xml:"id,attr"`
}

// drumVoice is where a percussion key sits on the five-line staff.
type drumVoice struct {
	name   string
	step   string
	octave int
	stem   string
}

var drumVoices = map[uint8]drumVoice{
	36: {"Bass Drum", "F", 4, "down"},
	38: {"Snare Drum", "C", 5, "up"},
	42: {"Closed Hi-Hat", "G", 5, "up"},
}

func voiceFor(pitch uint8) drumVoice {
	if v, ok := drumVoices[pitch]; ok {
		return v
	}
	return drumVoice{fmt.Sprintf("Percussion %d", pitch), "C", 5, "up"}
}

func instrumentID(pitch uint8) string {
	return fmt.Sprintf("%s-I%d", partID, int(pitch)+1)
}

// noteValue maps a duration in sixteenths to a MusicXML type and dot.
var noteValues = []struct {
	slots  int
	typ    string
	dotted bool
}{
	{16, "whole", false},
	{12, "half", true},
	{8, "half", false},
	{6, "quarter", true},
	{4, "quarter", false},
	{3, "eighth", true},
	{2, "eighth", false},
	{1, "16th", false},
}

// splitSlots breaks n sixteenths into notated values, largest first.
func splitSlots(n int) []int {
	var out []int
	for n > 0 {
		for _, v := range noteValues {
			if v.slots <= n {
				out = append(out, v.slots)
				n -= v.slots
				break
			}
		}
	}
	return out
}

func typeOf(slots int) (string, bool) {
	for _, v := range noteValues {
		if v.slots == slots {
			return v.typ, v.dotted
		}
	}
	return "", false
}

func newNote(slots int) note {
	n := note{Duration: slots, Voice: 1}
	typ, dotted := typeOf(slots)
	n.Type = typ
	if dotted {
		n.Dot = &struct{}{}
	}
	return n
}

// Quantize snaps note onsets to the sixteenth grid at bpm and groups them by
// slot. Pitches within a slot are unique and ascending.
func Quantize(notes []midi.Note, bpm float64) map[int][]uint8 {
	slots := make(map[int][]uint8)
	for _, n := range notes {
		slot := int(math.Round(n.Start * bpm / 60 * Divisions))
		slot = max(slot, 0)
		if !containsPitch(slots[slot], n.Pitch) {
			slots[slot] = append(slots[slot], n.Pitch)
		}
	}
	for _, ps := range slots {
		sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	}
	return slots
}

func containsPitch(ps []uint8, p uint8) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}

// BuildScore lays the sequence out as a single-part 4/4 drum score.
func BuildScore(seq *midi.Sequence, title string) *Score {
	slots := Quantize(seq.Notes, seq.BPM)

	last := 0
	pitches := map[uint8]bool{}
	for s, ps := range slots {
		last = max(last, s)
		for _, p := range ps {
			pitches[p] = true
		}
	}
	numMeasures := last/SlotsPerMeasure + 1

	sp := scorePart{ID: partID, Name: "Drums"}
	used := make([]int, 0, len(pitches))
	for p := range pitches {
		used = append(used, int(p))
	}
	sort.Ints(used)
	for _, p := range used {
		id := instrumentID(uint8(p))
		sp.Instruments = append(sp.Instruments, scoreInstrument{ID: id, Name: voiceFor(uint8(p)).name})
		sp.MIDIInstruments = append(sp.MIDIInstruments, midiInstrument{ID: id, Channel: midi.DrumChannel + 1, Unpitched: p + 1})
	}

	pt := part{ID: partID}
	for m := 0; m < numMeasures; m++ {
		pt.Measures = append(pt.Measures, buildMeasure(m, slots))
	}
	pt.Measures[0].Attributes = &attributes{
		Divisions: Divisions,
		Key:       &key{Fifths: 0},
		Time:      &timeSig{Beats: 4, BeatType: 4},
	}

	score := &Score{
		Version:  "3.1",
		PartList: partList{ScoreParts: []scorePart{sp}},
		Parts:    []part{pt},
	}
	if title != "" {
		score.Work = &work{Title: title}
	}
	return score
}

func buildMeasure(index int, slots map[int][]uint8) measure {
	m := measure{Number: index + 1}
	start := index * SlotsPerMeasure

	var onsets []int
	for s := start; s < start+SlotsPerMeasure; s++ {
		if len(slots[s]) > 0 {
			onsets = append(onsets, s-start)
		}
	}
	if len(onsets) == 0 {
		m.Notes = []note{{Rest: &rest{Measure: "yes"}, Duration: SlotsPerMeasure, Voice: 1}}
		return m
	}

	addRests := func(n int) {
		for _, d := range splitSlots(n) {
			r := newNote(d)
			r.Rest = &rest{}
			m.Notes = append(m.Notes, r)
		}
	}

	addRests(onsets[0])
	for i, on := range onsets {
		next := SlotsPerMeasure
		if i+1 < len(onsets) {
			next = onsets[i+1]
		}
		length := min(next-on, Divisions)
		for j, p := range slots[start+on] {
			v := voiceFor(p)
			n := newNote(length)
			n.Unpitched = &unpitched{Step: v.step, Octave: v.octave}
			n.Instrument = &instrumentRef{ID: instrumentID(p)}
			n.Stem = v.stem
			n.pitch = p
			if j > 0 {
				n.Chord = &struct{}{}
			}
			m.Notes = append(m.Notes, n)
		}
		addRests(next - on - length)
	}
	return m
}

// ApplyPercussionStyle puts a percussion clef on the first measure of every
// part and draws hi-hat notes with an x notehead.
func ApplyPercussionStyle(score *Score) {
	for i := range score.Parts {
		p := &score.Parts[i]
		if len(p.Measures) == 0 {
			continue
		}
		first := &p.Measures[0]
		if first.Attributes == nil {
			first.Attributes = &attributes{Divisions: Divisions}
		}
		first.Attributes.Clef = &clef{Sign: "percussion", Line: 2}

		for m := range p.Measures {
			for n := range p.Measures[m].Notes {
				nt := &p.Measures[m].Notes[n]
				if nt.Rest == nil && nt.pitch == 42 {
					nt.Notehead = "x"
				}
			}
		}
	}
}

// Marshal encodes the score with the MusicXML declaration and doctype.
func Marshal(score *Score) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="no"?>` + "\n")
	buf.WriteString(xmlDoctype)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(score); err != nil {
		return nil, fmt.Errorf("encoding musicxml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// WriteMusicXML converts the MIDI file at midiPath into a styled drum score
// at xmlPath.
func WriteMusicXML(midiPath, xmlPath, title string) error {
	seq, err := midi.ReadFile(midiPath)
	if err != nil {
		return err
	}
	score := BuildScore(seq, title)
	ApplyPercussionStyle(score)

	data, err := Marshal(score)
	if err != nil {
		return err
	}
	if err := os.WriteFile(xmlPath, data, 0o644); err != nil {
		return fmt.Errorf("writing musicxml: %w", err)
	}
	return nil
}
