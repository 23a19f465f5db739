package midi

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/himanishpuri/drumscribe/internal/classifier"
)

// Fixed note shape for every classified hit.
const (
	Velocity     = 100
	NoteDuration = 0.1 // seconds
)

const (
	// TicksPerQuarter is the SMF resolution of written files.
	TicksPerQuarter = 220
	// DrumChannel is General MIDI channel 10, zero-based.
	DrumChannel = 9
)

// Note is a drum hit in wall-clock seconds.
type Note struct {
	Pitch    uint8
	Velocity uint8
	Start    float64
	End      float64
}

// Artifacts are the files produced for one job.
type Artifacts struct {
	MIDIPath string
	CSVPath  string
}

// BuildNotes maps events with a known pitch to fixed-length notes. The
// result depends only on events.
func BuildNotes(events []classifier.OnsetEvent) []Note {
	notes := make([]Note, 0, len(events))
	for _, ev := range events {
		pitch, ok := ev.Label.Pitch()
		if !ok {
			continue
		}
		notes = append(notes, Note{
			Pitch:    pitch,
			Velocity: Velocity,
			Start:    ev.Time,
			End:      ev.Time + NoteDuration,
		})
	}
	return notes
}

// WriteCSV writes one "time_sec,label,prob" row per event.
func WriteCSV(path string, events []classifier.OnsetEvent) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time_sec", "label", "prob"}); err != nil {
		return err
	}
	for _, ev := range events {
		row := []string{
			fmt.Sprintf("%.4f", ev.Time),
			ev.Label.String(),
			fmt.Sprintf("%.3f", ev.Confidence),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return f.Close()
}

type timedMessage struct {
	tick uint32
	off  bool
	msg  gomidi.Message
}

// SecondsToTicks converts wall-clock seconds to ticks at a constant tempo.
func SecondsToTicks(sec, bpm float64) uint32 {
	if sec <= 0 {
		return 0
	}
	return uint32(math.Round(sec * bpm / 60 * TicksPerQuarter))
}

// WriteMIDI writes a format 1 file: track 0 carries tempo and meter, track 1
// holds the notes on the percussion channel.
func WriteMIDI(path string, notes []Note, bpm int) error {
	if bpm <= 0 {
		return fmt.Errorf("invalid tempo %d", bpm)
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerQuarter)

	var conductor smf.Track
	conductor.Add(0, smf.MetaMeter(4, 4))
	conductor.Add(0, smf.MetaTempo(float64(bpm)))
	conductor.Close(0)

	msgs := make([]timedMessage, 0, 2*len(notes))
	for _, n := range notes {
		msgs = append(msgs,
			timedMessage{tick: SecondsToTicks(n.Start, float64(bpm)), msg: gomidi.NoteOn(DrumChannel, n.Pitch, n.Velocity)},
			timedMessage{tick: SecondsToTicks(n.End, float64(bpm)), off: true, msg: gomidi.NoteOff(DrumChannel, n.Pitch)},
		)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].tick != msgs[j].tick {
			return msgs[i].tick < msgs[j].tick
		}
		return msgs[i].off && !msgs[j].off
	})

	var drums smf.Track
	drums.Add(0, smf.MetaTrackSequenceName("Drums"))
	drums.Add(0, gomidi.ProgramChange(DrumChannel, 0))
	var last uint32
	for _, m := range msgs {
		drums.Add(m.tick-last, m.msg)
		last = m.tick
	}
	drums.Close(0)

	if err := s.Add(conductor); err != nil {
		return fmt.Errorf("adding tempo track: %w", err)
	}
	if err := s.Add(drums); err != nil {
		return fmt.Errorf("adding drum track: %w", err)
	}
	if err := s.WriteFile(path); err != nil {
		return fmt.Errorf("writing midi: %w", err)
	}
	return nil
}

// Synthesize writes <dir>/<jobID>.csv and <dir>/<jobID>.mid.
func Synthesize(dir, jobID string, events []classifier.OnsetEvent, bpm int) (Artifacts, error) {
	out := Artifacts{
		MIDIPath: filepath.Join(dir, jobID+".mid"),
		CSVPath:  filepath.Join(dir, jobID+".csv"),
	}
	if err := WriteCSV(out.CSVPath, events); err != nil {
		return Artifacts{}, err
	}
	if err := WriteMIDI(out.MIDIPath, BuildNotes(events), bpm); err != nil {
		return Artifacts{}, err
	}
	return out, nil
}
