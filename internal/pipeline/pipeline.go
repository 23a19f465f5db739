package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/internal/audio"
	"github.com/himanishpuri/drumscribe/internal/classifier"
	"github.com/himanishpuri/drumscribe/internal/jobs"
	"github.com/himanishpuri/drumscribe/internal/midi"
	"github.com/himanishpuri/drumscribe/internal/progress"
	"github.com/himanishpuri/drumscribe/internal/tempo"
	"github.com/himanishpuri/drumscribe/pkg/logger"
	"github.com/himanishpuri/drumscribe/pkg/utils"
)

// Job messages, in the order a successful run reports them.
const (
	MsgDownloading   = "Downloading audio..."
	MsgSeparating    = "Separating drum track..."
	MsgAnalyzingBPM  = "Analyzing tempo (BPM)..."
	MsgBPMDone       = "BPM analysis done. Starting MIDI conversion..."
	MsgComplete      = "Processing complete."
	MsgMIDIFailed    = "MIDI generation failed."
	MsgSeparationErr = "Drum separation failed"
	MsgUnexpected    = "Unexpected error during processing"
)

// Separator isolates the drum stem of input under outDir.
type Separator interface {
	Separate(ctx context.Context, input, outDir string, onProgress progress.Func) (string, error)
}

// Decoder loads any supported audio file as a mono signal at the model rate.
type Decoder interface {
	Load(ctx context.Context, input, workDir string) (*audio.Signal, error)
}

// Transcriber labels the drum hits of a signal.
type Transcriber interface {
	Classify(ctx context.Context, sig *audio.Signal, onProgress progress.Func) ([]classifier.OnsetEvent, error)
}

// TempoEstimator always yields a usable tempo.
type TempoEstimator interface {
	EstimateOrDefault(sig *audio.Signal) int
}

// Engraver renders a MIDI file to a PDF score.
type Engraver interface {
	Render(ctx context.Context, midiPath, pdfPath string, report func(string)) error
}

// Downloader fetches remote audio to <dir>/<name>.<ext>.
type Downloader interface {
	Download(ctx context.Context, url, dir, name string) (string, error)
}

// Stages groups the components a run drives. Downloader may be nil when
// remote sources are not accepted.
type Stages struct {
	Separator  Separator
	Decoder    Decoder
	Classifier Transcriber
	Tempo      TempoEstimator
	Engraver   Engraver
	Downloader Downloader
}

// Request is one unit of work. Exactly one of InputPath and SourceURL is set.
type Request struct {
	JobID     string
	InputPath string
	SourceURL string
}

// Orchestrator moves a job from pending through processing to completed or
// error, recording every step in the store.
type Orchestrator struct {
	store      jobs.Store
	stages     Stages
	resultsDir string
	uploadsDir string
	log        logger.Leveled
}

func New(store jobs.Store, stages Stages, resultsDir, uploadsDir string, log logger.Leveled) *Orchestrator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Orchestrator{
		store:      store,
		stages:     stages,
		resultsDir: resultsDir,
		uploadsDir: uploadsDir,
		log:        log,
	}
}

// JobDir is the working directory of a job.
func (o *Orchestrator) JobDir(id string) string {
	return filepath.Join(o.resultsDir, id)
}

// MIDIPath is where the job's MIDI file lands.
func (o *Orchestrator) MIDIPath(id string) string {
	return filepath.Join(o.JobDir(id), id+".mid")
}

// PDFPath is where the job's score lands when rendering succeeds.
func (o *Orchestrator) PDFPath(id string) string {
	return filepath.Join(o.JobDir(id), id+".pdf")
}

// ResultURLs are the download routes of a completed job.
func ResultURLs(id string) *jobs.Results {
	return &jobs.Results{
		MidiURL: "/download/midi/" + id,
		PdfURL:  "/download/pdf/" + id,
	}
}

// Run executes the whole pipeline for req. It never panics and always leaves
// the job in a terminal state; the returned error mirrors an error state.
func (o *Orchestrator) Run(ctx context.Context, req Request) (err error) {
	log := logger.Tagged(o.log, req.JobID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic: %v\n%s", r, debug.Stack())
			o.set(log, req.JobID, jobs.StatusError, MsgUnexpected, nil)
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	if err := o.run(ctx, log, req); err != nil {
		log.Errorf("failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		return err
	}
	log.Infof("completed in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

func (o *Orchestrator) run(ctx context.Context, log logger.Leveled, req Request) error {
	id := req.JobID
	workDir := o.JobDir(id)
	if err := utils.MakeDir(workDir); err != nil {
		o.set(log, id, jobs.StatusError, MsgUnexpected, nil)
		return fmt.Errorf("creating %s: %w", workDir, err)
	}

	input := req.InputPath
	if req.SourceURL != "" {
		if o.stages.Downloader == nil {
			return o.fail(log, id, "Remote sources are not enabled", fmt.Errorf("no downloader for %s", req.SourceURL))
		}
		o.set(log, id, jobs.StatusProcessing, MsgDownloading, nil)
		path, err := o.stages.Downloader.Download(ctx, req.SourceURL, o.uploadsDir, id)
		if err != nil {
			return o.fail(log, id, apperrors.UserMessage(err, "Audio download failed"), err)
		}
		input = path
	}

	// Separation.
	o.set(log, id, jobs.StatusProcessing, MsgSeparating, nil)
	drumsPath, err := o.stages.Separator.Separate(ctx, input, workDir, jobs.ProgressReporter(o.store, id, log))
	if err != nil {
		return o.fail(log, id, apperrors.UserMessage(err, MsgSeparationErr), err)
	}

	// Tempo never fails the job.
	o.set(log, id, jobs.StatusProcessing, MsgAnalyzingBPM, nil)
	bpm := tempo.DefaultBPM
	if mix, err := o.stages.Decoder.Load(ctx, input, workDir); err != nil {
		log.Warnf("decoding mix for tempo: %v; using %d BPM", err, bpm)
	} else {
		bpm = o.stages.Tempo.EstimateOrDefault(mix)
	}
	log.Infof("tempo %d BPM", bpm)

	// Transcription.
	o.set(log, id, jobs.StatusProcessing, MsgBPMDone, nil)
	art, err := o.transcribe(ctx, log, id, drumsPath, workDir, bpm)
	if err != nil {
		return o.fail(log, id, MsgMIDIFailed, err)
	}

	// Notation is best effort.
	report := func(msg string) { o.set(log, id, jobs.StatusProcessing, msg, nil) }
	if err := o.stages.Engraver.Render(ctx, art.MIDIPath, o.PDFPath(id), report); err != nil {
		msg := apperrors.UserMessage(err, "Score rendering failed")
		log.Warnf("notation skipped: %v", err)
		report(msg)
	}

	o.set(log, id, jobs.StatusCompleted, MsgComplete, ResultURLs(id))
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, log logger.Leveled, id, drumsPath, workDir string, bpm int) (midi.Artifacts, error) {
	drums, err := o.stages.Decoder.Load(ctx, drumsPath, workDir)
	if err != nil {
		return midi.Artifacts{}, fmt.Errorf("decoding drum stem: %w", err)
	}
	events, err := o.stages.Classifier.Classify(ctx, drums, jobs.ProgressReporter(o.store, id, log))
	if err != nil {
		return midi.Artifacts{}, fmt.Errorf("classifying onsets: %w", err)
	}
	log.Infof("classified %d onsets", len(events))

	art, err := midi.Synthesize(workDir, id, events, bpm)
	if err != nil {
		return midi.Artifacts{}, fmt.Errorf("synthesizing midi: %w", err)
	}
	return art, nil
}

func (o *Orchestrator) fail(log logger.Leveled, id, message string, err error) error {
	o.set(log, id, jobs.StatusError, message, nil)
	return err
}

func (o *Orchestrator) set(log logger.Leveled, id string, status jobs.Status, message string, results *jobs.Results) {
	log.Debugf("%s: %s", status, message)
	if err := o.store.Update(id, status, message, results); err != nil {
		log.Errorf("store update: %v", err)
	}
}
