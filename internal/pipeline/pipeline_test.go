package pipeline

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/internal/audio"
	"github.com/himanishpuri/drumscribe/internal/classifier"
	"github.com/himanishpuri/drumscribe/internal/jobs"
	"github.com/himanishpuri/drumscribe/internal/midi"
	"github.com/himanishpuri/drumscribe/internal/notation"
	"github.com/himanishpuri/drumscribe/internal/progress"
	"github.com/himanishpuri/drumscribe/internal/runner"
	"github.com/himanishpuri/drumscribe/internal/separation"
	"github.com/himanishpuri/drumscribe/internal/tempo"
	"github.com/himanishpuri/drumscribe/pkg/logger"
)

// hits is a one-bar loop starting on the very first sample.
var hits = []float64{0.0, 0.5, 1.0, 1.5}

func burstSignal(duration float64, at []float64) *audio.Signal {
	rng := rand.New(rand.NewPCG(1, 2))
	samples := make([]float64, int(duration*audio.SampleRate))
	n := int(0.08 * audio.SampleRate)
	for _, h := range at {
		start := int(h * audio.SampleRate)
		for i := 0; i < n && start+i < len(samples); i++ {
			samples[start+i] += 0.8 * math.Exp(-float64(i)/(0.015*audio.SampleRate)) * (2*rng.Float64() - 1)
		}
	}
	return &audio.Signal{Samples: samples, SampleRate: audio.SampleRate}
}

type decoderFunc func(ctx context.Context, input, workDir string) (*audio.Signal, error)

func (f decoderFunc) Load(ctx context.Context, input, workDir string) (*audio.Signal, error) {
	return f(ctx, input, workDir)
}

var wavDecoder = decoderFunc(func(ctx context.Context, input, workDir string) (*audio.Signal, error) {
	return audio.ReadWav(input)
})

type separatorFunc func(ctx context.Context, input, outDir string, onProgress progress.Func) (string, error)

func (f separatorFunc) Separate(ctx context.Context, input, outDir string, onProgress progress.Func) (string, error) {
	return f(ctx, input, outDir, onProgress)
}

type transcriberFunc func(ctx context.Context, sig *audio.Signal, onProgress progress.Func) ([]classifier.OnsetEvent, error)

func (f transcriberFunc) Classify(ctx context.Context, sig *audio.Signal, onProgress progress.Func) ([]classifier.OnsetEvent, error) {
	return f(ctx, sig, onProgress)
}

type engraverFunc func(ctx context.Context, midiPath, pdfPath string, report func(string)) error

func (f engraverFunc) Render(ctx context.Context, midiPath, pdfPath string, report func(string)) error {
	return f(ctx, midiPath, pdfPath, report)
}

type downloaderFunc func(ctx context.Context, url, dir, name string) (string, error)

func (f downloaderFunc) Download(ctx context.Context, url, dir, name string) (string, error) {
	return f(ctx, url, dir, name)
}

// alternatingModel scores kick, snare, kick, snare...
type alternatingModel struct {
	mu    sync.Mutex
	calls int
}

func (m *alternatingModel) Predict([]float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls%2 == 1 {
		return []float32{0.9, 0.05, 0.05}, nil
	}
	return []float32{0.1, 0.85, 0.05}, nil
}

// historyStore records every message written to a job.
type historyStore struct {
	jobs.Store
	mu   sync.Mutex
	msgs []string
}

func (h *historyStore) Update(id string, status jobs.Status, message string, results *jobs.Results) error {
	h.mu.Lock()
	h.msgs = append(h.msgs, message)
	h.mu.Unlock()
	return h.Store.Update(id, status, message, results)
}

func (h *historyStore) history() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.msgs...)
}

type fixture struct {
	dir    string
	input  string
	store  *historyStore
	stages Stages
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "uploads", "job-1.wav")
	require.NoError(t, os.MkdirAll(filepath.Dir(input), 0o755))
	require.NoError(t, audio.WriteWav(input, burstSignal(3.0, hits)))

	modelPath := filepath.Join(dir, "model.tflite")
	require.NoError(t, os.WriteFile(modelPath, []byte("model"), 0o644))
	cls, err := classifier.New(modelPath, func(string) (classifier.Model, error) {
		return &alternatingModel{}, nil
	}, logger.Discard())
	require.NoError(t, err)

	est, err := tempo.NewEstimator(logger.Discard())
	require.NoError(t, err)

	demucs := runner.Func(func(ctx context.Context, c runner.Command) (runner.Result, error) {
		c.OnStderrLine("Separating: 50%|")
		c.OnStderrLine("Separating: 100%|")
		outDir := filepath.Dir(c.Args[len(c.Args)-2])
		drums := filepath.Join(outDir, "separated", "htdemucs", "job-1", "drums.wav")
		require.NoError(t, os.MkdirAll(filepath.Dir(drums), 0o755))
		return runner.Result{}, audio.WriteWav(drums, burstSignal(3.0, hits))
	})
	mscore := runner.Func(func(ctx context.Context, c runner.Command) (runner.Result, error) {
		return runner.Result{}, os.WriteFile(c.Args[1], []byte("%PDF"), 0o644)
	})

	return &fixture{
		dir:   dir,
		input: input,
		store: &historyStore{Store: jobs.NewMemoryStore()},
		stages: Stages{
			Separator:  separation.New(separation.Config{}, demucs, logger.Discard()),
			Decoder:    wavDecoder,
			Classifier: cls,
			Tempo:      est,
			Engraver:   notation.NewRenderer(notation.RendererConfig{}, mscore, logger.Discard()),
		},
	}
}

func (f *fixture) run(t *testing.T) (*Orchestrator, error) {
	t.Helper()
	_, err := f.store.Create("job-1")
	require.NoError(t, err)
	o := New(f.store, f.stages, filepath.Join(f.dir, "results"), filepath.Join(f.dir, "uploads"), logger.Discard())
	return o, o.Run(context.Background(), Request{JobID: "job-1", InputPath: f.input})
}

func (f *fixture) job(t *testing.T) jobs.Job {
	t.Helper()
	job, err := f.store.Get("job-1")
	require.NoError(t, err)
	return job
}

func TestRunTranscribesDrumTrack(t *testing.T) {
	f := newFixture(t)
	o, err := f.run(t)
	require.NoError(t, err)

	job := f.job(t)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, MsgComplete, job.Message)
	assert.Equal(t, &jobs.Results{MidiURL: "/download/midi/job-1", PdfURL: "/download/pdf/job-1"}, job.Results)

	seq, err := midi.ReadFile(o.MIDIPath("job-1"))
	require.NoError(t, err)
	require.Len(t, seq.Notes, len(hits))
	wantPitch := []uint8{36, 38, 36, 38}
	for i, n := range seq.Notes {
		assert.Equal(t, wantPitch[i], n.Pitch)
		assert.InDelta(t, hits[i], n.Start, 0.05)
		assert.Equal(t, uint8(midi.Velocity), n.Velocity)
	}

	assert.FileExists(t, filepath.Join(o.JobDir("job-1"), "job-1.csv"))
	assert.FileExists(t, o.PDFPath("job-1"))
	assert.NoFileExists(t, filepath.Join(o.JobDir("job-1"), "job-1.xml"))

	history := f.store.history()
	assert.Subset(t, history, []string{
		MsgSeparating,
		"Separating drums... 50%",
		MsgAnalyzingBPM,
		MsgBPMDone,
		"Converting MIDI notes 100%",
		notation.MsgConvertingXML,
		notation.MsgRenderingPDF,
		MsgComplete,
	})
	assert.Equal(t, MsgSeparating, history[0])
	assert.Equal(t, MsgComplete, history[len(history)-1])
}

func TestRunSeparationFailureHalts(t *testing.T) {
	f := newFixture(t)
	f.stages.Separator = separation.New(separation.Config{}, runner.Func(func(ctx context.Context, c runner.Command) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "No module named demucs"}, errors.New("exit status 1")
	}), logger.Discard())
	classified := false
	f.stages.Classifier = transcriberFunc(func(context.Context, *audio.Signal, progress.Func) ([]classifier.OnsetEvent, error) {
		classified = true
		return nil, nil
	})

	_, err := f.run(t)
	require.Error(t, err)

	job := f.job(t)
	assert.Equal(t, jobs.StatusError, job.Status)
	assert.Equal(t, "Demucs failed: No module named demucs", job.Message)
	assert.Nil(t, job.Results)
	assert.False(t, classified)

	jobDir := filepath.Join(f.dir, "results", "job-1")
	assert.NoFileExists(t, filepath.Join(jobDir, "job-1.mid"))
	assert.NoFileExists(t, filepath.Join(jobDir, "job-1.csv"))
}

func TestRunMissingModelFailsMIDIStage(t *testing.T) {
	f := newFixture(t)
	cls, err := classifier.New(filepath.Join(f.dir, "absent.tflite"), func(string) (classifier.Model, error) {
		t.Fatal("loader must not run")
		return nil, nil
	}, logger.Discard())
	require.NoError(t, err)
	f.stages.Classifier = cls

	o, err := f.run(t)
	require.ErrorIs(t, err, apperrors.ErrModelNotFound)

	job := f.job(t)
	assert.Equal(t, jobs.StatusError, job.Status)
	assert.Equal(t, MsgMIDIFailed, job.Message)
	assert.Nil(t, job.Results)

	assert.FileExists(t, filepath.Join(o.JobDir("job-1"), "separated", "htdemucs", "job-1", "drums.wav"))
	assert.NoFileExists(t, o.MIDIPath("job-1"))
	assert.NoFileExists(t, o.PDFPath("job-1"))
}

func TestRunNotationFailureStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.stages.Engraver = notation.NewRenderer(notation.RendererConfig{}, runner.Func(func(ctx context.Context, c runner.Command) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "segfault"}, errors.New("exit status 1")
	}), logger.Discard())

	o, err := f.run(t)
	require.NoError(t, err)

	job := f.job(t)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	require.NotNil(t, job.Results)
	assert.Equal(t, "/download/pdf/job-1", job.Results.PdfURL)
	assert.NoFileExists(t, o.PDFPath("job-1"))
	assert.FileExists(t, o.MIDIPath("job-1"))
	assert.Contains(t, f.store.history(), "PDF conversion failed: segfault")
}

func TestRunTempoFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.stages.Decoder = decoderFunc(func(ctx context.Context, input, workDir string) (*audio.Signal, error) {
		if input == f.input {
			return nil, errors.New("unsupported codec")
		}
		return audio.ReadWav(input)
	})

	o, err := f.run(t)
	require.NoError(t, err)

	seq, err := midi.ReadFile(o.MIDIPath("job-1"))
	require.NoError(t, err)
	assert.InDelta(t, float64(tempo.DefaultBPM), seq.BPM, 0.01)
	assert.Equal(t, jobs.StatusCompleted, f.job(t).Status)
}

func TestRunRecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	f.stages.Classifier = transcriberFunc(func(context.Context, *audio.Signal, progress.Func) ([]classifier.OnsetEvent, error) {
		panic("index out of range")
	})

	_, err := f.run(t)
	require.Error(t, err)

	job := f.job(t)
	assert.Equal(t, jobs.StatusError, job.Status)
	assert.Equal(t, MsgUnexpected, job.Message)
}

func TestRunDownloadsRemoteSource(t *testing.T) {
	f := newFixture(t)
	var separated string
	f.stages.Separator = separatorFunc(func(ctx context.Context, input, outDir string, _ progress.Func) (string, error) {
		separated = input
		return input, nil
	})
	f.stages.Downloader = downloaderFunc(func(ctx context.Context, url, dir, name string) (string, error) {
		path := filepath.Join(dir, name+".wav")
		return path, audio.WriteWav(path, burstSignal(1, []float64{0.2}))
	})
	f.stages.Engraver = engraverFunc(func(context.Context, string, string, func(string)) error { return nil })

	_, err := f.store.Create("yt")
	require.NoError(t, err)
	o := New(f.store, f.stages, filepath.Join(f.dir, "results"), filepath.Join(f.dir, "uploads"), logger.Discard())
	require.NoError(t, o.Run(context.Background(), Request{JobID: "yt", SourceURL: "https://youtu.be/dQw4w9WgXcQ"}))

	assert.Equal(t, filepath.Join(f.dir, "uploads", "yt.wav"), separated)
	assert.Contains(t, f.store.history(), MsgDownloading)

	job, err := f.store.Get("yt")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
}

func TestRunRemoteSourceWithoutDownloader(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Create("yt")
	require.NoError(t, err)

	o := New(f.store, f.stages, filepath.Join(f.dir, "results"), filepath.Join(f.dir, "uploads"), logger.Discard())
	require.Error(t, o.Run(context.Background(), Request{JobID: "yt", SourceURL: "https://youtu.be/dQw4w9WgXcQ"}))

	job, err := f.store.Get("yt")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusError, job.Status)
}
