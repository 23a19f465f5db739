package classifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/internal/audio"
	"github.com/himanishpuri/drumscribe/internal/dsp"
	"github.com/himanishpuri/drumscribe/internal/progress"
	"github.com/himanishpuri/drumscribe/pkg/logger"
)

// Window geometry around each onset, in seconds.
const (
	PreOnset  = 0.04
	PostOnset = 0.11
)

// InputFrames is the fixed time dimension of the model input.
const InputFrames = 128

// ProgressDescription labels classification progress updates.
const ProgressDescription = "Converting MIDI notes"

// Model scores one 1x128x128x1 log-mel window and returns class probabilities
// in Labels order.
type Model interface {
	Predict(input []float32) ([]float32, error)
}

// Loader opens a model file.
type Loader func(path string) (Model, error)

// Classifier detects onsets in a drum signal and labels each one. The model
// is loaded on first use and shared by every caller afterwards.
type Classifier struct {
	modelPath  string
	loader     Loader
	log        logger.Leveled
	sampleRate int
	fb         *dsp.MelFilterbank

	once    sync.Once
	mu      sync.Mutex // guards model and loadErr once loading has run
	model   Model
	loadErr error
}

// ErrClosed is returned by Model after Close.
var ErrClosed = errors.New("classifier closed")

func New(modelPath string, loader Loader, log logger.Leveled) (*Classifier, error) {
	if loader == nil {
		return nil, errors.New("classifier: nil model loader")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	fb, err := dsp.NewMelFilterbank(audio.SampleRate, dsp.NFFT, dsp.NMels)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		modelPath:  modelPath,
		loader:     loader,
		log:        log,
		sampleRate: audio.SampleRate,
		fb:         fb,
	}, nil
}

// Model returns the shared model, loading it on the first call. A failed load
// is remembered and returned to every later caller.
func (c *Classifier) Model() (Model, error) {
	c.once.Do(func() {
		if _, err := os.Stat(c.modelPath); err != nil {
			c.log.Errorf("Model file %s is not available: %v", c.modelPath, err)
			c.loadErr = fmt.Errorf("%w: %s", apperrors.ErrModelNotFound, c.modelPath)
			return
		}
		c.log.Infof("Loading classifier model: %s", c.modelPath)
		m, err := c.loader(c.modelPath)
		if err != nil {
			c.loadErr = fmt.Errorf("loading model %s: %w", c.modelPath, err)
			return
		}
		c.model = m
		c.log.Infof("Classifier model ready")
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model, c.loadErr
}

// Close releases a loaded model that holds native resources. The classifier
// cannot load a model afterwards.
func (c *Classifier) Close() {
	c.once.Do(func() {})
	c.mu.Lock()
	defer c.mu.Unlock()
	if closer, ok := c.model.(interface{ Close() }); ok {
		closer.Close()
	}
	c.model = nil
	c.loadErr = ErrClosed
}

// WindowLength is the number of samples taken around every onset.
func WindowLength(sampleRate int) int {
	return int((PreOnset + PostOnset) * float64(sampleRate))
}

// ExtractWindow copies the samples from PreOnset before to PostOnset after t.
// Bounds are clamped to the signal and the result is zero-padded on the right
// to at least WindowLength samples.
func ExtractWindow(samples []float64, sampleRate int, t float64) []float64 {
	sr := float64(sampleRate)
	start := max(0, int((t-PreOnset)*sr))
	end := min(len(samples), int((t+PostOnset)*sr))
	start = min(start, end)

	seg := make([]float64, max(WindowLength(sampleRate), end-start))
	copy(seg, samples[start:end])
	return seg
}

// Features turns a window into the flattened model input: a 128x128
// log-power mel spectrogram (band-major, loudest cell at 0 dB), padded or
// truncated to InputFrames frames.
func (c *Classifier) Features(seg []float64) ([]float32, error) {
	mel, err := c.fb.MelSpectrogram(seg, dsp.NFFT, dsp.HopLength)
	if err != nil {
		return nil, err
	}
	dsp.PowerToDBRefMax(mel, dsp.DefaultTopDB)
	mel = dsp.FixFrames(mel, InputFrames)

	input := make([]float32, 0, len(mel)*InputFrames)
	for _, row := range mel {
		for _, v := range row {
			input = append(input, float32(v))
		}
	}
	return input, nil
}

// Classify finds every onset in sig and labels it. Progress is reported once
// per onset. Any failure discards the whole batch.
func (c *Classifier) Classify(ctx context.Context, sig *audio.Signal, onProgress progress.Func) ([]OnsetEvent, error) {
	model, err := c.Model()
	if err != nil {
		return nil, err
	}
	if sig == nil || len(sig.Samples) == 0 {
		return nil, errors.New("classifier: empty signal")
	}
	if sig.SampleRate != c.sampleRate {
		return nil, fmt.Errorf("classifier: sample rate %d, want %d", sig.SampleRate, c.sampleRate)
	}

	onsets, err := dsp.DetectOnsets(c.fb, sig.Samples, sig.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("onset detection: %w", err)
	}
	c.log.Infof("Detected %d onsets", len(onsets))

	events := make([]OnsetEvent, 0, len(onsets))
	for i, t := range onsets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		input, err := c.Features(ExtractWindow(sig.Samples, sig.SampleRate, t))
		if err != nil {
			return nil, fmt.Errorf("features for onset at %.3fs: %w", t, err)
		}
		probs, err := model.Predict(input)
		if err != nil {
			return nil, fmt.Errorf("predict onset at %.3fs: %w", t, err)
		}
		idx, p, err := argmax(probs)
		if err != nil {
			return nil, err
		}

		events = append(events, OnsetEvent{Time: t, Label: Labels[idx], Confidence: float64(p)})
		onProgress.Emit(progress.Percent(i+1, len(onsets)), ProgressDescription)
	}
	return events, nil
}

func argmax(probs []float32) (int, float32, error) {
	if len(probs) < len(Labels) {
		return 0, 0, fmt.Errorf("model returned %d scores, want %d", len(probs), len(Labels))
	}
	best := 0
	for i := 1; i < len(Labels); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best, probs[best], nil
}
