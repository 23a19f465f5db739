package tempo

import (
	"errors"
	"fmt"
	"math"

	"github.com/himanishpuri/drumscribe/internal/audio"
	"github.com/himanishpuri/drumscribe/internal/dsp"
	"github.com/himanishpuri/drumscribe/pkg/logger"
)

// DefaultBPM is used whenever estimation fails.
const DefaultBPM = 120

const (
	minBPM      = 30.0
	maxBPM      = 320.0
	priorBPM    = 120.0
	priorStdOct = 1.0
	acSeconds   = 8.0
)

var ErrNoRhythm = errors.New("no rhythmic content")

// Estimator derives a global tempo from the onset envelope autocorrelation,
// weighted by a log-normal prior around 120 BPM.
type Estimator struct {
	fb  *dsp.MelFilterbank
	log logger.Leveled
}

func NewEstimator(log logger.Leveled) (*Estimator, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	fb, err := dsp.NewMelFilterbank(audio.SampleRate, dsp.NFFT, dsp.NMels)
	if err != nil {
		return nil, err
	}
	return &Estimator{fb: fb, log: log}, nil
}

// Estimate returns the tempo of sig in beats per minute.
func (e *Estimator) Estimate(sig *audio.Signal) (float64, error) {
	if sig == nil || len(sig.Samples) == 0 {
		return 0, errors.New("empty signal")
	}
	if sig.SampleRate != audio.SampleRate {
		return 0, fmt.Errorf("sample rate %d, want %d", sig.SampleRate, audio.SampleRate)
	}

	env, err := dsp.OnsetStrength(e.fb, sig.Samples)
	if err != nil {
		return 0, err
	}

	framesPerSec := float64(sig.SampleRate) / float64(dsp.HopLength)
	ac, err := dsp.Autocorrelate(env, int(acSeconds*framesPerSec))
	if err != nil {
		return 0, err
	}
	if ac[0] <= 0 {
		return 0, ErrNoRhythm
	}

	best, bestScore := 0.0, math.Inf(-1)
	for lag := 1; lag < len(ac); lag++ {
		bpm := 60 * framesPerSec / float64(lag)
		if bpm < minBPM || bpm > maxBPM {
			continue
		}
		strength := math.Max(0, ac[lag]/ac[0])
		prior := -0.5 * math.Pow((math.Log2(bpm)-math.Log2(priorBPM))/priorStdOct, 2)
		score := math.Log1p(1e6*strength) + prior
		if score > bestScore {
			best, bestScore = bpm, score
		}
	}
	if best == 0 {
		return 0, ErrNoRhythm
	}
	return best, nil
}

// EstimateOrDefault truncates the estimate to whole BPM. Any failure, or a
// result below 1 BPM, is logged and replaced by DefaultBPM.
func (e *Estimator) EstimateOrDefault(sig *audio.Signal) int {
	bpm, err := e.Estimate(sig)
	if err != nil {
		e.log.Warnf("Tempo estimation failed: %v. Using default %d BPM", err, DefaultBPM)
		return DefaultBPM
	}
	if math.IsNaN(bpm) || math.IsInf(bpm, 0) || int(bpm) < 1 {
		e.log.Warnf("Tempo estimate %.2f is unusable. Using default %d BPM", bpm, DefaultBPM)
		return DefaultBPM
	}
	return int(bpm)
}
