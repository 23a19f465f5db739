package dsp

import (
	"errors"
	"math"
	"sort"

	"github.com/mjibson/go-dsp/fft"
)

// OnsetStrength returns the spectral-flux onset envelope of samples: the mean
// over mel bands of the positive first difference of the log-mel spectrogram.
// The envelope has one value per STFT frame and is shifted so peaks line up
// with the centered frames that produced them.
func OnsetStrength(fb *MelFilterbank, samples []float64) ([]float64, error) {
	mel, err := fb.MelSpectrogram(samples, NFFT, HopLength)
	if err != nil {
		return nil, err
	}
	PowerToDB(mel, 1.0, DefaultTopDB)

	nFrames := len(mel[0])
	env := make([]float64, nFrames)
	shift := 1 + NFFT/(2*HopLength)
	for t := 1; t < nFrames; t++ {
		idx := t - 1 + shift
		if idx >= nFrames {
			break
		}
		var sum float64
		for m := range mel {
			if d := mel[m][t] - mel[m][t-1]; d > 0 {
				sum += d
			}
		}
		env[idx] = sum / float64(len(mel))
	}
	return env, nil
}

// PeakParams controls PeakPick. All sizes are in frames.
type PeakParams struct {
	PreMax, PostMax int
	PreAvg, PostAvg int
	Delta           float64
	Wait            int
}

// DefaultPeakParams derives the usual onset picking windows for a frame rate:
// 30 ms local maximum, 100 ms moving average, 30 ms refractory period.
func DefaultPeakParams(sampleRate, hop int) PeakParams {
	frames := func(sec float64) int {
		return int(math.Floor(sec * float64(sampleRate) / float64(hop)))
	}
	return PeakParams{
		PreMax:  frames(0.03),
		PostMax: frames(0.0) + 1,
		PreAvg:  frames(0.10),
		PostAvg: frames(0.10) + 1,
		Delta:   0.07,
		Wait:    frames(0.03),
	}
}

// PeakPick returns the indices n where x[n] is the maximum of
// x[n-PreMax : n+PostMax], exceeds the mean of x[n-PreAvg : n+PostAvg] by
// Delta, and lies more than Wait frames after the previous peak.
func PeakPick(x []float64, p PeakParams) []int {
	var peaks []int
	last := math.MinInt / 2
	for n := range x {
		lo, hi := max(0, n-p.PreMax), min(len(x), n+p.PostMax)
		isMax := true
		for i := lo; i < hi; i++ {
			if x[i] > x[n] {
				isMax = false
				break
			}
		}
		if !isMax {
			continue
		}

		lo, hi = max(0, n-p.PreAvg), min(len(x), n+p.PostAvg)
		var sum float64
		for i := lo; i < hi; i++ {
			sum += x[i]
		}
		if x[n] < sum/float64(hi-lo)+p.Delta {
			continue
		}

		if n > last+p.Wait {
			peaks = append(peaks, n)
			last = n
		}
	}
	return peaks
}

// Backtrack moves each event to the closest preceding local minimum of energy
// (frame 0 counts as a minimum), so onsets mark where the rise begins.
func Backtrack(events []int, energy []float64) []int {
	minima := []int{0}
	for i := 1; i+1 < len(energy); i++ {
		if energy[i] <= energy[i-1] && energy[i] < energy[i+1] {
			minima = append(minima, i)
		}
	}

	out := make([]int, len(events))
	for j, ev := range events {
		// last minimum <= ev
		k := sort.SearchInts(minima, ev+1) - 1
		out[j] = minima[max(k, 0)]
	}
	return out
}

// Normalize rescales x to [0, 1] in place. A constant input becomes all zeros.
func Normalize(x []float64) {
	if len(x) == 0 {
		return
	}
	lo, hi := x[0], x[0]
	for _, v := range x {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	for i := range x {
		if span > 0 {
			x[i] = (x[i] - lo) / span
		} else {
			x[i] = 0
		}
	}
}

// FramesToTime converts frame indices to seconds.
func FramesToTime(frames []int, sampleRate, hop int) []float64 {
	out := make([]float64, len(frames))
	for i, f := range frames {
		out[i] = float64(f*hop) / float64(sampleRate)
	}
	return out
}

// LeadIn is the silence DetectOnsets prepends before analysis. It spans the
// first centered frames so a hit at sample 0 still rises against silence. It
// is a whole number of hops, leaving later frames unchanged.
const LeadIn = NFFT

// DetectOnsets returns backtracked onset times in seconds, in ascending order.
func DetectOnsets(fb *MelFilterbank, samples []float64, sampleRate int) ([]float64, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty signal")
	}
	padded := make([]float64, LeadIn+len(samples))
	copy(padded[LeadIn:], samples)

	env, err := OnsetStrength(fb, padded)
	if err != nil {
		return nil, err
	}
	Normalize(env)
	peaks := PeakPick(env, DefaultPeakParams(sampleRate, HopLength))

	times := FramesToTime(Backtrack(peaks, env), sampleRate, HopLength)
	offset := float64(LeadIn) / float64(sampleRate)
	for i := range times {
		times[i] = max(0, times[i]-offset)
	}
	return times, nil
}

// Autocorrelate returns the autocorrelation of x for lags 0..maxLag, computed
// through the FFT.
func Autocorrelate(x []float64, maxLag int) ([]float64, error) {
	if len(x) == 0 {
		return nil, errors.New("empty input")
	}
	n := 1
	for n < 2*len(x) {
		n <<= 1
	}
	padded := make([]float64, n)
	copy(padded, x)

	spec := fft.FFTReal(padded)
	for i, c := range spec {
		spec[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	ac := fft.IFFT(spec)

	maxLag = min(maxLag, len(x)-1)
	out := make([]float64, maxLag+1)
	for i := range out {
		out[i] = real(ac[i])
	}
	return out, nil
}
