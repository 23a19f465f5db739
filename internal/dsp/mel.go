package dsp

import (
	"errors"
	"math"
)

// Slaney-style mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSp       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27.0

func HzToMel(hz float64) float64 {
	if hz < melMinLogHz {
		return hz / melFSp
	}
	return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
}

func MelToHz(mel float64) float64 {
	if mel < melMinLogMel {
		return mel * melFSp
	}
	return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
}

// MelFilterbank maps power spectra onto area-normalised triangular mel bands.
type MelFilterbank struct {
	weights [][]float64 // [mel][bin]
	nBins   int
}

// NewMelFilterbank builds nMels filters spanning 0 Hz to Nyquist.
func NewMelFilterbank(sampleRate, nFFT, nMels int) (*MelFilterbank, error) {
	if sampleRate <= 0 || nFFT <= 0 || nMels <= 0 {
		return nil, errors.New("sample rate, fft size and mel count must be positive")
	}

	nBins := nFFT/2 + 1
	fftFreqs := make([]float64, nBins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / float64(nFFT)
	}

	maxMel := HzToMel(float64(sampleRate) / 2)
	melF := make([]float64, nMels+2)
	for i := range melF {
		melF[i] = MelToHz(maxMel * float64(i) / float64(nMels+1))
	}

	weights := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		row := make([]float64, nBins)
		lowDiff := melF[m+1] - melF[m]
		highDiff := melF[m+2] - melF[m+1]
		enorm := 2.0 / (melF[m+2] - melF[m])
		for k, f := range fftFreqs {
			lower := (f - melF[m]) / lowDiff
			upper := (melF[m+2] - f) / highDiff
			row[k] = math.Max(0, math.Min(lower, upper)) * enorm
		}
		weights[m] = row
	}

	return &MelFilterbank{weights: weights, nBins: nBins}, nil
}

// NumMels returns the number of bands.
func (fb *MelFilterbank) NumMels() int { return len(fb.weights) }

// Apply projects a time-major power spectrogram onto the mel bands and
// returns a band-major matrix: mel[band][frame].
func (fb *MelFilterbank) Apply(spec [][]float64) ([][]float64, error) {
	out := make([][]float64, len(fb.weights))
	for m := range out {
		out[m] = make([]float64, len(spec))
	}
	for t, frame := range spec {
		if len(frame) != fb.nBins {
			return nil, errors.New("spectrum size does not match filterbank")
		}
		for m, w := range fb.weights {
			var sum float64
			for k, p := range frame {
				if w[k] != 0 {
					sum += w[k] * p
				}
			}
			out[m][t] = sum
		}
	}
	return out, nil
}

// MelSpectrogram computes the band-major mel power spectrogram of samples.
func (fb *MelFilterbank) MelSpectrogram(samples []float64, nFFT, hop int) ([][]float64, error) {
	spec, err := STFT(samples, nFFT, hop)
	if err != nil {
		return nil, err
	}
	return fb.Apply(spec)
}

const (
	amin         = 1e-10
	DefaultTopDB = 80.0
)

// PowerToDB converts power values to decibels relative to ref, in place.
// Values below max-topDB are raised to that floor; topDB <= 0 disables the floor.
func PowerToDB(s [][]float64, ref, topDB float64) {
	refDB := 10 * math.Log10(math.Max(amin, ref))
	maxDB := math.Inf(-1)
	for _, row := range s {
		for i, v := range row {
			row[i] = 10*math.Log10(math.Max(amin, v)) - refDB
			if row[i] > maxDB {
				maxDB = row[i]
			}
		}
	}
	if topDB <= 0 {
		return
	}
	floor := maxDB - topDB
	for _, row := range s {
		for i, v := range row {
			if v < floor {
				row[i] = floor
			}
		}
	}
}

// PowerToDBRefMax is PowerToDB with the reference set to the largest value in s,
// so the loudest cell maps to 0 dB.
func PowerToDBRefMax(s [][]float64, topDB float64) {
	ref := 0.0
	for _, row := range s {
		for _, v := range row {
			if v > ref {
				ref = v
			}
		}
	}
	PowerToDB(s, ref, topDB)
}

// FixFrames zero-pads or truncates every row of a band-major matrix to n columns.
func FixFrames(s [][]float64, n int) [][]float64 {
	out := make([][]float64, len(s))
	for m, row := range s {
		fixed := make([]float64, n)
		copy(fixed, row)
		out[m] = fixed
	}
	return out
}
