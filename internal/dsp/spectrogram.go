package dsp

import (
	"errors"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// Analysis parameters shared by onset detection and the classifier front end.
const (
	NFFT      = 2048
	HopLength = 512
	NMels     = 128
)

// PeriodicHann returns a length-n Hann window suited to spectral analysis
// (the symmetric window of length n+1 with its last sample dropped).
func PeriodicHann(n int) []float64 {
	return window.Hann(n + 1)[:n]
}

// PowerSpectrum returns |X[k]|^2 for the non-negative frequency bins of frame.
func PowerSpectrum(frame []float64) []float64 {
	spec := fft.FFTReal(frame)
	bins := len(frame)/2 + 1
	out := make([]float64, bins)
	for k := 0; k < bins; k++ {
		re, im := real(spec[k]), imag(spec[k])
		out[k] = re*re + im*im
	}
	return out
}

// STFT computes a centered short-time power spectrogram. The signal is
// zero-padded by nFFT/2 on both sides so frame t is centered on sample
// t*hop, giving 1+len(samples)/hop frames. The result is time-major:
// spec[frame][bin].
func STFT(samples []float64, nFFT, hop int) ([][]float64, error) {
	if nFFT <= 0 || hop <= 0 {
		return nil, errors.New("fft size and hop must be positive")
	}
	if len(samples) == 0 {
		return nil, errors.New("empty signal")
	}

	pad := nFFT / 2
	padded := make([]float64, len(samples)+2*pad)
	copy(padded[pad:], samples)

	win := PeriodicHann(nFFT)
	nFrames := 1 + len(samples)/hop
	spec := make([][]float64, nFrames)
	frame := make([]float64, nFFT)
	for t := 0; t < nFrames; t++ {
		start := t * hop
		for i := 0; i < nFFT; i++ {
			frame[i] = padded[start+i] * win[i]
		}
		spec[t] = PowerSpectrum(frame)
	}
	return spec, nil
}
