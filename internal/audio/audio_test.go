package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/internal/runner"
)

func TestWriteThenReadWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	sig := &Signal{SampleRate: SampleRate, Samples: make([]float64, SampleRate/10)}
	for i := range sig.Samples {
		sig.Samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/SampleRate)
	}
	sig.Samples[0] = 2 // clipped to 1

	require.NoError(t, WriteWav(path, sig))

	got, err := ReadWav(path)
	require.NoError(t, err)
	assert.Equal(t, SampleRate, got.SampleRate)
	require.Len(t, got.Samples, len(sig.Samples))
	assert.InDelta(t, 1.0, got.Samples[0], 1e-3)
	for i := 1; i < len(sig.Samples); i += 97 {
		assert.InDelta(t, sig.Samples[i], got.Samples[i], 1e-3)
	}
	assert.InDelta(t, 0.1, got.Duration(), 1e-9)
}

func TestReadWavDownmixesStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, 22050, 16, 2, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: 22050},
		Data:           []int{16384, 0, -16384, -16384, 0, 8192},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	got, err := ReadWav(path)
	require.NoError(t, err)
	assert.Equal(t, 22050, got.SampleRate)
	require.Len(t, got.Samples, 3)
	assert.InDelta(t, 0.25, got.Samples[0], 1e-6)
	assert.InDelta(t, -0.5, got.Samples[1], 1e-6)
	assert.InDelta(t, 0.125, got.Samples[2], 1e-6)
}

func TestReadWavRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("INVALID HEADER DATA"), 0o644))

	_, err := ReadWav(path)
	assert.Error(t, err)
}

func TestConvertToMonoWAVInvokesFFmpeg(t *testing.T) {
	dir := t.TempDir()
	var got runner.Command
	fake := runner.Func(func(ctx context.Context, c runner.Command) (runner.Result, error) {
		got = c
		out := c.Args[len(c.Args)-1]
		return runner.Result{}, WriteWav(out, &Signal{SampleRate: SampleRate, Samples: []float64{0, 0.1}})
	})

	conv := NewConverter(ConvertWAVConfig{FFmpeg: "ffmpeg-custom"}, fake)
	sig, err := conv.Load(context.Background(), "/in/song.mp3", dir)
	require.NoError(t, err)

	assert.Equal(t, "ffmpeg-custom", got.Name)
	assert.Contains(t, got.Args, "44100")
	assert.Len(t, sig.Samples, 2)
	assert.FileExists(t, filepath.Join(dir, "song.wav"))
	assert.NoFileExists(t, filepath.Join(dir, "song.wav.tmp.wav"))
}

func TestConvertToMonoWAVReportsFailure(t *testing.T) {
	fake := runner.Func(func(ctx context.Context, c runner.Command) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "Invalid data found"}, errors.New("exit 1")
	})

	_, err := NewConverter(ConvertWAVConfig{}, fake).ConvertToMonoWAV(context.Background(), "x.mp3", t.TempDir())
	var pe *apperrors.ProcessError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "ffmpeg", pe.Tool)
	assert.Equal(t, "Invalid data found", pe.Stderr)
}
