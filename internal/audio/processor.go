package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/internal/runner"
	"github.com/himanishpuri/drumscribe/pkg/utils"
)

// SampleRate is the rate every signal is analysed at.
const SampleRate = 44100

type ConvertWAVConfig struct {
	FFmpeg     string // executable, defaults to "ffmpeg"
	SampleRate int
	Timeout    time.Duration
}

// Converter turns arbitrary audio files into mono 16-bit PCM WAV.
type Converter struct {
	cfg    ConvertWAVConfig
	runner runner.Runner
}

func NewConverter(cfg ConvertWAVConfig, r runner.Runner) *Converter {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = SampleRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if r == nil {
		r = runner.NewExecRunner()
	}
	return &Converter{cfg: cfg, runner: r}
}

// ConvertToMonoWAV converts inputPath into <outputDir>/<stem>.wav and returns
// the new path.
func (c *Converter) ConvertToMonoWAV(ctx context.Context, inputPath, outputDir string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(outputDir, stem+".wav")

	tmpPath := outputPath + ".tmp.wav"
	defer os.Remove(tmpPath)

	res, err := c.runner.Run(ctx, runner.Command{
		Name: c.cfg.FFmpeg,
		Args: []string{
			"-y",
			"-v", "error",
			"-i", inputPath,
			"-ac", "1", // mono
			"-ar", strconv.Itoa(c.cfg.SampleRate),
			"-c:a", "pcm_s16le",
			tmpPath,
		},
	})
	if err != nil {
		return "", apperrors.NewProcessError("ffmpeg", "decode", res.ExitCode, res.Stderr, err)
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}

	return outputPath, nil
}

// Load decodes any supported input into a mono signal at the configured rate.
// The intermediate WAV is written into workDir and left there.
func (c *Converter) Load(ctx context.Context, inputPath, workDir string) (*Signal, error) {
	wavPath, err := c.ConvertToMonoWAV(ctx, inputPath, workDir)
	if err != nil {
		return nil, fmt.Errorf("audio conversion failed: %w", err)
	}
	sig, err := ReadWav(wavPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file: %w", err)
	}
	return sig, nil
}
