package drumscribe

import (
	"time"

	"github.com/himanishpuri/drumscribe/internal/classifier"
	"github.com/himanishpuri/drumscribe/internal/runner"
)

type Config struct {
	UploadDir       string
	ResultsDir      string
	ModelPath       string
	Python          string
	DemucsModel     string
	FFmpeg          string
	Engraver        string
	EngraverTimeout time.Duration
	YtDlp           string
	DisableDownload bool
	Logger          Logger
	Store           Store
	Runner          runner.Runner
	ModelLoader     classifier.Loader
}

type Option func(*Config)

func WithUploadDir(dir string) Option {
	return func(c *Config) {
		c.UploadDir = dir
	}
}

func WithResultsDir(dir string) Option {
	return func(c *Config) {
		c.ResultsDir = dir
	}
}

func WithModelPath(path string) Option {
	return func(c *Config) {
		c.ModelPath = path
	}
}

// WithPython sets the interpreter Demucs runs under.
func WithPython(python, demucsModel string) Option {
	return func(c *Config) {
		c.Python = python
		if demucsModel != "" {
			c.DemucsModel = demucsModel
		}
	}
}

func WithFFmpeg(path string) Option {
	return func(c *Config) {
		c.FFmpeg = path
	}
}

func WithEngraver(path string, timeout time.Duration) Option {
	return func(c *Config) {
		c.Engraver = path
		if timeout > 0 {
			c.EngraverTimeout = timeout
		}
	}
}

// WithYtDlp sets the yt-dlp executable used for YouTube submissions.
func WithYtDlp(path string) Option {
	return func(c *Config) {
		c.YtDlp = path
	}
}

// WithoutDownloads rejects YouTube submissions.
func WithoutDownloads() Option {
	return func(c *Config) {
		c.DisableDownload = true
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStore(store Store) Option {
	return func(c *Config) {
		c.Store = store
	}
}

// WithRunner replaces the process runner shared by every external tool.
func WithRunner(r runner.Runner) Option {
	return func(c *Config) {
		c.Runner = r
	}
}

// WithModelLoader replaces the TensorFlow Lite loader.
func WithModelLoader(loader classifier.Loader) Option {
	return func(c *Config) {
		c.ModelLoader = loader
	}
}

func defaultConfig() *Config {
	return &Config{
		UploadDir:       "uploads",
		ResultsDir:      "results",
		ModelPath:       "models/drum_cnn_final.tflite",
		Python:          "python3",
		DemucsModel:     "htdemucs",
		FFmpeg:          "ffmpeg",
		Engraver:        "mscore",
		EngraverTimeout: 30 * time.Second,
	}
}
