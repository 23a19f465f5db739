package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/pkg/logger"
	"github.com/himanishpuri/drumscribe/pkg/utils"
)

const (
	DefaultTimeout = 3 * time.Minute
	// AudioFormat is the container yt-dlp extracts to.
	AudioFormat = "mp3"
)

// MsgFailed is stored on the job when the download does not succeed.
const MsgFailed = "Audio download failed"

// FetchFunc downloads url's audio track to the yt-dlp output template.
type FetchFunc func(ctx context.Context, url, outputTemplate string) error

// Config configures yt-dlp.
type Config struct {
	Executable string // empty uses yt-dlp from PATH
	Timeout    time.Duration
}

// Downloader fetches audio from YouTube into the uploads directory.
type Downloader struct {
	cfg   Config
	fetch FetchFunc
	log   logger.Leveled
}

func NewDownloader(cfg Config, log logger.Leveled) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.GetLogger()
	}
	d := &Downloader{cfg: cfg, log: logger.Tagged(log, "download")}
	d.fetch = d.ytdlp
	return d
}

// WithFetch replaces the yt-dlp call.
func (d *Downloader) WithFetch(fn FetchFunc) *Downloader {
	d.fetch = fn
	return d
}

func (d *Downloader) ytdlp(ctx context.Context, url, tmpl string) error {
	cmd := ytdlp.New().
		NoPlaylist().
		NoProgress().
		ExtractAudio().
		AudioFormat(AudioFormat).
		Output(tmpl)
	if d.cfg.Executable != "" {
		cmd = cmd.SetExecutable(d.cfg.Executable)
	}

	res, err := cmd.Run(ctx, url)
	if err != nil {
		stderr, code := "", -1
		if res != nil {
			stderr, code = res.Stderr, res.ExitCode
		}
		return apperrors.NewProcessError("yt-dlp", "download", code, stderr, err)
	}
	return nil
}

// Download saves the audio of url as <dir>/<name>.mp3.
func (d *Downloader) Download(ctx context.Context, url, dir, name string) (string, error) {
	videoID, err := utils.ExtractYouTubeID(url)
	if err != nil {
		return "", apperrors.NewStageError("download", MsgFailed, err)
	}
	if err := utils.MakeDir(dir); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	tmpl := filepath.Join(dir, name+".%(ext)s")
	out := filepath.Join(dir, name+"."+AudioFormat)

	start := time.Now()
	d.log.Infof("fetching video %s", videoID)
	if err := d.fetch(ctx, url, tmpl); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		d.log.Errorf("yt-dlp: %v", err)
		return "", apperrors.NewStageError("download", MsgFailed, err)
	}
	if _, err := os.Stat(out); err != nil {
		return "", apperrors.NewStageError("download", MsgFailed, fmt.Errorf("%s: %w", out, apperrors.ErrArtifactMissing))
	}
	d.log.Infof("fetched %s in %s", filepath.Base(out), time.Since(start).Round(time.Millisecond))
	return out, nil
}
