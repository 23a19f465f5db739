package drumscribe

import (
	"io"

	"github.com/himanishpuri/drumscribe/internal/config"
)

// NewServiceFromConfig builds a Service from loaded configuration. Extra
// options are applied last.
func NewServiceFromConfig(cfg *config.Config, extra ...Option) (Service, error) {
	store, err := NewStore(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithUploadDir(cfg.Paths.Uploads),
		WithResultsDir(cfg.Paths.Results),
		WithModelPath(cfg.Paths.Model),
		WithPython(cfg.Tools.Python, cfg.Tools.DemucsModel),
		WithFFmpeg(cfg.Tools.FFmpeg),
		WithEngraver(cfg.Tools.Engraver, cfg.Tools.EngraverTimeout),
		WithYtDlp(cfg.Tools.YtDlp),
		WithStore(store),
	}
	svc, err := NewService(append(opts, extra...)...)
	if err != nil {
		if c, ok := store.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	return svc, nil
}
