package drumscribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/internal/audio"
	"github.com/himanishpuri/drumscribe/internal/classifier"
	"github.com/himanishpuri/drumscribe/internal/classifier/tflite"
	"github.com/himanishpuri/drumscribe/internal/download"
	"github.com/himanishpuri/drumscribe/internal/jobs"
	"github.com/himanishpuri/drumscribe/internal/notation"
	"github.com/himanishpuri/drumscribe/internal/pipeline"
	"github.com/himanishpuri/drumscribe/internal/runner"
	"github.com/himanishpuri/drumscribe/internal/separation"
	"github.com/himanishpuri/drumscribe/internal/tempo"
	"github.com/himanishpuri/drumscribe/pkg/logger"
	"github.com/himanishpuri/drumscribe/pkg/utils"
)

// DefaultExtension is used for uploads whose name carries no extension.
const DefaultExtension = ".mp3"

// ErrServiceClosed is returned for work submitted after Close.
var ErrServiceClosed = errors.New("service is closed")

// drumService is the default implementation of the Service interface.
type drumService struct {
	store      Store
	stages     pipeline.Stages
	classifier *classifier.Classifier
	orch       *pipeline.Orchestrator
	log        Logger
	config     *Config

	// ctx is the parent of every job; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.Store == nil {
		cfg.Store = jobs.NewMemoryStore()
	}
	if cfg.Runner == nil {
		cfg.Runner = runner.NewExecRunner()
	}
	if cfg.ModelLoader == nil {
		cfg.ModelLoader = tflite.Load
	}
	for _, dir := range []string{cfg.UploadDir, cfg.ResultsDir} {
		if err := utils.MakeDir(dir); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	cls, err := classifier.New(cfg.ModelPath, cfg.ModelLoader, logger.Tagged(cfg.Logger, "classifier"))
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	est, err := tempo.NewEstimator(logger.Tagged(cfg.Logger, "tempo"))
	if err != nil {
		return nil, fmt.Errorf("failed to create tempo estimator: %w", err)
	}

	stages := pipeline.Stages{
		Separator: separation.New(separation.Config{
			Python: cfg.Python,
			Model:  cfg.DemucsModel,
		}, cfg.Runner, cfg.Logger),
		Decoder:    audio.NewConverter(audio.ConvertWAVConfig{FFmpeg: cfg.FFmpeg}, cfg.Runner),
		Classifier: cls,
		Tempo:      est,
		Engraver: notation.NewRenderer(notation.RendererConfig{
			Engraver: cfg.Engraver,
			Timeout:  cfg.EngraverTimeout,
		}, cfg.Runner, cfg.Logger),
	}
	if !cfg.DisableDownload {
		stages.Downloader = download.NewDownloader(download.Config{Executable: cfg.YtDlp}, cfg.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &drumService{
		ctx:        ctx,
		cancel:     cancel,
		store:      cfg.Store,
		stages:     stages,
		classifier: cls,
		orch:       pipeline.New(cfg.Store, stages, cfg.ResultsDir, cfg.UploadDir, cfg.Logger),
		log:        cfg.Logger,
		config:     cfg,
	}, nil
}

// uploadPath keeps the original extension, defaulting to DefaultExtension.
func (s *drumService) uploadPath(id, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		ext = DefaultExtension
	}
	return filepath.Join(s.config.UploadDir, id+ext)
}

// acquire registers one unit of work with Close. Callers must call s.wg.Done.
func (s *drumService) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServiceClosed
	}
	s.wg.Add(1)
	return nil
}

func (s *drumService) start(req pipeline.Request) error {
	if err := s.acquire(); err != nil {
		return err
	}
	if _, err := s.store.Create(req.JobID); err != nil {
		s.wg.Done()
		return fmt.Errorf("creating job: %w", err)
	}

	go func() {
		defer s.wg.Done()
		// Jobs outlive the request that submitted them, not the service.
		_ = s.orch.Run(s.ctx, req)
	}()
	return nil
}

// Submit stores the upload as <uploads>/<id><ext> and starts the job.
func (s *drumService) Submit(ctx context.Context, filename string, r io.Reader) (string, error) {
	if s.isClosed() {
		return "", ErrServiceClosed
	}
	id := utils.NewJobID()
	path := s.uploadPath(id, filename)

	n, err := utils.SaveStream(path, r)
	if err != nil {
		return "", fmt.Errorf("saving upload: %w", err)
	}
	if n == 0 {
		os.Remove(path)
		return "", errors.New("uploaded file is empty")
	}
	s.log.Infof("Accepted %s (%s) as job %s", filename, humanize.Bytes(uint64(n)), id)

	if err := s.start(pipeline.Request{JobID: id, InputPath: path}); err != nil {
		os.Remove(path)
		return "", err
	}
	return id, nil
}

func (s *drumService) SubmitYouTube(ctx context.Context, url string) (string, error) {
	if s.stages.Downloader == nil {
		return "", errors.New("YouTube downloads are disabled")
	}
	videoID, err := utils.ExtractYouTubeID(url)
	if err != nil {
		return "", err
	}

	id := utils.NewJobID()
	s.log.Infof("Accepted YouTube video %s as job %s", videoID, id)
	if err := s.start(pipeline.Request{JobID: id, SourceURL: url}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *drumService) Process(ctx context.Context, path string, onUpdate func(Job)) (Job, error) {
	if err := s.acquire(); err != nil {
		return Job{}, err
	}
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	id := utils.NewJobID()
	store := observedStore{Store: s.store, id: id, onUpdate: onUpdate}
	if _, err := store.Create(id); err != nil {
		return Job{}, fmt.Errorf("creating job: %w", err)
	}

	orch := pipeline.New(store, s.stages, s.config.ResultsDir, s.config.UploadDir, s.log)
	runErr := orch.Run(ctx, pipeline.Request{JobID: id, InputPath: path})

	job, err := s.store.Get(id)
	if err != nil {
		return Job{}, err
	}
	return job, runErr
}

func (s *drumService) Status(id string) (Job, error) {
	return s.store.Get(id)
}

func (s *drumService) ResultPath(id string, kind Artifact) (string, error) {
	if _, err := s.store.Get(id); err != nil {
		return "", err
	}

	var path string
	switch kind {
	case ArtifactMIDI:
		path = s.orch.MIDIPath(id)
	case ArtifactPDF:
		path = s.orch.PDFPath(id)
	default:
		return "", fmt.Errorf("unknown artifact %q", kind)
	}
	if !utils.FileExists(path) {
		return "", fmt.Errorf("%s %s: %w", id, kind, apperrors.ErrArtifactMissing)
	}
	return path, nil
}

func (s *drumService) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *drumService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.classifier.Close()
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
