package drumscribe

import (
	"context"
	"io"

	"github.com/himanishpuri/drumscribe/internal/jobs"
	"github.com/himanishpuri/drumscribe/pkg/logger"
)

type (
	Job     = jobs.Job
	Status  = jobs.Status
	Results = jobs.Results
	Store   = jobs.Store
	Logger  = logger.Leveled
)

const (
	StatusPending    = jobs.StatusPending
	StatusProcessing = jobs.StatusProcessing
	StatusCompleted  = jobs.StatusCompleted
	StatusError      = jobs.StatusError
)

// Artifact names a downloadable job output.
type Artifact string

const (
	ArtifactMIDI Artifact = "midi"
	ArtifactPDF  Artifact = "pdf"
)

type Service interface {
	// Submit stores the upload and starts transcribing it in the background.
	Submit(ctx context.Context, filename string, r io.Reader) (string, error)
	// SubmitYouTube starts a job whose audio is fetched from YouTube.
	SubmitYouTube(ctx context.Context, url string) (string, error)
	// Process transcribes a local file synchronously, reporting every job update.
	Process(ctx context.Context, path string, onUpdate func(Job)) (Job, error)
	Status(id string) (Job, error)
	// ResultPath locates an artifact of a completed job.
	ResultPath(id string, kind Artifact) (string, error)
	// Close cancels running jobs, waits for them to stop and releases the
	// store and model. Work submitted afterwards fails with ErrServiceClosed.
	Close() error
}
