package jobs

import (
	"time"

	"github.com/himanishpuri/drumscribe/internal/progress"
	"github.com/himanishpuri/drumscribe/pkg/logger"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// MsgWaiting is the message of a freshly created job.
const MsgWaiting = "Waiting to start."

// Results point at the downloadable artifacts of a completed job.
type Results struct {
	MidiURL string `json:"midiUrl"`
	PdfURL  string `json:"pdfUrl"`
}

// Job is a snapshot of one transcription request.
type Job struct {
	ID        string    `json:"-"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Results   *Results  `json:"results,omitempty"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Store keeps job records. Implementations are safe for concurrent use and
// hand out copies, never shared references.
type Store interface {
	Create(id string) (Job, error)
	// Update overwrites status and message, creating the record if needed.
	// Results are kept only on completed jobs.
	Update(id string, status Status, message string, results *Results) error
	// Get returns apperrors.ErrJobNotFound for unknown ids.
	Get(id string) (Job, error)
}

// apply computes the record that follows prev after an update.
func apply(prev Job, exists bool, id string, status Status, message string, results *Results, now time.Time) Job {
	next := prev
	if !exists {
		next = Job{ID: id, CreatedAt: now}
	}
	next.Status = status
	next.Message = message
	next.UpdatedAt = now

	switch {
	case status != StatusCompleted:
		next.Results = nil
	case results != nil:
		r := *results
		next.Results = &r
	case prev.Status != StatusCompleted:
		next.Results = nil
	}
	return next
}

func cloneJob(j Job) Job {
	if j.Results != nil {
		r := *j.Results
		j.Results = &r
	}
	return j
}

// ProgressReporter returns a progress sink that moves job id to processing
// with the rendered update, skipping repeats of the last message.
func ProgressReporter(store Store, id string, log logger.Leveled) progress.Func {
	return progress.Dedup(func(msg string) {
		if err := store.Update(id, StatusProcessing, msg, nil); err != nil && log != nil {
			log.Warnf("progress update for %s: %v", id, err)
		}
	})
}
