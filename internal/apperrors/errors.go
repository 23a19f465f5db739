package apperrors

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Sentinel errors for expected failure modes
var (
	ErrModelNotFound    = errors.New("inference model file not found")
	ErrArtifactMissing  = errors.New("tool succeeded but expected output is missing")
	ErrTimeout          = errors.New("operation timed out")
	ErrToolNotInstalled = errors.New("required tool not installed")
	ErrJobNotFound      = errors.New("job not found")
)

// DiagnosticLimit bounds the tool output copied into job messages.
const DiagnosticLimit = 100

// ProcessError represents a failure in an external process
type ProcessError struct {
	Tool     string // "demucs", "ffmpeg", "mscore"
	Stage    string // "separation", "decode", "engraving"
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed at %s (exit %d): %s", e.Tool, e.Stage, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s failed at %s (exit %d)", e.Tool, e.Stage, e.ExitCode)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// NewProcessError creates a ProcessError, keeping only a bounded excerpt of stderr.
func NewProcessError(tool, stage string, exitCode int, stderr string, cause error) *ProcessError {
	return &ProcessError{
		Tool:     tool,
		Stage:    stage,
		ExitCode: exitCode,
		Stderr:   Excerpt(stderr, DiagnosticLimit),
		Cause:    cause,
	}
}

// Excerpt returns at most n runes of s. It never splits a UTF-8 sequence.
func Excerpt(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// StageError carries the user-facing message for a failed pipeline stage.
// Message is what the job record shows; Err keeps the detail for logs.
type StageError struct {
	Stage   string
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Stage + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with a user-facing message.
func NewStageError(stage, message string, err error) *StageError {
	return &StageError{Stage: stage, Message: message, Err: err}
}

// UserMessage returns the message of the outermost StageError in err's chain,
// or fallback when there is none.
func UserMessage(err error, fallback string) string {
	var se *StageError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return fallback
}
