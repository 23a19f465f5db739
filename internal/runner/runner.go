package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// OnStderrLine, when set, receives every stderr line as it is produced.
	// Carriage returns count as line breaks so redrawn progress bars are
	// delivered one frame at a time.
	OnStderrLine func(line string)
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds command execution output
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes external commands with context support
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Func adapts a plain function to the Runner interface.
type Func func(ctx context.Context, cmd Command) (Result, error)

func (f Func) Run(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts the command and waits for it. A non-nil error is returned for a
// missing executable (wrapping ErrToolNotInstalled), a context deadline
// (wrapping ErrTimeout) and a nonzero exit; Result is populated in every case.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout

	var pipe io.ReadCloser
	if c.OnStderrLine != nil {
		var err error
		pipe, err = cmd.StderrPipe()
		if err != nil {
			return Result{ExitCode: -1}, fmt.Errorf("stderr pipe for %s: %w", c.Name, err)
		}
	} else {
		cmd.Stderr = &stderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		result := Result{ExitCode: -1, Duration: time.Since(start)}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return result, fmt.Errorf("%s: %w", c.Name, apperrors.ErrToolNotInstalled)
		}
		return result, fmt.Errorf("starting %s: %w", c.Name, err)
	}

	if pipe != nil {
		if err := streamLines(pipe, &stderr, c.OnStderrLine); err != nil {
			fmt.Fprintf(&stderr, "stderr truncated: %v\n", err)
		}
	}

	err := cmd.Wait()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("%s: %w", c.Name, apperrors.ErrTimeout)
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, fmt.Errorf("%s exited with code %d: %w", c.Name, result.ExitCode, err)
}

// MaxLineLength bounds a single streamed stderr line.
const MaxLineLength = 1024 * 1024

// streamLines copies r into buf line by line and hands every non-blank line to
// onLine. After a scan error the rest of r is discarded so the writer never
// blocks on a full pipe; the error is returned once r is drained.
func streamLines(r io.Reader, buf *bytes.Buffer, onLine func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineLength)
	scanner.Split(ScanLines)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if strings.TrimSpace(line) != "" {
			onLine(line)
		}
	}
	if err := scanner.Err(); err != nil {
		io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// ScanLines is a bufio.SplitFunc that breaks on either '\n' or '\r'.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Locator is implemented by runners that can resolve an executable ahead of
// running it.
type Locator interface {
	LookPath(name string) (string, error)
}

// LookPath resolves name on PATH. A missing executable wraps ErrToolNotInstalled.
func (r *ExecRunner) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, apperrors.ErrToolNotInstalled)
	}
	return path, nil
}
