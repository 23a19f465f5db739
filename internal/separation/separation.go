package separation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/internal/progress"
	"github.com/himanishpuri/drumscribe/internal/runner"
	"github.com/himanishpuri/drumscribe/pkg/logger"
)

const (
	DefaultPython = "python3"
	DefaultModel  = "htdemucs"

	// ProgressDescription prefixes every separation progress update.
	ProgressDescription = "Separating drums..."

	stage = "separation"
)

// Failure messages stored on the job.
const (
	MsgArtifactMissing = "Demucs finished but drums.wav was not produced"
	MsgNotInstalled    = "Demucs is not installed"
	msgFailedPrefix    = "Demucs failed: "
)

var percentPattern = regexp.MustCompile(`(\d+)%`)

// ParseProgress extracts the completion percentage from a Demucs progress
// line. Only lines starting with "Separating:" are considered.
func ParseProgress(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "Separating:") {
		return 0, false
	}
	m := percentPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil || pct > 100 {
		return 0, false
	}
	return pct, true
}

// Config selects the interpreter and Demucs model.
type Config struct {
	Python string
	Model  string
}

// Separator isolates the drum stem of a recording with Demucs.
type Separator struct {
	cfg    Config
	runner runner.Runner
	log    logger.Leveled
}

func New(cfg Config, r runner.Runner, log logger.Leveled) *Separator {
	if cfg.Python == "" {
		cfg.Python = DefaultPython
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if r == nil {
		r = runner.NewExecRunner()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Separator{cfg: cfg, runner: r, log: logger.Tagged(log, stage)}
}

// Command builds the Demucs invocation for input, writing under outDir.
func (s *Separator) Command(input, outDir string) runner.Command {
	return runner.Command{
		Name: s.cfg.Python,
		Args: []string{
			"-m", "demucs.separate",
			"-n", s.cfg.Model,
			"--two-stems=drums",
			"-o", filepath.Join(outDir, "separated"),
			input,
		},
	}
}

// DrumsPath is where Demucs leaves the drum stem of input.
func (s *Separator) DrumsPath(input, outDir string) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(outDir, "separated", s.cfg.Model, stem, "drums.wav")
}

// Separate runs Demucs on input and returns the path of the drum stem.
// Failures are *apperrors.StageError values carrying the job message.
func (s *Separator) Separate(ctx context.Context, input, outDir string, onProgress progress.Func) (string, error) {
	cmd := s.Command(input, outDir)
	cmd.OnStderrLine = func(line string) {
		if pct, ok := ParseProgress(line); ok {
			onProgress.Emit(pct, ProgressDescription)
		}
	}

	s.log.Infof("running %s", cmd)
	res, err := s.runner.Run(ctx, cmd)
	if err != nil {
		if errors.Is(err, apperrors.ErrToolNotInstalled) {
			return "", apperrors.NewStageError(stage, MsgNotInstalled, err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		pe := apperrors.NewProcessError("demucs", stage, res.ExitCode, res.Stderr, err)
		s.log.Errorf("%v", pe)
		return "", apperrors.NewStageError(stage, msgFailedPrefix+pe.Stderr, pe)
	}

	drums := s.DrumsPath(input, outDir)
	if _, err := os.Stat(drums); err != nil {
		s.log.Errorf("expected %s after successful run", drums)
		return "", apperrors.NewStageError(stage, MsgArtifactMissing, fmt.Errorf("%s: %w", drums, apperrors.ErrArtifactMissing))
	}
	s.log.Infof("drum stem ready in %s", res.Duration)
	return drums, nil
}
