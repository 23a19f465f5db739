package notation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/internal/runner"
	"github.com/himanishpuri/drumscribe/pkg/logger"
)

// DefaultTimeout bounds one engraver run.
const DefaultTimeout = 30 * time.Second

const stage = "notation"

// Status messages reported while rendering.
const (
	MsgConvertingXML = "Converting MIDI to score (XML)..."
	MsgRenderingPDF  = "Rendering score PDF..."
)

// Failure messages stored on the job.
const (
	MsgXMLFailed       = "Score (XML) conversion failed"
	MsgEngraverMissing = "Score engraver executable not found"
	MsgPDFNotProduced  = "PDF file was not produced"
	MsgPDFTimedOut     = "PDF conversion timed out"
	msgPDFFailedPrefix = "PDF conversion failed: "
)

// RendererConfig configures the engraver invocation.
type RendererConfig struct {
	Engraver string // defaults to "mscore"
	Timeout  time.Duration
}

// Renderer turns a MIDI file into a PDF score through MusicXML and an
// external engraver.
type Renderer struct {
	cfg    RendererConfig
	runner runner.Runner
	log    logger.Leveled
}

func NewRenderer(cfg RendererConfig, r runner.Runner, log logger.Leveled) *Renderer {
	if cfg.Engraver == "" {
		cfg.Engraver = "mscore"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if r == nil {
		r = runner.NewExecRunner()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Renderer{cfg: cfg, runner: r, log: logger.Tagged(log, stage)}
}

// XMLPath is the intermediate score path used for pdfPath.
func XMLPath(pdfPath string) string {
	return strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + ".xml"
}

// Render writes a PDF score for midiPath to pdfPath. report receives the
// stage messages. The intermediate MusicXML file never outlives the call.
// Failures are *apperrors.StageError values carrying the job message.
func (r *Renderer) Render(ctx context.Context, midiPath, pdfPath string, report func(string)) error {
	if report == nil {
		report = func(string) {}
	}
	xmlPath := XMLPath(pdfPath)
	defer func() {
		if err := os.Remove(xmlPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warnf("could not remove %s: %v", xmlPath, err)
		}
	}()

	report(MsgConvertingXML)
	if loc, ok := r.runner.(runner.Locator); ok {
		if _, err := loc.LookPath(r.cfg.Engraver); err != nil {
			r.log.Errorf("engraver %q not found", r.cfg.Engraver)
			return apperrors.NewStageError(stage, MsgEngraverMissing, err)
		}
	}
	title := strings.TrimSuffix(filepath.Base(midiPath), filepath.Ext(midiPath))
	if err := WriteMusicXML(midiPath, xmlPath, title); err != nil {
		r.log.Errorf("musicxml conversion: %v", err)
		return apperrors.NewStageError(stage, MsgXMLFailed, err)
	}

	report(MsgRenderingPDF)
	// Stale output from an earlier attempt must not count as success.
	_ = os.Remove(pdfPath)

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := runner.Command{Name: r.cfg.Engraver, Args: []string{"-o", pdfPath, xmlPath}}
	r.log.Debugf("running %s", cmd)
	res, err := r.runner.Run(runCtx, cmd)
	switch {
	case errors.Is(err, apperrors.ErrToolNotInstalled):
		return apperrors.NewStageError(stage, MsgEngraverMissing, err)
	case errors.Is(err, apperrors.ErrTimeout):
		r.log.Errorf("engraver timed out after %s", r.cfg.Timeout)
		return apperrors.NewStageError(stage, MsgPDFTimedOut, err)
	case err != nil:
		pe := apperrors.NewProcessError(r.cfg.Engraver, "engraving", res.ExitCode, res.Stderr, err)
		r.log.Errorf("%v", pe)
		return apperrors.NewStageError(stage, msgPDFFailedPrefix+pe.Stderr, pe)
	}

	if _, err := os.Stat(pdfPath); err != nil {
		return apperrors.NewStageError(stage, MsgPDFNotProduced, fmt.Errorf("%s: %w", pdfPath, apperrors.ErrArtifactMissing))
	}
	r.log.Infof("rendered %s in %s", filepath.Base(pdfPath), res.Duration.Round(time.Millisecond))
	return nil
}
