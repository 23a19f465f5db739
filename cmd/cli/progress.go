package main

import (
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/himanishpuri/drumscribe/pkg/drumscribe"
)

var percentSuffix = regexp.MustCompile(`^(.*?)\s*(\d{1,3})%$`)

// parseProgress splits a job message such as "Separating drums... 42%" into
// its description and percentage. Messages without a trailing percentage
// return ok=false.
func parseProgress(message string) (desc string, percent int, ok bool) {
	m := percentSuffix.FindStringSubmatch(strings.TrimSpace(message))
	if m == nil {
		return strings.TrimSpace(message), 0, false
	}
	p, err := strconv.Atoi(m[2])
	if err != nil || p > 100 {
		return strings.TrimSpace(message), 0, false
	}
	return m[1], p, true
}

// progressView renders job updates as a single progress bar whose
// description follows the current stage.
type progressView struct {
	bar   *progressbar.ProgressBar
	stage string
}

func newProgressView(w io.Writer) *progressView {
	bar := progressbar.NewOptions64(
		100,
		progressbar.OptionSetDescription("Starting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(false),
	)
	return &progressView{bar: bar}
}

// Update moves the bar to reflect job. A new stage restarts the bar at zero.
func (p *progressView) Update(job drumscribe.Job) {
	desc, percent, ok := parseProgress(job.Message)
	if desc != p.stage {
		p.stage = desc
		p.bar.Reset()
		p.bar.Describe(desc)
	}
	if ok {
		p.bar.Set64(int64(percent))
	}
	if job.Status.Terminal() {
		p.bar.Finish()
	}
}

// Stage returns the description currently shown.
func (p *progressView) Stage() string {
	return p.stage
}
