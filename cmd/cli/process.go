package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/pkg/drumscribe"
	"github.com/himanishpuri/drumscribe/pkg/utils"
)

const pollInterval = 500 * time.Millisecond

var processCmd = &cobra.Command{
	Use:   "process <audio-file>",
	Short: "Transcribe a local audio file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !utils.FileExists(args[0]) {
			return fmt.Errorf("audio file not found: %s", args[0])
		}

		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		view := newProgressView(cmd.ErrOrStderr())
		job, err := svc.Process(ctx, args[0], view.Update)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil && job.ID == "" {
			return err
		}
		return printSummary(cmd.OutOrStdout(), svc, job)
	},
}

var youtubeCmd = &cobra.Command{
	Use:   "youtube <url>",
	Short: "Download a YouTube video's audio and transcribe it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !utils.IsYouTubeURL(args[0]) {
			return fmt.Errorf("not a YouTube video link: %s", args[0])
		}

		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		id, err := svc.SubmitYouTube(ctx, args[0])
		if err != nil {
			return err
		}

		view := newProgressView(cmd.ErrOrStderr())
		job, err := waitForJob(ctx, svc, id, pollInterval, view.Update)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), svc, job)
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(youtubeCmd)
}

// waitForJob polls the job until it reaches a terminal status, forwarding
// every change to onUpdate.
func waitForJob(ctx context.Context, svc drumscribe.Service, id string, every time.Duration, onUpdate func(drumscribe.Job)) (drumscribe.Job, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last drumscribe.Job
	for {
		job, err := svc.Status(id)
		if err != nil {
			return drumscribe.Job{}, err
		}
		if job.Status != last.Status || job.Message != last.Message {
			onUpdate(job)
			last = job
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// printSummary writes the outcome of a finished job and returns an error for
// failed jobs so the process exits non-zero.
func printSummary(w io.Writer, svc drumscribe.Service, job drumscribe.Job) error {
	if job.Status != drumscribe.StatusCompleted {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Message)
	}

	fmt.Fprintf(w, "Job %s: %s\n", job.ID, job.Message)
	for _, kind := range []drumscribe.Artifact{drumscribe.ArtifactMIDI, drumscribe.ArtifactPDF} {
		path, err := svc.ResultPath(job.ID, kind)
		switch {
		case err == nil:
			fmt.Fprintf(w, "  %-4s %s\n", kind, path)
		case errors.Is(err, apperrors.ErrArtifactMissing):
			fmt.Fprintf(w, "  %-4s (not produced)\n", kind)
		default:
			return err
		}
	}
	return nil
}
