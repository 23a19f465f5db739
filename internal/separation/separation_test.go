package separation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/internal/progress"
	"github.com/himanishpuri/drumscribe/internal/runner"
	"github.com/himanishpuri/drumscribe/pkg/logger"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		want int
		ok   bool
	}{
		{"Separating: 42%|████      | 10/24", 42, true},
		{"  Separating:  7%|", 7, true},
		{"Separating: 100%|██████████|", 100, true},
		{"Separating: starting", 0, false},
		{"Selected model is a bag of 1 models. 50%", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ParseProgress(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandLayout(t *testing.T) {
	s := New(Config{Python: "py"}, runner.Func(nil), logger.Discard())
	cmd := s.Command("/up/song.mp3", "/res/job")

	assert.Equal(t, "py", cmd.Name)
	assert.Equal(t, []string{"-m", "demucs.separate", "-n", "htdemucs", "--two-stems=drums", "-o", "/res/job/separated", "/up/song.mp3"}, cmd.Args)
	assert.Equal(t, "/res/job/separated/htdemucs/song/drums.wav", s.DrumsPath("/up/song.mp3", "/res/job"))
}

func TestSeparateStreamsProgress(t *testing.T) {
	out := t.TempDir()
	fake := runner.Func(func(ctx context.Context, c runner.Command) (runner.Result, error) {
		for _, line := range []string{"Selected model", "Separating: 10%|", "Separating: 10%|", "Separating: 90%|"} {
			c.OnStderrLine(line)
		}
		drums := filepath.Join(out, "separated", "htdemucs", "song", "drums.wav")
		require.NoError(t, os.MkdirAll(filepath.Dir(drums), 0o755))
		return runner.Result{}, os.WriteFile(drums, []byte("RIFF"), 0o644)
	})

	var updates []progress.Update
	path, err := New(Config{}, fake, logger.Discard()).Separate(context.Background(), "/up/song.wav", out,
		func(u progress.Update) { updates = append(updates, u) })
	require.NoError(t, err)
	assert.FileExists(t, path)

	require.Len(t, updates, 3)
	assert.Equal(t, "Separating drums... 90%", updates[2].Message())
}

func TestSeparateFailures(t *testing.T) {
	tests := []struct {
		name    string
		run     runner.Func
		wantMsg string
		wantErr error
	}{
		{
			name: "nonzero exit",
			run: func(ctx context.Context, c runner.Command) (runner.Result, error) {
				return runner.Result{ExitCode: 1, Stderr: strings.Repeat("x", 300)}, errors.New("exit status 1")
			},
			wantMsg: "Demucs failed: " + strings.Repeat("x", 100),
		},
		{
			name: "missing stem",
			run: func(ctx context.Context, c runner.Command) (runner.Result, error) {
				return runner.Result{}, nil
			},
			wantMsg: MsgArtifactMissing,
			wantErr: apperrors.ErrArtifactMissing,
		},
		{
			name: "not installed",
			run: func(ctx context.Context, c runner.Command) (runner.Result, error) {
				return runner.Result{ExitCode: -1}, fmt.Errorf("python3: %w", apperrors.ErrToolNotInstalled)
			},
			wantMsg: MsgNotInstalled,
			wantErr: apperrors.ErrToolNotInstalled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{}, tt.run, logger.Discard()).Separate(context.Background(), "in.wav", t.TempDir(), nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantMsg, apperrors.UserMessage(err, ""))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSeparateNonzeroExitKeepsProcessError(t *testing.T) {
	fake := runner.Func(func(ctx context.Context, c runner.Command) (runner.Result, error) {
		return runner.Result{ExitCode: 2, Stderr: "CUDA out of memory"}, errors.New("exit status 2")
	})
	_, err := New(Config{}, fake, logger.Discard()).Separate(context.Background(), "in.wav", t.TempDir(), nil)

	var pe *apperrors.ProcessError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "demucs", pe.Tool)
	assert.Equal(t, 2, pe.ExitCode)
}
