package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/drumscribe/internal/config"
	"github.com/himanishpuri/drumscribe/pkg/drumscribe"
	"github.com/himanishpuri/drumscribe/pkg/logger"
)

var version = "0.1.0"

var (
	cfgFile    string
	verbose    bool
	resultsDir string
	modelPath  string
)

var rootCmd = &cobra.Command{
	Use:   "drumscribe",
	Short: "Transcribe the drums of a song to MIDI and sheet music",
	Long: `drumscribe isolates the drum stem of a recording with Demucs, classifies
every hit as kick, snare or hi-hat and writes a MIDI file plus an engraved
PDF score.

Example:
  drumscribe process song.mp3
  drumscribe youtube https://youtu.be/dQw4w9WgXcQ --results ./out`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./drumscribe.yaml, ~/.config/drumscribe/drumscribe.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&resultsDir, "results", "", "directory for generated MIDI and PDF files")
	rootCmd.PersistentFlags().StringVar(&modelPath, "model", "", "path to the drum classifier .tflite model")

	rootCmd.SetVersionTemplate("drumscribe version {{.Version}}\n")
}

// newService loads configuration, applies the persistent flags and builds the
// service. Log output goes to stderr so it does not interleave with results.
func newService(cmd *cobra.Command) (drumscribe.Service, error) {
	overrides := map[string]any{}
	if cmd.Flags().Changed("results") {
		overrides["paths.results"] = resultsDir
	}
	if cmd.Flags().Changed("model") {
		overrides["paths.model"] = modelPath
	}
	if verbose {
		overrides["log.level"] = "debug"
	}

	cfg, err := config.Load(cfgFile, overrides)
	if err != nil {
		return nil, err
	}

	log := logger.GetLogger()
	log.SetOutput(os.Stderr)
	level := cfg.LogLevel()
	if !verbose && level < logger.WARN {
		level = logger.WARN
	}
	log.SetLevel(level)

	return drumscribe.NewServiceFromConfig(cfg, drumscribe.WithLogger(log))
}
