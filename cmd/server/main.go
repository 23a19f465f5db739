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
	cfgFile string
	verbose bool
	port    int
	origins []string
)

var rootCmd = &cobra.Command{
	Use:   "drumscribe-server",
	Short: "HTTP API that transcribes drum tracks to MIDI and PDF scores",
	Long: `drumscribe-server accepts audio uploads, isolates the drum stem with Demucs,
classifies every hit and returns a MIDI file plus an engraved score.

Configuration is read from ./drumscribe.yaml, ~/.config/drumscribe or
/etc/drumscribe and can be overridden with DRUMSCRIBE_* environment variables.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./drumscribe.yaml, ~/.config/drumscribe/drumscribe.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().IntVar(&port, "port", 8080, "HTTP server port")
	rootCmd.Flags().StringSliceVar(&origins, "origins", []string{"*"}, "allowed CORS origins (use * for all)")
	rootCmd.SetVersionTemplate("drumscribe-server version {{.Version}}\n")
}

// overrides returns the flags the user set explicitly.
func overrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	if cmd.Flags().Changed("port") {
		out["server.port"] = port
	}
	if cmd.Flags().Changed("origins") {
		out["server.allowed_origins"] = origins
	}
	if verbose {
		out["log.level"] = "debug"
	}
	return out
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, overrides(cmd))
	if err != nil {
		return err
	}

	log := logger.GetLogger()
	log.SetLevel(cfg.LogLevel())

	service, err := drumscribe.NewServiceFromConfig(cfg, drumscribe.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer service.Close()

	server := NewServer(service, &ServerConfig{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, log)
	return server.Start()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
