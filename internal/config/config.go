package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/himanishpuri/drumscribe/pkg/logger"
)

// Config is the runtime configuration shared by the server and the CLI.
type Config struct {
	Server ServerConfig
	Paths  PathsConfig
	Tools  ToolsConfig
	Store  StoreConfig
	Log    LogConfig
}

type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	MaxUploadBytes uint64
}

type PathsConfig struct {
	Uploads string
	Results string
	Model   string
}

type ToolsConfig struct {
	Python          string
	DemucsModel     string
	FFmpeg          string
	Engraver        string
	EngraverTimeout time.Duration
	YtDlp           string
}

type StoreConfig struct {
	Driver string // "memory" or "sqlite"
	DSN    string
}

type LogConfig struct {
	Level string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_size", "200MB")
	v.SetDefault("paths.uploads", "./uploads")
	v.SetDefault("paths.results", "./results")
	v.SetDefault("paths.model", "./models/drum_cnn_final.tflite")
	v.SetDefault("tools.python", "python3")
	v.SetDefault("tools.demucs_model", "htdemucs")
	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("tools.engraver", "mscore")
	v.SetDefault("tools.engraver_timeout", "30s")
	v.SetDefault("tools.ytdlp", "")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("log.level", "info")
}

// Load reads configuration. Priority order (highest to lowest):
//  1. overrides, usually flags the user set explicitly
//  2. DRUMSCRIBE_* environment variables
//  3. the configuration file
//  4. defaults
//
// An empty configFile searches ./drumscribe.yaml, $HOME/.config/drumscribe and
// /etc/drumscribe; a missing file is not an error.
func Load(configFile string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("drumscribe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/drumscribe")
		v.AddConfigPath("/etc/drumscribe")
	}

	v.SetEnvPrefix("DRUMSCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, val := range overrides {
		v.Set(key, val)
	}

	maxUpload, err := humanize.ParseBytes(v.GetString("server.max_upload_size"))
	if err != nil {
		return nil, fmt.Errorf("server.max_upload_size: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetInt("server.port"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
			MaxUploadBytes: maxUpload,
		},
		Paths: PathsConfig{
			Uploads: v.GetString("paths.uploads"),
			Results: v.GetString("paths.results"),
			Model:   v.GetString("paths.model"),
		},
		Tools: ToolsConfig{
			Python:          v.GetString("tools.python"),
			DemucsModel:     v.GetString("tools.demucs_model"),
			FFmpeg:          v.GetString("tools.ffmpeg"),
			Engraver:        v.GetString("tools.engraver"),
			EngraverTimeout: v.GetDuration("tools.engraver_timeout"),
			YtDlp:           v.GetString("tools.ytdlp"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("store.driver")),
			DSN:    v.GetString("store.dsn"),
		},
		Log: LogConfig{Level: v.GetString("log.level")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadBytes == 0 {
		errs = append(errs, errors.New("server.max_upload_size must be positive"))
	}
	for key, val := range map[string]string{
		"paths.uploads":      c.Paths.Uploads,
		"paths.results":      c.Paths.Results,
		"paths.model":        c.Paths.Model,
		"tools.python":       c.Tools.Python,
		"tools.demucs_model": c.Tools.DemucsModel,
		"tools.ffmpeg":       c.Tools.FFmpeg,
		"tools.engraver":     c.Tools.Engraver,
	} {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", key))
		}
	}
	if c.Tools.EngraverTimeout <= 0 {
		errs = append(errs, errors.New("tools.engraver_timeout must be positive"))
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not memory or sqlite", c.Store.Driver))
	}
	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level %q is unknown", c.Log.Level))
	}
	return errors.Join(errs...)
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logger.LogLevel {
	level, _ := logger.ParseLevel(c.Log.Level)
	return level
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
