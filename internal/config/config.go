// Package config provides configuration management for framecast using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/framecast/pkg/bytesize"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "FRAMECAST"

// Default configuration values.
const (
	defaultWidth          = 832
	defaultHeight         = 640
	defaultRowStride      = 896
	defaultFrameRate      = 90
	defaultQueueCapacity  = 20
	defaultPollInterval   = 5 * time.Millisecond
	defaultSnapshotEvery  = 90
	defaultMetricsPort    = 9464
	defaultMaxOpenConns   = 4
	defaultMaxIdleConns   = 2
	defaultShutdownTimout = 5 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Writer    WriterConfig    `mapstructure:"writer" yaml:"writer"`
	Previewer PreviewerConfig `mapstructure:"previewer" yaml:"previewer"`
	Metadata  MetadataConfig  `mapstructure:"metadata" yaml:"metadata"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot" yaml:"snapshot"`
	Dump      DumpConfig      `mapstructure:"dump" yaml:"dump"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Catalog   CatalogConfig   `mapstructure:"catalog" yaml:"catalog"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// CaptureConfig describes the frame source and the per-channel queues.
type CaptureConfig struct {
	Source    string   `mapstructure:"source" yaml:"source"` // synthetic, replay
	ReplayDir string   `mapstructure:"replay_dir" yaml:"replay_dir"`
	Channels  []string `mapstructure:"channels" yaml:"channels"`
	Width     int      `mapstructure:"width" yaml:"width"`
	Height    int      `mapstructure:"height" yaml:"height"`
	RowStride int      `mapstructure:"row_stride" yaml:"row_stride"`
	Format    string   `mapstructure:"format" yaml:"format"` // nv12, gray
	FrameRate float64  `mapstructure:"frame_rate" yaml:"frame_rate"`
	// Padded declares that payloads still carry row padding and must be
	// normalized before they are written.
	Padded        bool          `mapstructure:"padded" yaml:"padded"`
	QueueCapacity int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxDuration   time.Duration `mapstructure:"max_duration" yaml:"max_duration"` // 0 = until interrupted
}

// WriterConfig configures the disk encoder.
type WriterConfig struct {
	Enabled        bool              `mapstructure:"enabled" yaml:"enabled"`
	Discipline     string            `mapstructure:"discipline" yaml:"discipline"` // sync, async
	Codec          string            `mapstructure:"codec" yaml:"codec"`           // x264, nvenc, ffv1
	Quality        string            `mapstructure:"quality" yaml:"quality"`       // lossless, high, medium, low
	Container      string            `mapstructure:"container" yaml:"container"`   // mp4, mkv
	OutputDir      string            `mapstructure:"output_dir" yaml:"output_dir"`
	BaseName       string            `mapstructure:"base_name" yaml:"base_name"`
	ExtraArgs      string            `mapstructure:"extra_args" yaml:"extra_args"`
	PipeBufferSize bytesize.Size     `mapstructure:"pipe_buffer_size" yaml:"pipe_buffer_size"`
	LogLevel       string            `mapstructure:"log_level" yaml:"log_level"`
	Labels         map[string]string `mapstructure:"labels" yaml:"labels,omitempty"`
}

// PreviewerConfig configures the live ffplay preview.
type PreviewerConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Channel     string `mapstructure:"channel" yaml:"channel"`
	Discipline  string `mapstructure:"discipline" yaml:"discipline"`
	WindowTitle string `mapstructure:"window_title" yaml:"window_title"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
}

// MetadataConfig configures the per-frame CSV log.
type MetadataConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Discipline string `mapstructure:"discipline" yaml:"discipline"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// SnapshotConfig configures periodic TIFF stills.
type SnapshotConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Discipline string `mapstructure:"discipline" yaml:"discipline"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Interval   int    `mapstructure:"interval" yaml:"interval"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DumpConfig configures the raw frame recorder.
type DumpConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Discipline string `mapstructure:"discipline" yaml:"discipline"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
}

// FFmpegConfig holds external binary configuration.
type FFmpegConfig struct {
	BinaryPath   string `mapstructure:"binary_path" yaml:"binary_path"` // empty = auto-detect
	FFplayPath   string `mapstructure:"ffplay_path" yaml:"ffplay_path"` // empty = auto-detect
	StderrLogDir string `mapstructure:"stderr_log_dir" yaml:"stderr_log_dir"`
}

// CatalogConfig holds the recording catalog database configuration.
type CatalogConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Driver          string        `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level          string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format         string `mapstructure:"format" yaml:"format"` // json, text
	AddSource      bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat     string `mapstructure:"time_format" yaml:"time_format"`
	RequestLogging bool   `mapstructure:"request_logging" yaml:"request_logging"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with FRAMECAST_ and use underscores for
// nesting, e.g. FRAMECAST_WRITER_CODEC=nvenc.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("framecast")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.framecast")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHook converts durations, comma separated lists and human readable
// byte sizes.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// Default returns the configuration produced by defaults alone.
func Default() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling defaults: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Capture defaults match the VST camera stream.
	v.SetDefault("capture.source", "synthetic")
	v.SetDefault("capture.replay_dir", "./recordings")
	v.SetDefault("capture.channels", []string{"left", "right"})
	v.SetDefault("capture.width", defaultWidth)
	v.SetDefault("capture.height", defaultHeight)
	v.SetDefault("capture.row_stride", defaultRowStride)
	v.SetDefault("capture.format", "nv12")
	v.SetDefault("capture.frame_rate", defaultFrameRate)
	v.SetDefault("capture.padded", true)
	v.SetDefault("capture.queue_capacity", defaultQueueCapacity)
	v.SetDefault("capture.poll_interval", defaultPollInterval)
	v.SetDefault("capture.max_duration", time.Duration(0))

	// Writer defaults
	v.SetDefault("writer.enabled", true)
	v.SetDefault("writer.discipline", "async")
	v.SetDefault("writer.codec", "x264")
	v.SetDefault("writer.quality", "high")
	v.SetDefault("writer.container", "mp4")
	v.SetDefault("writer.output_dir", "./output")
	v.SetDefault("writer.base_name", "vst")
	v.SetDefault("writer.extra_args", "")
	v.SetDefault("writer.pipe_buffer_size", "0")
	v.SetDefault("writer.log_level", "error")

	// Previewer defaults
	v.SetDefault("previewer.enabled", false)
	v.SetDefault("previewer.channel", "left")
	v.SetDefault("previewer.discipline", "async")
	v.SetDefault("previewer.window_title", "framecast")
	v.SetDefault("previewer.log_level", "error")

	// Metadata defaults
	v.SetDefault("metadata.enabled", true)
	v.SetDefault("metadata.discipline", "sync")
	v.SetDefault("metadata.compress", false)

	// Snapshot defaults
	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.discipline", "async")
	v.SetDefault("snapshot.dir", "./output/snapshots")
	v.SetDefault("snapshot.interval", defaultSnapshotEvery)
	v.SetDefault("snapshot.compress", true)

	// Dump defaults
	v.SetDefault("dump.enabled", false)
	v.SetDefault("dump.discipline", "async")
	v.SetDefault("dump.dir", "./recordings")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.ffplay_path", "")
	v.SetDefault("ffmpeg.stderr_log_dir", "")

	// Catalog defaults
	v.SetDefault("catalog.enabled", false)
	v.SetDefault("catalog.driver", "sqlite")
	v.SetDefault("catalog.dsn", "framecast.db")
	v.SetDefault("catalog.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("catalog.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("catalog.conn_max_lifetime", time.Hour)
	v.SetDefault("catalog.log_level", "warn")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.host", "127.0.0.1")
	v.SetDefault("metrics.port", defaultMetricsPort)
	v.SetDefault("metrics.shutdown_timeout", defaultShutdownTimout)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339Nano)
	v.SetDefault("logging.request_logging", false)
}

// Validate checks the configuration for errors. Codec, quality, container
// and discipline names are checked where they are parsed.
func (c *Config) Validate() error {
	var errs []error

	validSources := map[string]bool{"synthetic": true, "replay": true}
	if !validSources[c.Capture.Source] {
		errs = append(errs, fmt.Errorf("capture.source must be one of: synthetic, replay"))
	}
	if c.Capture.Source == "replay" && c.Capture.ReplayDir == "" {
		errs = append(errs, fmt.Errorf("capture.replay_dir is required for the replay source"))
	}
	if len(c.Capture.Channels) == 0 {
		errs = append(errs, fmt.Errorf("capture.channels must name at least one channel"))
	}
	if c.Capture.Source == "synthetic" {
		if c.Capture.Width < 1 || c.Capture.Height < 1 {
			errs = append(errs, fmt.Errorf("capture.width and capture.height must be positive"))
		}
		if c.Capture.RowStride < c.Capture.Width {
			errs = append(errs, fmt.Errorf("capture.row_stride must be at least capture.width"))
		}
	}
	if c.Capture.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.frame_rate must be positive"))
	}
	if c.Capture.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("capture.queue_capacity must be at least 1"))
	}
	if c.Capture.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("capture.poll_interval must be positive"))
	}
	if c.Capture.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("capture.max_duration must not be negative"))
	}

	if c.Writer.Enabled && c.Writer.OutputDir == "" {
		errs = append(errs, fmt.Errorf("writer.output_dir is required"))
	}
	if c.Writer.PipeBufferSize < 0 {
		errs = append(errs, fmt.Errorf("writer.pipe_buffer_size must not be negative"))
	}
	if c.Snapshot.Enabled && c.Snapshot.Interval < 1 {
		errs = append(errs, fmt.Errorf("snapshot.interval must be at least 1"))
	}
	if c.Dump.Enabled && c.Dump.Dir == "" {
		errs = append(errs, fmt.Errorf("dump.dir is required"))
	}

	if c.Catalog.Enabled {
		validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
		if !validDrivers[c.Catalog.Driver] {
			errs = append(errs, fmt.Errorf("catalog.driver must be one of: sqlite, postgres, mysql"))
		}
		if c.Catalog.DSN == "" {
			errs = append(errs, fmt.Errorf("catalog.dsn is required"))
		}
	}

	const maxPort = 65535
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > maxPort) {
		errs = append(errs, fmt.Errorf("metrics.port must be between 1 and %d", maxPort))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error"))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Errorf("logging.format must be one of: json, text"))
	}

	return errors.Join(errs...)
}

// Address returns the metrics listen address in host:port format.
func (c *MetricsConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
