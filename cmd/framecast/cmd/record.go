package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/framecast/internal/catalog"
	"github.com/jmylchreest/framecast/internal/config"
	internalhttp "github.com/jmylchreest/framecast/internal/http"
	"github.com/jmylchreest/framecast/internal/metrics"
	"github.com/jmylchreest/framecast/internal/pipeline"
	"github.com/jmylchreest/framecast/internal/version"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture frames and fan them out to the configured sinks",
	Long: `Start the capture source and run until interrupted or until
capture.max_duration elapses.

Every channel gets its own queue and dispatcher. Frames are drained every
capture.poll_interval and delivered to the enabled sinks: the ffmpeg writer,
the ffplay preview, the CSV metadata log, TIFF snapshots and raw dumps.

When metrics are enabled a status server exposes /metrics, /healthz and
/stats. When the catalog is enabled every run is recorded as a session.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().Duration("duration", 0, "stop after this long (0 = until interrupted)")
	recordCmd.Flags().StringSlice("channels", nil, "channels to capture (left, right)")
	recordCmd.Flags().String("source", "", "frame source (synthetic, replay)")
	recordCmd.Flags().String("replay-dir", "", "directory of raw frames for the replay source")
	recordCmd.Flags().String("output-dir", "", "directory for recordings and metadata logs")
	recordCmd.Flags().String("codec", "", "video codec (x264, nvenc, ffv1)")
	recordCmd.Flags().String("quality", "", "encoding quality (lossless, high, medium, low)")
	recordCmd.Flags().Bool("no-writer", false, "disable the ffmpeg writer")
	recordCmd.Flags().Bool("preview", false, "show an ffplay preview window")
	recordCmd.Flags().Bool("snapshots", false, "save periodic TIFF snapshots")
	recordCmd.Flags().Bool("dump", false, "record raw frames for later replay")
	recordCmd.Flags().Bool("metrics", false, "serve /metrics, /healthz and /stats")
	recordCmd.Flags().Bool("catalog", false, "record the session in the catalog database")
}

// applyRecordFlags overrides configuration with explicitly set flags.
func applyRecordFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("duration") {
		cfg.Capture.MaxDuration, _ = f.GetDuration("duration")
	}
	if f.Changed("channels") {
		cfg.Capture.Channels, _ = f.GetStringSlice("channels")
	}
	overrideString(f, "source", &cfg.Capture.Source)
	overrideString(f, "replay-dir", &cfg.Capture.ReplayDir)
	overrideString(f, "output-dir", &cfg.Writer.OutputDir)
	overrideString(f, "codec", &cfg.Writer.Codec)
	overrideString(f, "quality", &cfg.Writer.Quality)
	if f.Changed("no-writer") {
		noWriter, _ := f.GetBool("no-writer")
		cfg.Writer.Enabled = !noWriter
	}
	overrideBool(f, "preview", &cfg.Previewer.Enabled)
	overrideBool(f, "snapshots", &cfg.Snapshot.Enabled)
	overrideBool(f, "dump", &cfg.Dump.Enabled)
	overrideBool(f, "metrics", &cfg.Metrics.Enabled)
	overrideBool(f, "catalog", &cfg.Catalog.Enabled)
	return cfg.Validate()
}

func overrideString(f *pflag.FlagSet, name string, dst *string) {
	if f.Changed(name) {
		*dst, _ = f.GetString(name)
	}
}

func overrideBool(f *pflag.FlagSet, name string, dst *bool) {
	if f.Changed(name) {
		*dst, _ = f.GetBool(name)
	}
}

func runRecord(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	logger := appLogger
	if err := applyRecordFlags(cmd, cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := &pipeline.Dependencies{Config: cfg, Logger: logger}
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		deps.SinkObserver = collector
		deps.RouterObserver = collector
	}

	factory, err := pipeline.NewFactory(deps)
	if err != nil {
		return err
	}

	var opts []pipeline.RunnerOption
	if cfg.Catalog.Enabled {
		cat, err := catalog.Open(cfg.Catalog, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := cat.Close(); err != nil {
				logger.Warn("closing catalog", slog.String("error", err.Error()))
			}
		}()
		opts = append(opts, pipeline.WithSessionStore(cat))
	}
	runner := pipeline.NewRunner(factory, opts...)

	if cfg.Metrics.Enabled {
		srv := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Metrics), logger, version.Version, collector.Handler())
		srv.SetStats(func() any {
			if st := runner.Stats(); st != nil {
				return st
			}
			return nil
		})

		serverCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
		defer stopServer()
		serverErr := make(chan error, 1)
		go func() { serverErr <- srv.ListenAndServe(serverCtx) }()
		defer func() {
			stopServer()
			if err := <-serverErr; err != nil {
				logger.Warn("status server", slog.String("error", err.Error()))
			}
		}()
	}

	start := time.Now()
	err = runner.Run(ctx)

	if st := runner.Stats(); st != nil {
		logger.Info("recording finished",
			slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
			slog.Uint64("frames", st.Frames),
			slog.String("throughput", st.Throughput),
		)
		for _, o := range st.Outputs {
			if o.Path != "" {
				logger.Info("output written",
					slog.String("channel", o.Channel),
					slog.String("sink", o.Kind),
					slog.String("path", o.Path),
					slog.Uint64("frames", o.Stats.Consumed),
					slog.Uint64("dropped", o.Stats.Dropped),
				)
			}
		}
	}
	return err
}
