package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/framecast/internal/encode"
	"github.com/jmylchreest/framecast/internal/ffmpeg"
)

// Oldest ffmpeg release the writer command lines are known to work with.
const (
	minFFmpegMajor = 4
	minFFmpegMinor = 4
)

// detectCmd represents the detect command
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect ffmpeg, ffplay and hardware encoders",
	Long: `Detect the ffmpeg and ffplay installation and probe hardware encoders.

The result is printed as JSON. Use this to check which writer codecs will
work on this machine.

Examples:
  framecast detect --pretty
  framecast detect --encoders > capabilities.json`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().Bool("pretty", false, "pretty-print JSON output")
	detectCmd.Flags().Bool("encoders", false, "include the full encoder and muxer lists")
	detectCmd.Flags().Duration("timeout", 30*time.Second, "detection timeout")
}

// DetectionResult contains the full detection output.
type DetectionResult struct {
	FFmpeg     *ffmpeg.BinaryInfo `json:"ffmpeg"`
	VersionOK  bool               `json:"version_ok"`
	Preview    bool               `json:"preview"`
	Containers map[string]bool    `json:"containers"`
	HWEncoders []ffmpeg.HWEncoder `json:"hw_encoders"`
}

// summarize reports what the writer and previewer can use from info.
func summarize(info *ffmpeg.BinaryInfo) DetectionResult {
	result := DetectionResult{
		FFmpeg:     info,
		VersionOK:  info.SupportsMinVersion(minFFmpegMajor, minFFmpegMinor),
		Preview:    info.HasPreview(),
		Containers: make(map[string]bool),
	}
	for _, c := range []encode.Container{encode.MP4, encode.MKV} {
		result.Containers[c.String()] = info.HasMuxer(c.Muxer())
	}
	return result
}

func runDetect(cmd *cobra.Command, _ []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	pretty, _ := cmd.Flags().GetBool("pretty")
	full, _ := cmd.Flags().GetBool("encoders")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	detector := ffmpeg.NewBinaryDetector().WithPaths(appConfig.FFmpeg.BinaryPath, appConfig.FFmpeg.FFplayPath)
	info, err := detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	result := summarize(info)
	if !result.VersionOK {
		appLogger.Warn("ffmpeg is older than the supported minimum",
			slog.String("version", info.Version),
			slog.String("minimum", fmt.Sprintf("%d.%d", minFFmpegMajor, minFFmpegMinor)),
		)
	}
	result.HWEncoders = ffmpeg.ProbeHWEncoders(ctx, info)
	if !full {
		trimmed := *info
		trimmed.Encoders = nil
		trimmed.Formats = nil
		result.FFmpeg = &trimmed
	}
	if result.HWEncoders == nil {
		result.HWEncoders = []ffmpeg.HWEncoder{}
	}

	var output []byte
	if pretty {
		output, err = json.MarshalIndent(result, "", "  ")
	} else {
		output, err = json.Marshal(result)
	}
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return nil
}
