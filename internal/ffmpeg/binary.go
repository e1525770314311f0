// Package ffmpeg provides ffmpeg/ffplay binary detection, command building
// and process supervision for stdin-fed raw video.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/framecast/internal/util"
)

// Environment variables that override binary discovery.
const (
	FFmpegBinaryEnv = "FRAMECAST_FFMPEG_BINARY"
	FFplayBinaryEnv = "FRAMECAST_FFPLAY_BINARY"
)

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// BinaryInfo describes the detected ffmpeg installation.
type BinaryInfo struct {
	FFmpegPath    string       `json:"ffmpeg_path"`
	FFplayPath    string       `json:"ffplay_path,omitempty"`
	Version       string       `json:"version"`
	MajorVersion  int          `json:"major_version"`
	MinorVersion  int          `json:"minor_version"`
	BuildDate     string       `json:"build_date,omitempty"`
	Configuration string       `json:"configuration,omitempty"`
	Encoders      []string     `json:"encoders,omitempty"`
	Formats       []FormatInfo `json:"formats,omitempty"`
}

// FormatInfo represents format/container information.
type FormatInfo struct {
	Name     string `json:"name"`
	LongName string `json:"long_name,omitempty"`
	CanMux   bool   `json:"can_mux"`
	CanDemux bool   `json:"can_demux"`
}

// BinaryDetector finds ffmpeg and ffplay and caches their capabilities.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration

	ffmpegPath string
	ffplayPath string
}

// NewBinaryDetector creates a new binary detector.
func NewBinaryDetector() *BinaryDetector {
	return &BinaryDetector{
		cacheTTL: 5 * time.Minute,
	}
}

// WithPaths pins explicit binary paths. Empty values fall back to discovery.
func (d *BinaryDetector) WithPaths(ffmpegPath, ffplayPath string) *BinaryDetector {
	d.ffmpegPath = ffmpegPath
	d.ffplayPath = ffplayPath
	return d
}

// Detect finds the binaries and queries ffmpeg capabilities.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	ffmpegPath, err := resolve(d.ffmpegPath, "ffmpeg", FFmpegBinaryEnv)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	info.FFmpegPath = ffmpegPath

	// ffplay is only needed by the previewer.
	if ffplayPath, err := resolve(d.ffplayPath, "ffplay", FFplayBinaryEnv); err == nil {
		info.FFplayPath = ffplayPath
	}

	version, err := d.getVersion(ctx, ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version = version.Full
	info.MajorVersion = version.Major
	info.MinorVersion = version.Minor
	info.BuildDate = version.BuildDate
	info.Configuration = version.Configuration

	if encoders, err := d.getEncoders(ctx, ffmpegPath); err == nil {
		info.Encoders = encoders
	}
	if formats, err := d.getFormats(ctx, ffmpegPath); err == nil {
		info.Formats = formats
	}

	return info, nil
}

func resolve(explicit, name, envVar string) (string, error) {
	if explicit != "" {
		return util.FindBinary(explicit, "")
	}
	return util.FindBinary(name, envVar)
}

type versionInfo struct {
	Full          string
	Major         int
	Minor         int
	BuildDate     string
	Configuration string
}

func (d *BinaryDetector) getVersion(ctx context.Context, ffmpegPath string) (*versionInfo, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, err
	}
	return parseVersion(string(output))
}

// parseVersion parses the output of "ffmpeg -version".
func parseVersion(output string) (*versionInfo, error) {
	info := &versionInfo{}

	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			// "ffmpeg version 6.0 Copyright..." or "ffmpeg version n6.0-2-g..."
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				info.Full = parts[2]
				if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
					info.Major, _ = strconv.Atoi(m[1])
					info.Minor, _ = strconv.Atoi(m[2])
				}
			}
		case strings.HasPrefix(line, "built with"):
			info.BuildDate = strings.TrimPrefix(line, "built with ")
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimPrefix(line, "configuration: ")
		}
	}

	if info.Full == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}

func (d *BinaryDetector) getEncoders(ctx context.Context, ffmpegPath string) ([]string, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner").Output()
	if err != nil {
		return nil, err
	}
	return parseEncoders(string(output)), nil
}

// parseEncoders extracts encoder names from "ffmpeg -encoders".
// Lines look like " V....D libx264   libx264 H.264 ...".
func parseEncoders(output string) []string {
	var encoders []string
	inList := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}

		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}

		if parts := strings.Fields(strings.TrimSpace(line[6:])); len(parts) >= 1 {
			encoders = append(encoders, parts[0])
		}
	}
	return encoders
}

func (d *BinaryDetector) getFormats(ctx context.Context, ffmpegPath string) ([]FormatInfo, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-formats", "-hide_banner").Output()
	if err != nil {
		return nil, err
	}
	return parseFormats(string(output)), nil
}

// parseFormats extracts formats from "ffmpeg -formats".
// Lines look like " DE matroska,webm   Matroska / WebM".
func parseFormats(output string) []FormatInfo {
	var formats []FormatInfo
	inList := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "--") {
			inList = true
			continue
		}
		if !inList || len(line) < 4 {
			continue
		}

		flags := strings.TrimSpace(line[:3])
		rest := strings.TrimSpace(line[3:])
		parts := strings.SplitN(rest, " ", 2)
		if parts[0] == "" {
			continue
		}

		for _, name := range strings.Split(parts[0], ",") {
			f := FormatInfo{
				Name:     name,
				CanDemux: strings.Contains(flags, "D"),
				CanMux:   strings.Contains(flags, "E"),
			}
			if len(parts) > 1 {
				f.LongName = strings.TrimSpace(parts[1])
			}
			formats = append(formats, f)
		}
	}
	return formats
}

// HasEncoder reports whether the encoder is available.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// HasMuxer reports whether the format can be written.
func (info *BinaryInfo) HasMuxer(name string) bool {
	for _, f := range info.Formats {
		if f.Name == name && f.CanMux {
			return true
		}
	}
	return false
}

// HasPreview reports whether ffplay was found.
func (info *BinaryInfo) HasPreview() bool {
	return info.FFplayPath != ""
}

// JSON returns the binary info as indented JSON.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// SupportsMinVersion reports whether ffmpeg is at least major.minor.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion != major {
		return info.MajorVersion > major
	}
	return info.MinorVersion >= minor
}
