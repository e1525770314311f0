package ffmpeg

import (
	"context"
	"os/exec"
	"strings"
)

// HWEncoder describes a hardware video encoder and whether a test encode
// succeeded on this machine.
type HWEncoder struct {
	Name       string `json:"name"`
	Available  bool   `json:"available"`
	DeviceName string `json:"device_name,omitempty"`
}

// hwEncoders maps hardware encoder names to the probe that checks them.
var hwEncoders = map[string]func(ctx context.Context, ffmpegPath string) (bool, string){
	"h264_nvenc": probeNVENC,
}

// ProbeHWEncoders test-encodes with every known hardware encoder that ffmpeg
// reports. Encoders ffmpeg was built without are skipped.
func ProbeHWEncoders(ctx context.Context, info *BinaryInfo) []HWEncoder {
	var results []HWEncoder
	for name, probe := range hwEncoders {
		if !info.HasEncoder(name) {
			continue
		}
		available, device := probe(ctx, info.FFmpegPath)
		results = append(results, HWEncoder{
			Name:       name,
			Available:  available,
			DeviceName: device,
		})
	}
	return results
}

// probeNVENC checks for an NVIDIA GPU and encodes a few null frames with
// h264_nvenc.
func probeNVENC(ctx context.Context, ffmpegPath string) (bool, string) {
	output, err := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return false, ""
	}

	deviceName := strings.TrimSpace(strings.Split(string(output), "\n")[0])
	if deviceName == "" {
		return false, ""
	}

	testCmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner",
		"-f", "lavfi", "-i", "nullsrc=s=256x256:d=0.1",
		"-pix_fmt", "nv12",
		"-c:v", "h264_nvenc",
		"-t", "0.04",
		"-f", "null", "-")
	if err := testCmd.Run(); err != nil {
		return false, deviceName
	}

	return true, deviceName
}
