package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/andresmejia3/trafficvision/internal/errs"
	"github.com/andresmejia3/trafficvision/internal/types"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python or FFmpeg logs)
// This ensures we don't lose critical crash information if a child process dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Logs returns whatever the child wrote to stderr, trimmed.
func (s *SafeCommand) Logs() string {
	if s == nil || s.Stderr == nil {
		return ""
	}
	return strings.TrimSpace(s.Stderr.String())
}

// ShowError is the unified error display for trafficvision.
// It prints a formatted error box and dumps child process logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 TRAFFICVISION %s: %s\n", strings.ToUpper(errs.Kind(err)), context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if logs := s.Logs(); logs != "" {
		fmt.Fprintf(os.Stderr, "\nWORKER LOGS:\n%s\n", logs)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Video Engine ---

type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// DefaultFPS is assumed when the container does not report a usable frame rate.
const DefaultFPS = 25

// ProbeVideo uses ffprobe to read the first video stream's geometry, frame rate and frame count.
func ProbeVideo(ctx context.Context, path string) (types.VideoInfo, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return types.VideoInfo{}, errs.Config("ffprobe not found in PATH", err)
	}

	probe := NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames", "-of", "json", path)
	out, err := probe.Output()
	if err != nil {
		if logs := probe.Logs(); logs != "" {
			err = fmt.Errorf("%w: %s", err, logs)
		}
		return types.VideoInfo{}, err
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return types.VideoInfo{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return types.VideoInfo{}, fmt.Errorf("no video stream found")
	}
	s := res.Streams[0]

	info := types.VideoInfo{Width: s.Width, Height: s.Height, Rate: s.AvgFrameRate}
	info.FPS = ParseRate(s.AvgFrameRate)
	if info.FPS <= 0 {
		info.Rate = s.RFrameRate
		info.FPS = ParseRate(s.RFrameRate)
	}
	if info.FPS <= 0 {
		info.Rate = strconv.Itoa(DefaultFPS)
		info.FPS = DefaultFPS
	}
	if count, err := strconv.Atoi(s.NbFrames); err == nil && count > 0 {
		info.FrameCount = count
	} else {
		info.FrameCount = countPackets(ctx, path)
	}
	return info, nil
}

// countPackets is the slow path for containers without frame-count metadata.
// It returns 0 if the count fails, allowing the caller to fall back to a spinner.
func countPackets(ctx context.Context, path string) int {
	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// ParseRate converts an ffprobe rate ("30000/1001", "25/1", "25") to frames per second.
// It returns 0 for anything unparsable, including "0/0".
func ParseRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// NewFFmpegRawDecoder creates a decoder that writes raw RGBA frames to Stdout.
func NewFFmpegRawDecoder(ctx context.Context, inputPath string) *SafeCommand {
	// -hide_banner and -loglevel error keep the stderr buffer small
	return NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-i", inputPath,
		"-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// NewFFmpegEncoder creates an encoder that reads raw RGBA frames from Stdin and writes
// an H.264 MP4 at the given rate and size.
func NewFFmpegEncoder(ctx context.Context, outputPath, rate string, width, height int) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-s", fmt.Sprintf("%dx%d", width, height), "-r", rate,
		"-i", "-",
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-movflags", "+faststart",
		outputPath)
}

// GenerateVideoID creates a deterministic hash for the video file
// based on its path, size, and modification time.
func GenerateVideoID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
