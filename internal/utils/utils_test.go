package utils

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/andresmejia3/trafficvision/internal/errs"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30000/1001", 30000.0 / 1001.0},
		{"24", 24},
		{"0/0", 0},
		{"N/A", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := ParseRate(tt.in); got != tt.want {
			t.Errorf("ParseRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	cmd := NewSafeCommand(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	err := cmd.Run()
	if err == nil {
		t.Fatal("Expected non-zero exit")
	}
	if got := cmd.Logs(); got != "boom" {
		t.Errorf("Expected captured stderr 'boom', got %q", got)
	}

	var nilCmd *SafeCommand
	if nilCmd.Logs() != "" {
		t.Error("nil SafeCommand should have no logs")
	}
}

func TestProbeVideoRejectsGarbage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ffprobe test in short mode")
	}
	tmp, err := os.CreateTemp("", "not_a_video_*.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())
	tmp.Write([]byte("definitely not a video"))
	tmp.Close()

	_, err = ProbeVideo(context.Background(), tmp.Name())
	if err == nil {
		t.Fatal("Expected probe of garbage file to fail")
	}
	if errors.Is(err, errs.ErrConfig) {
		t.Skip("ffprobe not installed")
	}
}

func TestGenerateVideoID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "video_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	// Write dummy content
	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateVideoID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateVideoID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateVideoID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}
}
