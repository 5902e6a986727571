package utils

import (
	"context"
	"math"
	"os"
	"os/exec"
	"strings"
	"testing"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"30/1", 30, false},
		{"30000/1001", 29.97002997, false},
		{"25", 25, false},
		{" 24/1 ", 24, false},
		{"0/0", 0, true},
		{"N/A", 0, true},
		{"", 0, true},
		{"30/x", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFrameRate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFrameRate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			// Use epsilon for float comparison
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("ParseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateSourceID(t *testing.T) {
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

	id, err := GenerateSourceID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateSourceID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateSourceID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}

	if _, err := GenerateSourceID("does-not-exist.mp4"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestSafeCommand_CapturesStderr(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cmd := NewSafeCommand(context.Background(), "sh", "-c", "echo 'Traceback: boom' 1>&2; exit 3")
	if err := cmd.Run(); err == nil {
		t.Fatal("Expected non-zero exit")
	}
	if !strings.Contains(cmd.Stderr.String(), "Traceback: boom") {
		t.Errorf("Stderr not captured, got %q", cmd.Stderr.String())
	}
}

func TestNewFFmpegRawDecoder(t *testing.T) {
	cmd := NewFFmpegRawDecoder(context.Background(), "in.mp4")
	args := strings.Join(cmd.Args, " ")
	for _, want := range []string{"-i in.mp4", "-f rawvideo", "-pix_fmt gray"} {
		if !strings.Contains(args, want) {
			t.Errorf("decoder args %q missing %q", args, want)
		}
	}
}
