package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// generateTestImage creates a simple test image with specified dimensions and colors
// Useful for testing artwork processing functions
func generateTestImage(width, height int, fillColor color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Fill image with the specified color
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fillColor)
		}
	}

	return img
}

// generateGradientImage creates a gradient test image for color extraction testing
func generateGradientImage(width, height int, startColor, endColor color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		ratio := float64(y) / float64(height)
		r := uint8(float64(startColor.R)*(1-ratio) + float64(endColor.R)*ratio)
		g := uint8(float64(startColor.G)*(1-ratio) + float64(endColor.G)*ratio)
		b := uint8(float64(startColor.B)*(1-ratio) + float64(endColor.B)*ratio)

		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{r, g, b, 255})
		}
	}

	return img
}

// encodeTestPNG encodes a test image as PNG bytes
func encodeTestPNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

// writeTestCover writes a small PNG cover to a temp file and returns its path
func writeTestCover(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cover.png")
	data := encodeTestPNG(t, generateTestImage(10, 10, color.RGBA{255, 0, 0, 255}))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write test cover: %v", err)
	}
	return path
}

// waitForResult blocks until the fetcher delivers a result or the test times out
func waitForResult(t *testing.T, f *CoverFetcher) fetchResult {
	t.Helper()
	select {
	case r := <-f.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fetch result")
		return fetchResult{}
	}
}

// assertError is a test helper that checks if an error occurred and fails the test if not
func assertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected error: %s, got nil", msg)
	}
}

// assertNoError is a test helper that fails the test if an error occurred
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// assertEqual is a generic test helper for comparing values
func assertEqual(t *testing.T, got, want interface{}, msg string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", msg, got, want)
	}
}

// isValidHexColor checks if a string is a valid hex color (e.g., "#RRGGBB")
func isValidHexColor(color string) bool {
	if len(color) != 7 {
		return false
	}
	if color[0] != '#' {
		return false
	}
	for i := 1; i < 7; i++ {
		c := color[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// fakePlayerSource is a scriptable PlayerSource for update-loop tests
type fakePlayerSource struct {
	snap    PlayerSnapshot
	snapErr error

	playPauseCalls int
	nextCalls      int
	prevCalls      int
	positions      []time.Duration
	volumes        []float64
}

func (f *fakePlayerSource) ListPlayers() ([]string, error) {
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return []string{"org.mpris.MediaPlayer2.fake"}, nil
}

func (f *fakePlayerSource) Snapshot() (PlayerSnapshot, error) {
	if f.snapErr != nil {
		return PlayerSnapshot{}, f.snapErr
	}
	return f.snap, nil
}

func (f *fakePlayerSource) PlayPause() error {
	f.playPauseCalls++
	return nil
}

func (f *fakePlayerSource) Next() error {
	f.nextCalls++
	return nil
}

func (f *fakePlayerSource) Previous() error {
	f.prevCalls++
	return nil
}

func (f *fakePlayerSource) SetPosition(pos time.Duration) error {
	f.positions = append(f.positions, pos)
	return nil
}

func (f *fakePlayerSource) SetVolume(level float64) error {
	f.volumes = append(f.volumes, level)
	return nil
}

func (f *fakePlayerSource) Close() error {
	return nil
}
