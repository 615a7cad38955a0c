package chart

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "static", "chart.png")

	err := Render(path, Series{
		X:         []int{0, 2, 4, 6},
		Y:         []float64{0.2, 0.6, 0.9, 0.3},
		Positive:  []int{1, 2},
		Threshold: 0.5,
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("chart not written: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("chart is not a PNG: %v", err)
	}
	if img.Bounds().Dx() <= img.Bounds().Dy() {
		t.Errorf("expected a landscape chart, got %v", img.Bounds())
	}

	// No temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only chart.png in directory, got %d entries", len(entries))
	}
}

func TestRenderOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	if err := os.WriteFile(path, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Render(path, Series{X: []int{0}, Y: []float64{0.7}, Positive: []int{0}, Threshold: 0.5}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("stale chart was not replaced: %v", err)
	}
}

func TestRenderEmptySeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	if err := Render(path, Series{X: []int{}, Y: []float64{}, Positive: []int{}, Threshold: 0.5}); err != nil {
		t.Fatalf("Render failed on empty series: %v", err)
	}
}

func TestBuildRejectsMismatchedSeries(t *testing.T) {
	if _, err := Build(Series{X: []int{0, 2}, Y: []float64{0.1}}); err == nil {
		t.Error("expected error for mismatched series")
	}
	if _, err := Build(Series{X: []int{0}, Y: []float64{0.9}, Positive: []int{3}}); err == nil {
		t.Error("expected error for out of range positive index")
	}
}
