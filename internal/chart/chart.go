// Package chart renders the per-segment score series as a PNG line chart.
package chart

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Figure size in inches
const (
	Width  = 7.5
	Height = 3.5
)

var (
	lineColor      = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	thresholdColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	positiveColor  = color.RGBA{R: 26, G: 127, B: 55, A: 255}
)

// Series is the data drawn on the chart. X and Y have equal length.
type Series struct {
	X         []int
	Y         []float64
	Positive  []int // indices into X/Y
	Threshold float64
}

// Build lays out the chart without writing it anywhere.
func Build(s Series) (*plot.Plot, error) {
	if len(s.X) != len(s.Y) {
		return nil, fmt.Errorf("series length mismatch: %d x values, %d y values", len(s.X), len(s.Y))
	}

	p := plot.New()
	p.Title.Text = "Made-shot probability"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Score"
	p.Y.Min = 0
	p.Y.Max = 1
	p.X.Min = 0
	p.X.Max = 2
	if n := len(s.X); n > 0 && float64(s.X[n-1]) > p.X.Max {
		p.X.Max = float64(s.X[n-1])
	}
	p.Add(plotter.NewGrid())

	if s.Threshold > 0 {
		cut, err := plotter.NewLine(plotter.XYs{{X: p.X.Min, Y: s.Threshold}, {X: p.X.Max, Y: s.Threshold}})
		if err != nil {
			return nil, fmt.Errorf("threshold line: %w", err)
		}
		cut.Color = thresholdColor
		cut.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		p.Add(cut)
	}

	if len(s.X) == 0 {
		return p, nil
	}

	xys := make(plotter.XYs, len(s.X))
	for i := range s.X {
		xys[i].X = float64(s.X[i])
		xys[i].Y = s.Y[i]
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, fmt.Errorf("score line: %w", err)
	}
	line.Color = lineColor
	line.Width = vg.Points(1.5)
	p.Add(line)

	if len(s.Positive) > 0 {
		pts := make(plotter.XYs, 0, len(s.Positive))
		for _, i := range s.Positive {
			if i < 0 || i >= len(xys) {
				return nil, fmt.Errorf("positive index %d out of range", i)
			}
			pts = append(pts, xys[i])
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("positive markers: %w", err)
		}
		scatter.GlyphStyle.Color = positiveColor
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		scatter.GlyphStyle.Radius = vg.Points(3)
		p.Add(scatter)
	}

	return p, nil
}

// Render draws the chart to path as PNG. The file is replaced atomically so
// a concurrent reader never sees a partial image.
func Render(path string, s Series) error {
	p, err := Build(s)
	if err != nil {
		return err
	}

	wt, err := p.WriterTo(Width*vg.Inch, Height*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("create png canvas: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create chart directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".chart-*.png")
	if err != nil {
		return fmt.Errorf("create temp chart: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := wt.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write chart: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chart: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}
