// Package report renders measurement diagnostics: a PNG histogram of
// neighbour distances and an HTML chart of volume history.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/splat.report/internal/splat/volume"
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("no data to plot")

// HistogramBins is the bar count of the distance histogram.
const HistogramBins = 40

// WriteDistanceHistogram draws the distribution of per-point mean neighbour
// distances from rep as a PNG, with the outlier cut-offs at
// mean ± stdRatio·σ marked.
func WriteDistanceHistogram(w io.Writer, title string, rep volume.OutlierReport, stdRatio float64) error {
	d := rep.MeanDistances
	if len(d) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "mean neighbour distance"
	p.Y.Label.Text = "points"

	h, err := plotter.NewHist(plotter.Values(d), HistogramBins)
	if err != nil {
		return fmt.Errorf("histogram: %w", err)
	}
	h.FillColor = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	p.Add(h)

	top := 0.0
	for _, b := range h.Bins {
		top = max(top, b.Weight)
	}
	lo, hi := floats.Min(d), floats.Max(d)
	for _, x := range []float64{rep.Mean - stdRatio*rep.StdDev, rep.Mean + stdRatio*rep.StdDev} {
		if x < lo || x > hi {
			continue
		}
		cut, err := plotter.NewLine(plotter.XYs{{X: x, Y: 0}, {X: x, Y: top}})
		if err != nil {
			return fmt.Errorf("cut-off line: %w", err)
		}
		cut.Color = color.RGBA{R: 200, A: 255}
		cut.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(cut)
	}
	p.Legend.Top = true
	p.Legend.Add(fmt.Sprintf("kept %d of %d", rep.Kept, rep.Input), h)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render histogram: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write histogram: %w", err)
	}
	return nil
}
