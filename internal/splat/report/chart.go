package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// VolumePoint is one measurement on the history chart.
type VolumePoint struct {
	At         time.Time
	Volume     float64
	Degenerate bool
}

// RenderVolumeHistory writes an HTML line chart of volume over time.
// Degenerate measurements are plotted as gaps.
func RenderVolumeHistory(w io.Writer, file string, points []VolumePoint) error {
	if len(points) == 0 {
		return ErrNoData
	}

	x := make([]string, len(points))
	y := make([]opts.LineData, len(points))
	for i, pt := range points {
		x[i] = pt.At.UTC().Format(time.RFC3339)
		if pt.Degenerate {
			y[i] = opts.LineData{Value: "-"}
			continue
		}
		y[i] = opts.LineData{Value: pt.Volume}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Volume history", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Volume history", Subtitle: fmt.Sprintf("file=%s measurements=%d", file, len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "volume", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).AddSeries("volume", y,
		charts.WithLineChartOpts(opts.LineChart{ConnectNulls: opts.Bool(false), ShowSymbol: opts.Bool(true)}),
	)
	if err := line.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
