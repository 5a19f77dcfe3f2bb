package visualize

import (
	"fmt"
	"image/color"

	"fvfm-analyzer/internal/fluor"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var barColor = color.RGBA{R: 68, G: 1, B: 84, A: 255}

// HistogramPlot saves h as a bar chart. The image format follows the
// extension of path.
func HistogramPlot(h *fluor.Histogram, title, path string) error {
	if h == nil || len(h.Counts) == 0 {
		return fmt.Errorf("histogram plot: no bins")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Fv/Fm"
	p.Y.Label.Text = "pixels"
	p.X.Min = h.Edges[0]
	p.X.Max = h.Edges[len(h.Edges)-1]

	bins := make([]plotter.HistogramBin, len(h.Counts))
	for i, n := range h.Counts {
		bins[i] = plotter.HistogramBin{Min: h.Edges[i], Max: h.Edges[i+1], Weight: float64(n)}
	}
	hist := &plotter.Histogram{
		Bins:      bins,
		Width:     h.Edges[len(h.Edges)-1] - h.Edges[0],
		FillColor: barColor,
		LineStyle: plotter.DefaultLineStyle,
	}
	hist.LineStyle.Width = vg.Points(0.5)
	p.Add(hist)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save histogram plot: %w", err)
	}
	return nil
}
