// Package visualize renders analysis grids as images for people to look at.
package visualize

import (
	"fmt"
	"math"

	"fvfm-analyzer/internal/grid"
	"fvfm-analyzer/internal/opencv/conversion"
	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// Colormap names an OpenCV lookup table. ColormapGray keeps the scaled
// intensities.
type Colormap string

const (
	ColormapViridis Colormap = "viridis"
	ColormapJet     Colormap = "jet"
	ColormapInferno Colormap = "inferno"
	ColormapMagma   Colormap = "magma"
	ColormapPlasma  Colormap = "plasma"
	ColormapGray    Colormap = "gray"
)

var colormaps = map[Colormap]gocv.ColormapTypes{
	ColormapViridis: gocv.ColormapViridis,
	ColormapJet:     gocv.ColormapJet,
	ColormapInferno: gocv.ColormapInferno,
	ColormapMagma:   gocv.ColormapMagma,
	ColormapPlasma:  gocv.ColormapPlasma,
}

func ParseColormap(s string) (Colormap, error) {
	c := Colormap(s)
	if c == ColormapGray {
		return c, nil
	}
	if _, ok := colormaps[c]; !ok {
		return "", fmt.Errorf("unknown colormap %q", s)
	}
	return c, nil
}

// Pseudocolor clamps g to [minValue, maxValue], stretches that range over
// 0..255 and applies cmap. Cells where mask is zero are black; a nil mask
// keeps everything. The result is a 3-channel BGR Mat owned by the caller.
func Pseudocolor(g, mask *grid.Grid, minValue, maxValue float64, cmap Colormap, tracker safe.MemoryTracker) (*safe.Mat, error) {
	if g == nil || g.Shape().Empty() {
		return nil, fmt.Errorf("pseudocolor: empty grid")
	}
	if !(maxValue > minValue) {
		return nil, fmt.Errorf("pseudocolor: invalid range [%g, %g]", minValue, maxValue)
	}
	if mask != nil {
		if err := grid.CheckShapes(grid.Named{Name: "values", Grid: g}, grid.Named{Name: "mask", Grid: mask}); err != nil {
			return nil, fmt.Errorf("pseudocolor: %w", err)
		}
	}
	if cmap == "" {
		cmap = ColormapViridis
	}

	scaled, err := scale(g, minValue, maxValue)
	if err != nil {
		return nil, err
	}
	gray, err := conversion.GridToMat(scaled, tracker, "pseudocolor_gray")
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	colored := gocv.NewMat()
	if cmap == ColormapGray {
		gocv.CvtColor(gray.GetMat(), &colored, gocv.ColorGrayToBGR)
	} else {
		table, ok := colormaps[cmap]
		if !ok {
			colored.Close()
			return nil, fmt.Errorf("unknown colormap %q", cmap)
		}
		gocv.ApplyColorMap(gray.GetMat(), &colored, table)
	}

	full, err := safe.Adopt(colored, tracker, "pseudocolor")
	if err != nil {
		return nil, err
	}
	if mask == nil {
		return full, nil
	}
	defer full.Close()

	return applyMask(full, mask, tracker)
}

func scale(g *grid.Grid, minValue, maxValue float64) (*grid.Grid, error) {
	span := maxValue - minValue
	values := g.RawValues()
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		v = math.Max(minValue, math.Min(maxValue, v))
		out[i] = math.Round((v - minValue) / span * 255)
	}
	return grid.FromValues(g.Rows(), g.Cols(), grid.DepthU8, out)
}

func applyMask(src *safe.Mat, mask *grid.Grid, tracker safe.MemoryTracker) (*safe.Mat, error) {
	binary := make([]float64, mask.Len())
	for i, v := range mask.RawValues() {
		if v > 0 {
			binary[i] = 255
		}
	}
	mg, err := grid.FromValues(mask.Rows(), mask.Cols(), grid.DepthU8, binary)
	if err != nil {
		return nil, err
	}
	mm, err := conversion.GridToMat(mg, tracker, "pseudocolor_mask")
	if err != nil {
		return nil, err
	}
	defer mm.Close()

	dst, err := src.NewLike("pseudocolor_masked")
	if err != nil {
		return nil, err
	}
	srcMat := src.GetMat()
	srcMat.CopyToWithMask(dst.Ptr(), mm.GetMat())
	return dst, nil
}
