package filters

import (
	"context"
	"fmt"

	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// column of the ConnectedComponentsWithStats stats matrix holding pixel area
const statArea = 4

// FillFilter removes connected foreground regions smaller than "fill_size"
// pixels from a binary mask
type FillFilter struct{}

func NewFillFilter() *FillFilter {
	return &FillFilter{}
}

func (f *FillFilter) Name() string {
	return "fill"
}

func (f *FillFilter) ShouldExecute(params map[string]interface{}) bool {
	size, ok := params["fill_size"].(int)
	return ok && size > 0
}

func (f *FillFilter) Apply(ctx context.Context, input *safe.Mat, params map[string]interface{}) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	size, _ := params["fill_size"].(int)
	return Fill(input, size)
}

// Fill keeps only 8-connected regions with at least minArea pixels
func Fill(mask *safe.Mat, minArea int) (*safe.Mat, error) {
	if err := safe.ValidateSingleChannel(mask, "fill"); err != nil {
		return nil, err
	}
	if mask.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("fill requires an 8-bit binary mask")
	}

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(mask.GetMat(), &labels, &stats, &centroids)

	keep := make([]bool, n)
	for label := 1; label < n; label++ {
		keep[label] = int(stats.GetIntAt(label, statArea)) >= minArea
	}

	dst, err := mask.NewLike("filled_mask")
	if err != nil {
		return nil, err
	}

	labelData, err := labels.DataPtrInt32()
	if err != nil {
		dst.Close()
		return nil, fmt.Errorf("label access failed: %w", err)
	}
	out, err := dst.Ptr().DataPtrUint8()
	if err != nil {
		dst.Close()
		return nil, fmt.Errorf("mask access failed: %w", err)
	}

	for i, label := range labelData {
		if label > 0 && keep[label] {
			out[i] = 255
		}
	}

	return dst, nil
}
