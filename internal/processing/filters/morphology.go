package filters

import (
	"context"
	"image"

	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// MorphologyFilter smooths mask edges with an opening followed by a closing
type MorphologyFilter struct{}

func NewMorphologyFilter() *MorphologyFilter {
	return &MorphologyFilter{}
}

func (m *MorphologyFilter) Name() string {
	return "morphology"
}

func (m *MorphologyFilter) ShouldExecute(params map[string]interface{}) bool {
	cleanup, ok := params["result_cleanup"].(bool)
	return ok && cleanup
}

func (m *MorphologyFilter) Apply(ctx context.Context, input *safe.Mat, params map[string]interface{}) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	kernel, _ := params["cleanup_kernel"].(int)
	return OpenClose(input, kernel)
}

// OpenClose removes specks with an opening and fills pinholes with a closing.
// A kernel of 0 picks 3 or 5 pixels depending on image size.
func OpenClose(src *safe.Mat, kernelSize int) (*safe.Mat, error) {
	if err := safe.ValidateSingleChannel(src, "morphology"); err != nil {
		return nil, err
	}

	if kernelSize <= 0 {
		kernelSize = 3
		if src.Rows()*src.Cols() > 1000000 {
			kernelSize = 5
		}
	}

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(src.GetMat(), &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)

	return safe.Adopt(closed, src.Tracker(), "morphology_mask")
}

type MedianFilter struct{}

func NewMedianFilter() *MedianFilter {
	return &MedianFilter{}
}

func (m *MedianFilter) Name() string {
	return "median"
}

func (m *MedianFilter) ShouldExecute(params map[string]interface{}) bool {
	cleanup, ok := params["result_cleanup"].(bool)
	return ok && cleanup
}

func (m *MedianFilter) Apply(ctx context.Context, input *safe.Mat, params map[string]interface{}) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := safe.ValidateMatForOperation(input, "median"); err != nil {
		return nil, err
	}

	kernelSize := 3
	if input.Rows()*input.Cols() > 1000000 {
		kernelSize = 5
	}

	dst := gocv.NewMat()
	gocv.MedianBlur(input.GetMat(), &dst, kernelSize)

	return safe.Adopt(dst, input.Tracker(), "median_mask")
}
