package filters

import (
	"context"
	"image"

	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// GaussianFilter softens sensor noise before thresholding. Enabled with
// "gaussian_preprocessing"; "smoothing_strength" is the sigma.
type GaussianFilter struct{}

func NewGaussianFilter() *GaussianFilter {
	return &GaussianFilter{}
}

func (g *GaussianFilter) Name() string {
	return "gaussian"
}

func (g *GaussianFilter) ShouldExecute(params map[string]interface{}) bool {
	useGaussian, ok := params["gaussian_preprocessing"].(bool)
	return ok && useGaussian
}

func (g *GaussianFilter) Apply(ctx context.Context, input *safe.Mat, params map[string]interface{}) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	sigma := 1.0
	if val, ok := params["smoothing_strength"].(float64); ok {
		sigma = val
	}

	if sigma <= 0.0 {
		return input.Clone()
	}

	return Blur(input, sigma)
}

// Blur applies a Gaussian kernel sized to about six sigma, clamped to 3..15
func Blur(src *safe.Mat, sigma float64) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "gaussian blur"); err != nil {
		return nil, err
	}

	kernelSize := int(sigma*6) + 1
	if kernelSize%2 == 0 {
		kernelSize++
	}
	kernelSize = max(3, min(kernelSize, 15))

	dst := gocv.NewMat()
	gocv.GaussianBlur(src.GetMat(), &dst, image.Point{X: kernelSize, Y: kernelSize}, sigma, sigma, gocv.BorderDefault)

	return safe.Adopt(dst, src.Tracker(), src.Tag()+"_blur")
}
