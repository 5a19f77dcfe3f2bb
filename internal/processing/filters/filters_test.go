package filters

import (
	"context"
	"image"
	"image/color"
	"testing"

	"fvfm-analyzer/internal/opencv/safe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// speckledMask has one 20x20 square and one 3x3 speck
func speckledMask(t *testing.T) *safe.Mat {
	t.Helper()
	mask, err := safe.NewMat(50, 50, gocv.MatTypeCV8UC1)
	require.NoError(t, err)
	gocv.Rectangle(mask.Ptr(), image.Rect(5, 5, 25, 25), white, -1)
	gocv.Rectangle(mask.Ptr(), image.Rect(40, 40, 43, 43), white, -1)
	return mask
}

func TestFill(t *testing.T) {
	mask := speckledMask(t)
	defer mask.Close()

	tests := []struct {
		name    string
		minArea int
		want    int
	}{
		{"keeps everything at 1", 1, 409},
		{"drops speck", 100, 400},
		{"drops all", 1000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filled, err := Fill(mask, tt.minArea)
			require.NoError(t, err)
			defer filled.Close()

			assert.Equal(t, tt.want, gocv.CountNonZero(filled.GetMat()))
		})
	}
}

func TestFillRejectsNonMask(t *testing.T) {
	m, err := safe.NewMat(4, 4, gocv.MatTypeCV32FC1)
	require.NoError(t, err)
	defer m.Close()

	_, err = Fill(m, 10)
	assert.Error(t, err)
}

func TestFillFilterShouldExecute(t *testing.T) {
	f := NewFillFilter()
	assert.True(t, f.ShouldExecute(map[string]interface{}{"fill_size": 100}))
	assert.False(t, f.ShouldExecute(map[string]interface{}{"fill_size": 0}))
	assert.False(t, f.ShouldExecute(map[string]interface{}{}))
}

func TestOpenCloseRemovesSpecks(t *testing.T) {
	mask, err := safe.NewMat(50, 50, gocv.MatTypeCV8UC1)
	require.NoError(t, err)
	defer mask.Close()
	gocv.Rectangle(mask.Ptr(), image.Rect(5, 5, 25, 25), white, -1)
	mask.Ptr().SetUCharAt(45, 45, 255)

	out, err := OpenClose(mask, 3)
	require.NoError(t, err)
	defer out.Close()

	v, err := out.GetUCharAt(45, 45)
	require.NoError(t, err)
	assert.Zero(t, v)
	v, err = out.GetUCharAt(15, 15)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), v)
}

func TestGaussianFilterZeroSigmaClones(t *testing.T) {
	mask := speckledMask(t)
	defer mask.Close()

	g := NewGaussianFilter()
	params := map[string]interface{}{"gaussian_preprocessing": true, "smoothing_strength": 0.0}
	require.True(t, g.ShouldExecute(params))

	out, err := g.Apply(context.Background(), mask, params)
	require.NoError(t, err)
	defer out.Close()
	assert.NotEqual(t, mask.ID(), out.ID())
	assert.Equal(t, gocv.CountNonZero(mask.GetMat()), gocv.CountNonZero(out.GetMat()))
}

func TestFiltersHonourCancellation(t *testing.T) {
	mask := speckledMask(t)
	defer mask.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFillFilter().Apply(ctx, mask, map[string]interface{}{"fill_size": 5})
	assert.ErrorIs(t, err, context.Canceled)
}
