package conversion

import (
	"fmt"

	"fvfm-analyzer/internal/grid"
	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// ConvertToGrayscale collapses colour Mats to one channel, keeping the bit
// depth. Single-channel input is cloned.
func ConvertToGrayscale(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "grayscale conversion"); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if src.Channels() == 1 {
		return src.Clone()
	}

	dst := gocv.NewMat()
	srcMat := src.GetMat()

	switch src.Channels() {
	case 3:
		gocv.CvtColor(srcMat, &dst, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(srcMat, &dst, gocv.ColorBGRAToGray)
	default:
		dst.Close()
		return nil, fmt.Errorf("unsupported channel count: %d", src.Channels())
	}

	return safe.Adopt(dst, src.Tracker(), src.Tag()+"_gray")
}

// MatToGrid copies a Mat into a grid of the requested depth. Colour input is
// converted to gray first. Samples beyond the depth's range saturate.
func MatToGrid(src *safe.Mat, depth grid.Depth) (*grid.Grid, error) {
	gray, err := ConvertToGrayscale(src)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	m := gray.GetMat()
	if !m.IsContinuous() {
		return nil, fmt.Errorf("Mat %s is not continuous", gray.Tag())
	}

	values, err := samples(m)
	if err != nil {
		return nil, err
	}

	return grid.FromValues(m.Rows(), m.Cols(), depth, values)
}

// GridToMat creates a single-channel Mat whose element type follows the
// grid depth
func GridToMat(g *grid.Grid, tracker safe.MemoryTracker, tag string) (*safe.Mat, error) {
	if g.Shape().Empty() {
		return nil, fmt.Errorf("cannot create Mat from empty %s grid", g.Shape())
	}

	dst, err := safe.NewMatWithTracker(g.Rows(), g.Cols(), MatTypeForDepth(g.Depth()), tracker, tag)
	if err != nil {
		return nil, err
	}

	if err := fill(dst.GetMat(), g); err != nil {
		dst.Close()
		return nil, fmt.Errorf("Mat data access failed: %w", err)
	}
	return dst, nil
}

// MatTypeForDepth is the single-channel Mat type that stores a grid depth
func MatTypeForDepth(d grid.Depth) gocv.MatType {
	switch d {
	case grid.DepthU8:
		return gocv.MatTypeCV8UC1
	case grid.DepthU16:
		return gocv.MatTypeCV16UC1
	case grid.DepthF32:
		return gocv.MatTypeCV32FC1
	default:
		return gocv.MatTypeCV64FC1
	}
}

// DepthForMatType reports the natural grid depth for a Mat element type
func DepthForMatType(t gocv.MatType) (grid.Depth, error) {
	switch t {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4:
		return grid.DepthU8, nil
	case gocv.MatTypeCV16UC1, gocv.MatTypeCV16UC3, gocv.MatTypeCV16UC4:
		return grid.DepthU16, nil
	case gocv.MatTypeCV32FC1:
		return grid.DepthF32, nil
	case gocv.MatTypeCV64FC1:
		return grid.DepthF64, nil
	default:
		return grid.DepthF64, fmt.Errorf("no grid depth for Mat type %s", getDataTypeName(t))
	}
}

func fill(m gocv.Mat, g *grid.Grid) error {
	values := g.RawValues()

	switch g.Depth() {
	case grid.DepthU8:
		data, err := m.DataPtrUint8()
		if err != nil {
			return err
		}
		for i, v := range values {
			data[i] = uint8(v)
		}
	case grid.DepthU16:
		data, err := m.DataPtrUint16()
		if err != nil {
			return err
		}
		for i, v := range values {
			data[i] = uint16(v)
		}
	case grid.DepthF32:
		data, err := m.DataPtrFloat32()
		if err != nil {
			return err
		}
		for i, v := range values {
			data[i] = float32(v)
		}
	default:
		data, err := m.DataPtrFloat64()
		if err != nil {
			return err
		}
		copy(data, values)
	}

	return nil
}

func samples(m gocv.Mat) ([]float64, error) {
	n := m.Rows() * m.Cols()
	out := make([]float64, n)

	switch m.Type() {
	case gocv.MatTypeCV8UC1:
		data, err := m.DataPtrUint8()
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = float64(data[i])
		}
	case gocv.MatTypeCV16UC1:
		data, err := m.DataPtrUint16()
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = float64(data[i])
		}
	case gocv.MatTypeCV32FC1:
		data, err := m.DataPtrFloat32()
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out[i] = float64(data[i])
		}
	case gocv.MatTypeCV64FC1:
		data, err := m.DataPtrFloat64()
		if err != nil {
			return nil, err
		}
		copy(out, data[:n])
	default:
		return nil, fmt.Errorf("unsupported Mat type for grid conversion: %s", getDataTypeName(m.Type()))
	}

	return out, nil
}
