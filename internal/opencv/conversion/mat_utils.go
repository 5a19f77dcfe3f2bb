package conversion

import (
	"fmt"

	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// MatProperties contains information about Mat characteristics
type MatProperties struct {
	Rows     int
	Cols     int
	Channels int
	Type     gocv.MatType
	DataType string
	Empty    bool
}

// Fields renders the properties for structured log entries
func (p MatProperties) Fields() map[string]interface{} {
	return map[string]interface{}{
		"width":     p.Cols,
		"height":    p.Rows,
		"channels":  p.Channels,
		"data_type": p.DataType,
	}
}

// GetMatProperties returns detailed information about a Mat
func GetMatProperties(mat *safe.Mat) MatProperties {
	if mat == nil {
		return MatProperties{Empty: true}
	}

	return MatProperties{
		Rows:     mat.Rows(),
		Cols:     mat.Cols(),
		Channels: mat.Channels(),
		Type:     mat.Type(),
		DataType: getDataTypeName(mat.Type()),
		Empty:    mat.Empty(),
	}
}

// ConvertMatType converts src to targetType applying dst = src*scale + offset
func ConvertMatType(src *safe.Mat, targetType gocv.MatType, scale, offset float64, tag string) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "Mat type conversion"); err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	srcMat := src.GetMat()
	srcMat.ConvertToWithParams(&dst, targetType, float32(scale), float32(offset))

	return safe.Adopt(dst, src.Tracker(), tag)
}

// ToEightBit produces the 8-bit view of an intensity image used for
// masking. 16-bit data is scaled by 1/256; 8-bit data is cloned.
func ToEightBit(src *safe.Mat) (*safe.Mat, error) {
	gray, err := ConvertToGrayscale(src)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	switch gray.Type() {
	case gocv.MatTypeCV8UC1:
		return gray.Clone()
	case gocv.MatTypeCV16UC1:
		return ConvertMatType(gray, gocv.MatTypeCV8UC1, 1.0/256.0, 0, src.Tag()+"_8bit")
	case gocv.MatTypeCV32FC1, gocv.MatTypeCV64FC1:
		return ConvertMatType(gray, gocv.MatTypeCV8UC1, 255.0, 0, src.Tag()+"_8bit")
	default:
		return nil, fmt.Errorf("cannot make 8-bit view of %s", getDataTypeName(gray.Type()))
	}
}

// getDataTypeName returns human-readable name for MatType
func getDataTypeName(matType gocv.MatType) string {
	switch matType {
	case gocv.MatTypeCV8UC1:
		return "8-bit unsigned single channel"
	case gocv.MatTypeCV8UC3:
		return "8-bit unsigned 3-channel"
	case gocv.MatTypeCV8UC4:
		return "8-bit unsigned 4-channel"
	case gocv.MatTypeCV16UC1:
		return "16-bit unsigned single channel"
	case gocv.MatTypeCV16UC3:
		return "16-bit unsigned 3-channel"
	case gocv.MatTypeCV32FC1:
		return "32-bit float single channel"
	case gocv.MatTypeCV64FC1:
		return "64-bit float single channel"
	default:
		return fmt.Sprintf("unknown type %d", int(matType))
	}
}
