package threshold

import (
	"context"
	"fmt"

	"fvfm-analyzer/internal/opencv/conversion"
	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// ObjectType says whether plants are brighter or darker than the background
type ObjectType string

const (
	ObjectLight ObjectType = "light"
	ObjectDark  ObjectType = "dark"
)

// Method selects how the cut-off is chosen
type Method string

const (
	MethodBinary Method = "binary"
	MethodOtsu   Method = "otsu"
)

func ParseObjectType(s string) (ObjectType, error) {
	switch ObjectType(s) {
	case ObjectLight, ObjectDark:
		return ObjectType(s), nil
	default:
		return "", fmt.Errorf("object type must be %q or %q, got %q", ObjectLight, ObjectDark, s)
	}
}

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodBinary, MethodOtsu:
		return Method(s), nil
	default:
		return "", fmt.Errorf("threshold method must be %q or %q, got %q", MethodBinary, MethodOtsu, s)
	}
}

// Binary produces an 8-bit mask. Light objects keep pixels strictly above
// threshold; dark objects keep pixels at or below it. Kept pixels are set
// to maxValue, the rest to 0.
func Binary(src *safe.Mat, threshold, maxValue float64, objectType ObjectType) (*safe.Mat, error) {
	if err := safe.ValidateSingleChannel(src, "binary threshold"); err != nil {
		return nil, err
	}

	thresholdType, err := thresholdTypeFor(objectType)
	if err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	srcMat := src.GetMat()
	gocv.Threshold(srcMat, &dst, float32(threshold), float32(maxValue), thresholdType)

	out, err := safe.Adopt(dst, src.Tracker(), "binary_mask")
	if err != nil {
		return nil, err
	}

	// 16-bit input thresholds on its own scale but the mask is always 8-bit
	if out.Type() != gocv.MatTypeCV8UC1 {
		defer out.Close()
		return conversion.ConvertMatType(out, gocv.MatTypeCV8UC1, 255.0/maxValue, 0, "binary_mask")
	}
	return out, nil
}

// Otsu picks the threshold automatically from the 8-bit histogram and returns
// the mask together with the chosen value
func Otsu(src *safe.Mat, maxValue float64, objectType ObjectType) (*safe.Mat, float64, error) {
	if err := safe.ValidateSingleChannel(src, "otsu threshold"); err != nil {
		return nil, 0, err
	}
	if src.Type() != gocv.MatTypeCV8UC1 {
		return nil, 0, fmt.Errorf("otsu threshold requires 8-bit input")
	}

	thresholdType, err := thresholdTypeFor(objectType)
	if err != nil {
		return nil, 0, err
	}

	dst := gocv.NewMat()
	srcMat := src.GetMat()
	chosen := gocv.Threshold(srcMat, &dst, 0, float32(maxValue), thresholdType|gocv.ThresholdOtsu)

	out, err := safe.Adopt(dst, src.Tracker(), "otsu_mask")
	if err != nil {
		return nil, 0, err
	}
	return out, float64(chosen), nil
}

func thresholdTypeFor(objectType ObjectType) (gocv.ThresholdType, error) {
	switch objectType {
	case ObjectLight:
		return gocv.ThresholdBinary, nil
	case ObjectDark:
		return gocv.ThresholdBinaryInv, nil
	default:
		return 0, fmt.Errorf("unknown object type %q", objectType)
	}
}

// Step adapts thresholding to the processing chain. Parameters:
// "threshold" (float64), "max_value" (float64), "object_type" (ObjectType)
// and "threshold_method" (Method).
type Step struct{}

func NewStep() *Step {
	return &Step{}
}

func (s *Step) Name() string {
	return "threshold"
}

func (s *Step) ShouldExecute(params map[string]interface{}) bool {
	return true
}

func (s *Step) Apply(ctx context.Context, input *safe.Mat, params map[string]interface{}) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	maxValue := floatParam(params, "max_value", 255)
	objectType := ObjectLight
	if v, ok := params["object_type"].(ObjectType); ok {
		objectType = v
	}

	if method, ok := params["threshold_method"].(Method); ok && method == MethodOtsu {
		mask, chosen, err := Otsu(input, maxValue, objectType)
		if err != nil {
			return nil, err
		}
		params["chosen_threshold"] = chosen
		return mask, nil
	}

	return Binary(input, floatParam(params, "threshold", 20), maxValue, objectType)
}

func floatParam(params map[string]interface{}, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}
