// Package objects extracts plant objects from binary masks, filters them by
// a region of interest and measures the composed plant.
package objects

import (
	"errors"
	"image"
	"image/color"
	"sort"

	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

var (
	// ErrNoObjects means nothing survived ROI filtering
	ErrNoObjects = errors.New("no objects to compose")
	// ErrEmptyROI means the requested rectangle does not intersect the image
	ErrEmptyROI = errors.New("region of interest lies outside the image")
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Object is one external contour of the mask
type Object struct {
	Contour []image.Point
	Area    float64
	Bounds  image.Rectangle
}

// Find returns the external contours of mask, largest first
func Find(mask *safe.Mat) ([]Object, error) {
	if err := safe.ValidateSingleChannel(mask, "find objects"); err != nil {
		return nil, err
	}

	contours := gocv.FindContours(mask.GetMat(), gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()

	objs := make([]Object, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		pv := contours.At(i)
		objs = append(objs, Object{
			Contour: pv.ToPoints(),
			Area:    gocv.ContourArea(pv),
			Bounds:  gocv.BoundingRect(pv),
		})
	}

	sort.SliceStable(objs, func(i, j int) bool { return objs[i].Area > objs[j].Area })
	return objs, nil
}

// fillObjects rasterises the given objects as filled polygons onto a new
// 8-bit mask of size rows x cols
func fillObjects(objs []Object, rows, cols int, tracker safe.MemoryTracker, tag string) (*safe.Mat, error) {
	dst, err := safe.NewMatWithTracker(rows, cols, gocv.MatTypeCV8UC1, tracker, tag)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return dst, nil
	}

	pts := make([][]image.Point, len(objs))
	for i, o := range objs {
		pts[i] = o.Contour
	}

	pv := gocv.NewPointsVectorFromPoints(pts)
	defer pv.Close()

	gocv.FillPoly(dst.Ptr(), pv, white)
	return dst, nil
}

func (o Object) pointVector() gocv.PointVector {
	return gocv.NewPointVectorFromPoints(o.Contour)
}
