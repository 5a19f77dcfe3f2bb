package objects

import (
	"image"
	"math"

	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// Composed is the union of the kept objects treated as one plant
type Composed struct {
	Objects []Object
	Points  []image.Point
	Bounds  image.Rectangle
	Mask    *safe.Mat
}

func (c *Composed) Close() {
	if c != nil && c.Mask != nil {
		c.Mask.Close()
	}
}

// Compose merges objects into one plant. The mask is the union of the
// filled object outlines, sized rows x cols.
func Compose(objs []Object, rows, cols int, tracker safe.MemoryTracker) (*Composed, error) {
	if len(objs) == 0 {
		return nil, ErrNoObjects
	}

	c := &Composed{Objects: objs}
	for i, o := range objs {
		c.Points = append(c.Points, o.Contour...)
		if i == 0 {
			c.Bounds = o.Bounds
		} else {
			c.Bounds = c.Bounds.Union(o.Bounds)
		}
	}

	mask, err := fillObjects(objs, rows, cols, tracker, "composed_mask")
	if err != nil {
		return nil, err
	}
	c.Mask = mask

	return c, nil
}

// Shape holds the size and shape traits of a composed plant
type Shape struct {
	Area           float64
	ConvexHullArea float64
	Solidity       float64
	Perimeter      float64
	Width          int
	Height         int
	CenterX        float64
	CenterY        float64
	ObjectCount    int
}

// Analyze measures the plant. Area, centroid and solidity are taken from
// mask, the pixels actually kept; outline traits come from the composed
// contours.
func Analyze(mask *safe.Mat, c *Composed) (Shape, error) {
	if err := safe.ValidateSingleChannel(mask, "analyze object"); err != nil {
		return Shape{}, err
	}
	if c == nil || len(c.Objects) == 0 {
		return Shape{}, ErrNoObjects
	}

	s := Shape{
		Area:        float64(gocv.CountNonZero(mask.GetMat())),
		Width:       c.Bounds.Dx(),
		Height:      c.Bounds.Dy(),
		ObjectCount: len(c.Objects),
	}

	for _, o := range c.Objects {
		pv := o.pointVector()
		s.Perimeter += gocv.ArcLength(pv, true)
		pv.Close()
	}

	s.ConvexHullArea = convexHullArea(c.Points)
	if s.ConvexHullArea > 0 {
		s.Solidity = math.Min(s.Area/s.ConvexHullArea, 1)
	}

	m := gocv.Moments(mask.GetMat(), true)
	if m["m00"] > 0 {
		s.CenterX = m["m10"] / m["m00"]
		s.CenterY = m["m01"] / m["m00"]
	}

	return s, nil
}

func convexHullArea(points []image.Point) float64 {
	if len(points) < 3 {
		return 0
	}

	pv := gocv.NewPointVectorFromPoints(points)
	defer pv.Close()

	hull := gocv.NewMat()
	defer hull.Close()
	gocv.ConvexHull(pv, &hull, true, true)

	hullPoints := gocv.NewPointVectorFromMat(hull)
	defer hullPoints.Close()

	return gocv.ContourArea(hullPoints)
}
