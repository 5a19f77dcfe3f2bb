package grid

import "fmt"

// ShapeMismatchError reports two grids that were required to share a shape
type ShapeMismatchError struct {
	Name  string
	Other string
	Want  Shape
	Got   Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: %s is %s but %s is %s", e.Name, e.Want, e.Other, e.Got)
}

// Named pairs a grid with the name used in diagnostics
type Named struct {
	Name string
	Grid *Grid
}

// CheckShapes compares every grid against the first one and returns a
// *ShapeMismatchError for the first that differs.
func CheckShapes(grids ...Named) error {
	if len(grids) == 0 {
		return nil
	}

	for _, n := range grids {
		if n.Grid == nil {
			return fmt.Errorf("grid %s is nil", n.Name)
		}
	}

	ref := grids[0]
	for _, n := range grids[1:] {
		if n.Grid.Shape() != ref.Grid.Shape() {
			return &ShapeMismatchError{
				Name:  ref.Name,
				Other: n.Name,
				Want:  ref.Grid.Shape(),
				Got:   n.Grid.Shape(),
			}
		}
	}

	return nil
}
