// Package grid holds two-dimensional numeric sample arrays with an explicit
// sample precision. Images decoded by OpenCV are converted into grids before
// any per-pixel arithmetic happens.
package grid

import (
	"fmt"
	"math"
)

// Depth is the sample precision a grid was constructed with
type Depth int

const (
	DepthU8 Depth = iota
	DepthU16
	DepthF32
	DepthF64
)

func (d Depth) String() string {
	switch d {
	case DepthU8:
		return "uint8"
	case DepthU16:
		return "uint16"
	case DepthF32:
		return "float32"
	case DepthF64:
		return "float64"
	default:
		return fmt.Sprintf("depth(%d)", int(d))
	}
}

// MaxValue returns the largest sample representable at this depth
func (d Depth) MaxValue() float64 {
	switch d {
	case DepthU8:
		return math.MaxUint8
	case DepthU16:
		return math.MaxUint16
	case DepthF32:
		return math.MaxFloat32
	default:
		return math.Inf(1)
	}
}

// IsInteger reports whether samples are stored as whole numbers
func (d Depth) IsInteger() bool {
	return d == DepthU8 || d == DepthU16
}

// ParseDepth maps the names accepted on the command line to a Depth
func ParseDepth(name string) (Depth, error) {
	switch name {
	case "u8", "uint8", "8":
		return DepthU8, nil
	case "u16", "uint16", "16":
		return DepthU16, nil
	case "f32", "float32", "32":
		return DepthF32, nil
	case "f64", "float64", "64", "":
		return DepthF64, nil
	default:
		return DepthF64, fmt.Errorf("unknown grid depth %q", name)
	}
}

// Shape is the height and width of a grid
type Shape struct {
	Rows int
	Cols int
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Rows, s.Cols)
}

// Empty reports whether the shape holds no samples
func (s Shape) Empty() bool {
	return s.Rows == 0 || s.Cols == 0
}

// Grid is a row-major array of samples. A grid with zero rows or zero
// columns is valid and simply holds no samples.
type Grid struct {
	rows  int
	cols  int
	depth Depth
	data  []float64
}

// New creates a zeroed grid
func New(rows, cols int, depth Depth) (*Grid, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("invalid grid dimensions: %dx%d", rows, cols)
	}
	if rows == 0 || cols == 0 {
		return &Grid{rows: rows, cols: cols, depth: depth, data: []float64{}}, nil
	}

	return &Grid{
		rows:  rows,
		cols:  cols,
		depth: depth,
		data:  make([]float64, rows*cols),
	}, nil
}

// FromRows builds a grid from a slice of equally long rows. Values are
// coerced to the depth's range.
func FromRows(rows [][]float64, depth Depth) (*Grid, error) {
	if len(rows) == 0 {
		return New(0, 0, depth)
	}

	cols := len(rows[0])
	g, err := New(len(rows), cols, depth)
	if err != nil {
		return nil, err
	}

	for r, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("ragged input: row %d has %d columns, expected %d", r, len(row), cols)
		}
		for c, v := range row {
			g.Set(r, c, v)
		}
	}

	return g, nil
}

// FromValues wraps a row-major sample slice. The slice is copied.
func FromValues(rows, cols int, depth Depth, values []float64) (*Grid, error) {
	if len(values) != rows*cols {
		return nil, fmt.Errorf("value count %d does not match %dx%d", len(values), rows, cols)
	}

	g, err := New(rows, cols, depth)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		g.data[i] = depth.coerce(v)
	}

	return g, nil
}

func (g *Grid) Rows() int    { return g.rows }
func (g *Grid) Cols() int    { return g.cols }
func (g *Grid) Depth() Depth { return g.depth }
func (g *Grid) Len() int     { return len(g.data) }

func (g *Grid) Shape() Shape {
	return Shape{Rows: g.rows, Cols: g.cols}
}

// At returns the sample at row r, column c. It panics when out of range,
// like slice indexing.
func (g *Grid) At(r, c int) float64 {
	g.checkBounds(r, c)
	return g.data[r*g.cols+c]
}

// Set stores v at row r, column c. Integer depths round to the nearest
// whole value and saturate at the depth's range.
func (g *Grid) Set(r, c int, v float64) {
	g.checkBounds(r, c)
	g.data[r*g.cols+c] = g.depth.coerce(v)
}

// Values returns a copy of the row-major samples
func (g *Grid) Values() []float64 {
	out := make([]float64, len(g.data))
	copy(out, g.data)
	return out
}

// RawValues exposes the backing slice for read-only bulk access.
// Callers must not modify it.
func (g *Grid) RawValues() []float64 {
	return g.data
}

// Row returns a copy of row r
func (g *Grid) Row(r int) []float64 {
	if r < 0 || r >= g.rows {
		panic(fmt.Sprintf("grid: row %d out of range [0,%d)", r, g.rows))
	}
	out := make([]float64, g.cols)
	copy(out, g.data[r*g.cols:(r+1)*g.cols])
	return out
}

// ToRows returns the samples as a slice of rows
func (g *Grid) ToRows() [][]float64 {
	out := make([][]float64, g.rows)
	for r := range out {
		out[r] = g.Row(r)
	}
	return out
}

func (g *Grid) Clone() *Grid {
	return &Grid{
		rows:  g.rows,
		cols:  g.cols,
		depth: g.depth,
		data:  g.Values(),
	}
}

// Max returns the largest sample, or 0 for an empty grid
func (g *Grid) Max() float64 {
	if len(g.data) == 0 {
		return 0
	}
	m := g.data[0]
	for _, v := range g.data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func (g *Grid) checkBounds(r, c int) {
	if r < 0 || r >= g.rows || c < 0 || c >= g.cols {
		panic(fmt.Sprintf("grid: index (%d,%d) out of range for %s", r, c, g.Shape()))
	}
}

func (d Depth) coerce(v float64) float64 {
	switch d {
	case DepthU8, DepthU16:
		if math.IsNaN(v) || v <= 0 {
			return 0
		}
		if v >= d.MaxValue() {
			return d.MaxValue()
		}
		return math.Round(v)
	case DepthF32:
		return float64(float32(v))
	default:
		return v
	}
}
