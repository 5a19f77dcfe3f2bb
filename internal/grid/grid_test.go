package grid

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("zeroed samples", func(t *testing.T) {
		g, err := New(2, 3, DepthU16)
		require.NoError(t, err)
		assert.Equal(t, Shape{Rows: 2, Cols: 3}, g.Shape())
		assert.Equal(t, DepthU16, g.Depth())
		assert.Equal(t, make([]float64, 6), g.Values())
	})

	t.Run("empty grids are valid", func(t *testing.T) {
		for _, s := range []Shape{{0, 0}, {0, 4}, {4, 0}} {
			g, err := New(s.Rows, s.Cols, DepthF64)
			require.NoError(t, err, s.String())
			assert.Equal(t, s, g.Shape())
			assert.Equal(t, 0, g.Len())
			assert.True(t, g.Shape().Empty())
		}
	})

	t.Run("negative dimensions", func(t *testing.T) {
		_, err := New(-1, 2, DepthF64)
		assert.Error(t, err)
	})
}

func TestFromRows(t *testing.T) {
	g, err := FromRows([][]float64{{1, 2}, {3, 4}}, DepthF64)
	require.NoError(t, err)
	assert.Equal(t, 4.0, g.At(1, 1))
	if diff := cmp.Diff([][]float64{{1, 2}, {3, 4}}, g.ToRows()); diff != "" {
		t.Errorf("ToRows mismatch (-want +got):\n%s", diff)
	}

	_, err = FromRows([][]float64{{1, 2}, {3}}, DepthF64)
	assert.ErrorContains(t, err, "ragged")

	empty, err := FromRows(nil, DepthU8)
	require.NoError(t, err)
	assert.Equal(t, Shape{}, empty.Shape())
}

func TestDepthCoercion(t *testing.T) {
	tests := []struct {
		depth Depth
		in    float64
		want  float64
	}{
		{DepthU8, 300, 255},
		{DepthU8, -4, 0},
		{DepthU8, 12.6, 13},
		{DepthU8, math.NaN(), 0},
		{DepthU16, 70000, 65535},
		{DepthU16, 1000.4, 1000},
		{DepthF32, 0.1, float64(float32(0.1))},
		{DepthF64, -2.5, -2.5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.depth, tt.in), func(t *testing.T) {
			g, err := New(1, 1, tt.depth)
			require.NoError(t, err)
			g.Set(0, 0, tt.in)
			assert.Equal(t, tt.want, g.At(0, 0))
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	g, err := FromRows([][]float64{{1, 2}}, DepthF64)
	require.NoError(t, err)

	c := g.Clone()
	c.Set(0, 0, 9)

	assert.Equal(t, 1.0, g.At(0, 0))
	assert.Equal(t, 9.0, c.At(0, 0))
}

func TestAtOutOfRangePanics(t *testing.T) {
	g, err := New(1, 1, DepthF64)
	require.NoError(t, err)
	assert.Panics(t, func() { g.At(1, 0) })
	assert.Panics(t, func() { g.Set(0, -1, 1) })
}

func TestCheckShapes(t *testing.T) {
	a, _ := New(2, 2, DepthF64)
	b, _ := New(2, 2, DepthU16)
	c, _ := New(3, 2, DepthU8)

	assert.NoError(t, CheckShapes(Named{"a", a}, Named{"b", b}))

	err := CheckShapes(Named{"numerator", a}, Named{"denominator", b}, Named{"mask", c})
	var mismatch *ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "mask", mismatch.Other)
	assert.Equal(t, Shape{2, 2}, mismatch.Want)
	assert.Equal(t, Shape{3, 2}, mismatch.Got)
	assert.Equal(t, "shape mismatch: numerator is 2x2 but mask is 3x2", err.Error())

	wrapped := fmt.Errorf("stage fvfm: %w", err)
	assert.True(t, errors.As(wrapped, &mismatch))
}

func TestParseDepth(t *testing.T) {
	d, err := ParseDepth("u16")
	require.NoError(t, err)
	assert.Equal(t, DepthU16, d)

	d, err = ParseDepth("")
	require.NoError(t, err)
	assert.Equal(t, DepthF64, d)

	_, err = ParseDepth("int7")
	assert.Error(t, err)
}
