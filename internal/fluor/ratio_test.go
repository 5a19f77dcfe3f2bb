package fluor

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"fvfm-analyzer/internal/grid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGrid(t *testing.T, rows [][]float64, depth grid.Depth) *grid.Grid {
	t.Helper()
	g, err := grid.FromRows(rows, depth)
	require.NoError(t, err)
	return g
}

func TestGuardedRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		num       [][]float64
		den       [][]float64
		mask      [][]float64
		threshold float64
		want      [][]float64
	}{
		{
			name:      "zero denominator and low mask fall back to zero",
			num:       [][]float64{{10, 20}, {30, 40}},
			den:       [][]float64{{2, 0}, {5, 8}},
			mask:      [][]float64{{50, 50}, {1, 50}},
			threshold: 20,
			want:      [][]float64{{5, 0}, {0, 5}},
		},
		{
			name:      "all denominators zero",
			num:       [][]float64{{1, 2}, {3, 4}},
			den:       [][]float64{{0, 0}, {0, 0}},
			mask:      [][]float64{{255, 255}, {255, 255}},
			threshold: 0,
			want:      [][]float64{{0, 0}, {0, 0}},
		},
		{
			name:      "threshold at or above every mask value",
			num:       [][]float64{{1, 2}, {3, 4}},
			den:       [][]float64{{1, 1}, {1, 1}},
			mask:      [][]float64{{10, 20}, {30, 40}},
			threshold: 40,
			want:      [][]float64{{0, 0}, {0, 0}},
		},
		{
			name:      "negative denominator",
			num:       [][]float64{{6, -6}},
			den:       [][]float64{{-3, 3}},
			mask:      [][]float64{{1, 1}},
			threshold: 0,
			want:      [][]float64{{0, -2}},
		},
		{
			name:      "mask equal to threshold is excluded",
			num:       [][]float64{{9}},
			den:       [][]float64{{3}},
			mask:      [][]float64{{1}},
			threshold: 1,
			want:      [][]float64{{0}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := GuardedRatio(
				mustGrid(t, tt.num, grid.DepthF64),
				mustGrid(t, tt.den, grid.DepthF64),
				mustGrid(t, tt.mask, grid.DepthF64),
				tt.threshold,
			)
			require.NoError(t, err)
			assert.Equal(t, grid.DepthF64, got.Depth())
			assert.Equal(t, tt.want, got.ToRows())
		})
	}
}

func TestGuardedRatioIntegerInputsGiveFloatOutput(t *testing.T) {
	num := mustGrid(t, [][]float64{{1, 2}}, grid.DepthU16)
	den := mustGrid(t, [][]float64{{3, 4}}, grid.DepthU16)
	mask := mustGrid(t, [][]float64{{255, 255}}, grid.DepthU8)

	got, err := GuardedRatio(num, den, mask, 1)
	require.NoError(t, err)
	assert.Equal(t, grid.DepthF64, got.Depth())
	assert.InDelta(t, 1.0/3.0, got.At(0, 0), 1e-12)
	assert.Equal(t, 0.5, got.At(0, 1))
}

func TestGuardedRatioEmpty(t *testing.T) {
	for _, s := range []grid.Shape{{Rows: 0, Cols: 0}, {Rows: 0, Cols: 3}, {Rows: 5, Cols: 0}} {
		g, err := grid.New(s.Rows, s.Cols, grid.DepthU16)
		require.NoError(t, err)

		got, err := GuardedRatio(g, g, g, 20)
		require.NoError(t, err, s.String())
		assert.Equal(t, s, got.Shape())
		assert.Equal(t, 0, got.Len())
	}
}

func TestGuardedRatioShapeMismatch(t *testing.T) {
	a := mustGrid(t, [][]float64{{1, 2}, {3, 4}}, grid.DepthF64)
	b := mustGrid(t, [][]float64{{1, 2}}, grid.DepthF64)

	cases := map[string][3]*grid.Grid{
		"denominator": {a, b, a},
		"mask":        {a, a, b},
		"numerator":   {b, a, a},
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := GuardedRatio(in[0], in[1], in[2], 0)
			assert.Nil(t, got)

			var mismatch *grid.ShapeMismatchError
			require.True(t, errors.As(err, &mismatch), "got %v", err)
			assert.NotEqual(t, mismatch.Want, mismatch.Got)
		})
	}
}

func TestGuardedRatioRejectsNonFiniteThreshold(t *testing.T) {
	a := mustGrid(t, [][]float64{{1}}, grid.DepthF64)
	for _, th := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := GuardedRatio(a, a, a, th)
		assert.ErrorIs(t, err, ErrInvalidThreshold)
	}
}

func TestGuardedRatioNeverProducesNonFinite(t *testing.T) {
	num := mustGrid(t, [][]float64{{math.Inf(1), math.NaN(), 0, -5, math.MaxFloat64}}, grid.DepthF64)
	den := mustGrid(t, [][]float64{{1, 1, 0, 0, math.SmallestNonzeroFloat64}}, grid.DepthF64)
	mask := mustGrid(t, [][]float64{{9, 9, 9, 9, 9}}, grid.DepthF64)

	got, err := GuardedRatio(num, den, mask, 0)
	require.NoError(t, err)
	for _, v := range got.RawValues() {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "got %v", v)
	}
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, got.Values())
}

func TestGuardedRatioDoesNotMutateInputs(t *testing.T) {
	num := mustGrid(t, [][]float64{{10, 20}}, grid.DepthF64)
	den := mustGrid(t, [][]float64{{2, 0}}, grid.DepthF64)
	mask := mustGrid(t, [][]float64{{5, 5}}, grid.DepthF64)

	first, err := GuardedRatio(num, den, mask, 1)
	require.NoError(t, err)
	second, err := GuardedRatio(num, den, mask, 1)
	require.NoError(t, err)

	assert.Equal(t, first.Values(), second.Values())
	assert.Equal(t, [][]float64{{10, 20}}, num.ToRows())
	assert.Equal(t, [][]float64{{2, 0}}, den.ToRows())
	assert.Equal(t, [][]float64{{5, 5}}, mask.ToRows())
}

func randomGrid(t *testing.T, rng *rand.Rand, rows, cols int, span float64) *grid.Grid {
	t.Helper()
	values := make([]float64, rows*cols)
	for i := range values {
		values[i] = math.Floor(rng.Float64()*span) - span/4
	}
	g, err := grid.FromValues(rows, cols, grid.DepthF64, values)
	require.NoError(t, err)
	return g
}

func TestRatioComputerMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	num := randomGrid(t, rng, 301, 17, 4000)
	den := randomGrid(t, rng, 301, 17, 4000)
	mask := randomGrid(t, rng, 301, 17, 255)

	want, err := GuardedRatio(num, den, mask, 20)
	require.NoError(t, err)

	for _, workers := range []int{1, 2, 3, 8} {
		rc := NewRatioComputer(workers)
		rc.MinRowsPerBand = 10

		got, err := rc.Compute(context.Background(), num, den, mask, 20)
		require.NoError(t, err)
		assert.Equal(t, want.Values(), got.Values(), "workers=%d", workers)
	}
}

func TestRatioComputerCancelled(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	g := randomGrid(t, rng, 100, 4, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := NewRatioComputer(2)
	rc.MinRowsPerBand = 1

	_, err := rc.Compute(ctx, g, g, g, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRatioComputerBands(t *testing.T) {
	rc := &RatioComputer{Workers: 4, MinRowsPerBand: 2}
	assert.Equal(t, [][2]int{{0, 3}, {3, 6}, {6, 9}, {9, 10}}, rc.bands(10))

	rc = &RatioComputer{Workers: 4, MinRowsPerBand: 64}
	assert.Equal(t, [][2]int{{0, 10}}, rc.bands(10))
}
