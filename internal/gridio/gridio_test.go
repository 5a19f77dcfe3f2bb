package gridio

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"fvfm-analyzer/internal/grid"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    [][]float64
		wantErr bool
	}{
		{"two rows", "10, 4\n0,3\n", [][]float64{{10, 4}, {0, 3}}, false},
		{"comments skipped", "# header\n1,2\n", [][]float64{{1, 2}}, false},
		{"blank", "", nil, false},
		{"ragged", "1,2\n3\n", nil, true},
		{"not a number", "1,x\n", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := ReadCSV(strings.NewReader(tt.input), grid.DepthF64)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.True(t, g.Shape().Empty())
				return
			}
			if diff := cmp.Diff(tt.want, g.ToRows()); diff != "" {
				t.Errorf("grid mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteCSVFormatting(t *testing.T) {
	g, err := grid.FromRows([][]float64{{5, 0}, {0.25, 1e-7}}, grid.DepthF64)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, g))
	assert.Equal(t, "5,0\n0.25,1e-07\n", buf.String())
}

func TestReadWriteDispatch(t *testing.T) {
	dir := t.TempDir()
	g, err := grid.FromRows([][]float64{{1, 2}, {3, 4}}, grid.DepthU16)
	require.NoError(t, err)

	for _, name := range []string{"g.csv", "g.png", "g.tif"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, Write(path, g))

			back, err := Read(path, grid.DepthU16)
			require.NoError(t, err)
			assert.Equal(t, g.ToRows(), back.ToRows())
		})
	}

	_, err = Read(filepath.Join(dir, "g.xyz"), grid.DepthF64)
	assert.Error(t, err)
	_, err = Read(filepath.Join(dir, "missing.png"), grid.DepthF64)
	assert.Error(t, err)
}
