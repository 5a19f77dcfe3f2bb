// Package gridio reads and writes grids as CSV text or image files.
package gridio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fvfm-analyzer/internal/grid"
	"fvfm-analyzer/internal/opencv/conversion"
	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

var imageExtensions = map[string]bool{
	".png": true, ".tif": true, ".tiff": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".exr": true,
}

func isCSV(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return true
	}
	return false
}

// Read loads path as CSV or as an image, chosen by extension
func Read(path string, depth grid.Depth) (*grid.Grid, error) {
	if isCSV(path) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		g, err := ReadCSV(f, depth)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return g, nil
	}
	if imageExtensions[strings.ToLower(filepath.Ext(path))] {
		return ReadImage(path, depth)
	}
	return nil, fmt.Errorf("unsupported grid file %q", path)
}

// Write stores g at path as CSV or as an image, chosen by extension
func Write(path string, g *grid.Grid) error {
	if isCSV(path) {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := WriteCSV(f, g); err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", path, err)
		}
		return f.Close()
	}
	if imageExtensions[strings.ToLower(filepath.Ext(path))] {
		return WriteImage(path, g)
	}
	return fmt.Errorf("unsupported grid file %q", path)
}

// ReadCSV parses comma separated rows. Blank input is a 0x0 grid; ragged
// rows are an error.
func ReadCSV(r io.Reader, depth grid.Depth) (*grid.Grid, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	records, err := cr.ReadAll()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
			return nil, fmt.Errorf("ragged rows: line %d", perr.Line)
		}
		return nil, err
	}

	rows := make([][]float64, len(records))
	for i, rec := range records {
		rows[i] = make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i+1, j+1, err)
			}
			rows[i][j] = v
		}
	}
	return grid.FromRows(rows, depth)
}

func WriteCSV(w io.Writer, g *grid.Grid) error {
	cw := csv.NewWriter(w)
	record := make([]string, g.Cols())
	for r := 0; r < g.Rows(); r++ {
		for c, v := range g.Row(r) {
			record[c] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadImage decodes path without changing its bit depth, then converts to
// a grid of the requested depth
func ReadImage(path string, depth grid.Depth) (*grid.Grid, error) {
	m, err := ReadMat(path, nil)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	return conversion.MatToGrid(m, depth)
}

// ReadMat decodes path with its native depth and channel count
func ReadMat(path string, tracker safe.MemoryTracker) (*safe.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	m := gocv.IMRead(path, gocv.IMReadUnchanged)
	if m.Empty() {
		m.Close()
		return nil, fmt.Errorf("failed to decode image %s", path)
	}
	return safe.Adopt(m, tracker, filepath.Base(path))
}

// WriteImage encodes g at its own depth. Float grids need a format that
// keeps floats, such as TIFF.
func WriteImage(path string, g *grid.Grid) error {
	m, err := conversion.GridToMat(g, nil, filepath.Base(path))
	if err != nil {
		return err
	}
	defer m.Close()

	return WriteMat(path, m)
}

func WriteMat(path string, m *safe.Mat) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if !gocv.IMWrite(path, m.GetMat()) {
		return fmt.Errorf("failed to write image %s", path)
	}
	return nil
}
