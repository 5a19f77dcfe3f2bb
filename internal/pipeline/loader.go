package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"fvfm-analyzer/internal/gridio"
	"fvfm-analyzer/internal/logger"
	"fvfm-analyzer/internal/opencv/conversion"
	"fvfm-analyzer/internal/opencv/safe"
)

type imageLoader struct {
	tracker safe.MemoryTracker
	logger  logger.Logger
}

// Load reads path at its native bit depth and collapses colour to one
// channel
func (l *imageLoader) Load(ctx context.Context, path string) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := gridio.ReadMat(path, l.tracker)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer raw.Close()

	gray, err := conversion.ConvertToGrayscale(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", path, err)
	}

	depth, err := conversion.DepthForMatType(gray.Type())
	if err != nil {
		gray.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	g, err := conversion.MatToGrid(gray, depth)
	if err != nil {
		gray.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	fields := conversion.GetMatProperties(raw).Fields()
	fields["path"] = path
	fields["format"] = formatOf(path)
	fields["depth"] = depth.String()
	l.logger.Debug("ImageLoader", "image loaded", fields)

	return &Frame{Path: path, Mat: gray, Grid: g}, nil
}

func formatOf(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".tiff", ".tif":
		return "tiff"
	case ".jpg", ".jpeg":
		return "jpeg"
	case "":
		return "unknown"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}
