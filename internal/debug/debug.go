// Package debug writes intermediate workflow images when asked to. The mode
// and output directory are passed in explicitly by the caller.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"fvfm-analyzer/internal/debug/eventbus"
	"fvfm-analyzer/internal/logger"
	"fvfm-analyzer/internal/opencv/conversion"
	"fvfm-analyzer/internal/opencv/safe"

	"gocv.io/x/gocv"
)

type Mode string

const (
	ModeNone  Mode = "none"
	ModePrint Mode = "print"
)

// ParseMode accepts "" as ModeNone
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeNone:
		return ModeNone, nil
	case ModePrint:
		return ModePrint, nil
	default:
		return "", fmt.Errorf("debug mode must be %q or %q, got %q", ModeNone, ModePrint, s)
	}
}

// WrittenFile records one image written by an ImageWriter
type WrittenFile struct {
	Step      int
	Name      string
	Path      string
	WrittenAt time.Time
}

// ImageWriter saves images as <step>_<name>.png in its directory. In
// ModeNone every call is a no-op.
type ImageWriter struct {
	mode     Mode
	dir      string
	logger   logger.Logger
	eventBus eventbus.Publisher

	mu    sync.Mutex
	step  int
	files []WrittenFile
}

func NewImageWriter(mode Mode, dir string, log logger.Logger, eventBus eventbus.Publisher) *ImageWriter {
	if log == nil {
		log = logger.Nop()
	}
	return &ImageWriter{
		mode:     mode,
		dir:      dir,
		logger:   log,
		eventBus: eventBus,
	}
}

func (w *ImageWriter) Enabled() bool {
	return w != nil && w.mode == ModePrint
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Write saves m under the next step number and returns the path. Images
// that are not 8-bit are scaled to 8-bit first.
func (w *ImageWriter) Write(name string, m *safe.Mat) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	if err := safe.ValidateMatForOperation(m, "debug image "+name); err != nil {
		return "", err
	}

	out := m
	if m.Type() != gocv.MatTypeCV8UC1 && m.Type() != gocv.MatTypeCV8UC3 && m.Type() != gocv.MatTypeCV8UC4 {
		eight, err := conversion.ToEightBit(m)
		if err != nil {
			return "", fmt.Errorf("debug image %s: %w", name, err)
		}
		defer eight.Close()
		out = eight
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create debug directory: %w", err)
	}

	w.step++
	clean := unsafeName.ReplaceAllString(name, "_")
	path := filepath.Join(w.dir, fmt.Sprintf("%d_%s.png", w.step, clean))

	if !gocv.IMWrite(path, out.GetMat()) {
		w.step--
		return "", fmt.Errorf("failed to write debug image %s", path)
	}

	file := WrittenFile{Step: w.step, Name: clean, Path: path, WrittenAt: time.Now()}
	w.files = append(w.files, file)

	w.logger.Debug("DebugImages", "debug image written", map[string]interface{}{
		"step": file.Step,
		"path": path,
	})
	if w.eventBus != nil {
		w.eventBus.Publish(eventbus.Event{
			Type: eventbus.ImageWritten,
			Data: map[string]interface{}{"step": file.Step, "name": clean, "path": path},
		})
	}
	return path, nil
}

// Files lists everything written so far in step order
func (w *ImageWriter) Files() []WrittenFile {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]WrittenFile(nil), w.files...)
}
