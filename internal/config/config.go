// Package config holds every setting of the PSII workflow. Values start from
// Default, may be loaded from YAML and are then overridden by command line
// flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"

	"fvfm-analyzer/internal/debug"
	"fvfm-analyzer/internal/processing/objects"
	"fvfm-analyzer/internal/processing/threshold"
	"fvfm-analyzer/internal/processing/visualize"

	"gopkg.in/yaml.v3"
)

type ROI struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"w"`
	Height int `yaml:"h"`
}

// Mask controls how the plant mask is derived from the Fmax frame
type Mask struct {
	Threshold  float64 `yaml:"threshold"`
	MaxValue   float64 `yaml:"max_value"`
	ObjectType string  `yaml:"object_type"`
	Method     string  `yaml:"method"`
	FillSize   int     `yaml:"fill_size"`
	Cleanup    bool    `yaml:"cleanup"`
	// CleanupKernel of 0 sizes the kernel from the image
	CleanupKernel int     `yaml:"cleanup_kernel"`
	Gaussian      bool    `yaml:"gaussian"`
	GaussianSigma float64 `yaml:"gaussian_sigma"`
}

type Analysis struct {
	// RatioMaskThreshold guards the Fv/Fm division; it is compared against
	// the 0/255 mask, not against raw intensities
	RatioMaskThreshold float64 `yaml:"ratio_mask_threshold"`
	Bins               int     `yaml:"bins"`
	Colormap           string  `yaml:"colormap"`
}

type Config struct {
	Fmin   string `yaml:"fmin"`
	Fmax   string `yaml:"fmax"`
	Fdark  string `yaml:"fdark"`
	OutDir string `yaml:"outdir"`
	Result string `yaml:"result"`

	Debug       string `yaml:"debug"`
	WriteImages bool   `yaml:"write_images"`
	ResultsDB   string `yaml:"results_db"`
	LogLevel    string `yaml:"log_level"`
	Workers     int    `yaml:"workers"`

	Mask     Mask     `yaml:"mask"`
	ROI      ROI      `yaml:"roi"`
	ROIType  string   `yaml:"roi_type"`
	Analysis Analysis `yaml:"analysis"`
}

func Default() Config {
	return Config{
		Debug:    string(debug.ModeNone),
		LogLevel: "info",
		Workers:  runtime.NumCPU(),
		Mask: Mask{
			Threshold:     20,
			MaxValue:      255,
			ObjectType:    string(threshold.ObjectLight),
			Method:        string(threshold.MethodBinary),
			FillSize:      100,
			GaussianSigma: 1,
		},
		ROI:     ROI{X: 180, Y: 90, Width: 200, Height: 200},
		ROIType: string(objects.FilterPartial),
		Analysis: Analysis{
			RatioMaskThreshold: 1,
			Bins:               256,
			Colormap:           string(visualize.ColormapViridis),
		},
	}
}

// LoadFile overlays the YAML document at path onto Default. Unknown keys
// are rejected.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if _, err := debug.ParseMode(c.Debug); err != nil {
		errs = append(errs, err)
	}
	if _, err := threshold.ParseObjectType(c.Mask.ObjectType); err != nil {
		errs = append(errs, err)
	}
	if _, err := threshold.ParseMethod(c.Mask.Method); err != nil {
		errs = append(errs, err)
	}
	if _, err := objects.ParseFilterMode(c.ROIType); err != nil {
		errs = append(errs, err)
	}
	if _, err := visualize.ParseColormap(c.Analysis.Colormap); err != nil {
		errs = append(errs, err)
	}

	check(c.Mask.MaxValue > 0, "mask max_value must be positive, got %v", c.Mask.MaxValue)
	check(c.Mask.Threshold >= 0 && c.Mask.Threshold < c.Mask.MaxValue,
		"mask threshold must be in [0, %v), got %v", c.Mask.MaxValue, c.Mask.Threshold)
	check(c.Mask.FillSize >= 0, "fill_size must not be negative, got %d", c.Mask.FillSize)
	check(c.Mask.CleanupKernel >= 0, "cleanup_kernel must not be negative, got %d", c.Mask.CleanupKernel)
	check(c.ROI.Width > 0 && c.ROI.Height > 0, "roi size must be positive, got %dx%d", c.ROI.Width, c.ROI.Height)
	check(c.ROI.X >= 0 && c.ROI.Y >= 0, "roi origin must not be negative, got (%d,%d)", c.ROI.X, c.ROI.Y)
	check(!math.IsNaN(c.Analysis.RatioMaskThreshold) && !math.IsInf(c.Analysis.RatioMaskThreshold, 0),
		"ratio_mask_threshold must be finite")
	check(c.Analysis.Bins > 0, "bins must be positive, got %d", c.Analysis.Bins)
	check(c.Workers >= 0, "workers must not be negative, got %d", c.Workers)

	return errors.Join(errs...)
}

// ValidateRun additionally requires the inputs and outputs of a run
func (c Config) ValidateRun() error {
	var errs []error
	required := []struct{ name, value string }{
		{"fmin", c.Fmin},
		{"fmax", c.Fmax},
		{"outdir", c.OutDir},
		{"result", c.Result},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	return errors.Join(append([]error{c.Validate()}, errs...)...)
}

// MaskParams renders the mask settings as processing chain parameters
func (c Config) MaskParams() map[string]interface{} {
	objectType, _ := threshold.ParseObjectType(c.Mask.ObjectType)
	method, _ := threshold.ParseMethod(c.Mask.Method)

	return map[string]interface{}{
		"threshold":              c.Mask.Threshold,
		"max_value":              c.Mask.MaxValue,
		"object_type":            objectType,
		"threshold_method":       method,
		"fill_size":              c.Mask.FillSize,
		"result_cleanup":         c.Mask.Cleanup,
		"cleanup_kernel":         c.Mask.CleanupKernel,
		"gaussian_preprocessing": c.Mask.Gaussian,
		"smoothing_strength":     c.Mask.GaussianSigma,
	}
}
