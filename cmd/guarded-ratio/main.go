// Command guarded-ratio divides a numerator grid by a denominator grid
// wherever a mask grid exceeds a threshold and the denominator is positive.
// Every other cell is 0. Grids are read from CSV or image files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"fvfm-analyzer/internal/fluor"
	"fvfm-analyzer/internal/grid"
	"fvfm-analyzer/internal/gridio"
	"fvfm-analyzer/internal/logger"
	"fvfm-analyzer/internal/shutdown"
)

const (
	exitOK            = 0
	exitFailure       = 1
	exitUsage         = 2
	exitShapeMismatch = 3
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	numerator   string
	denominator string
	mask        string
	out         string
	threshold   float64
	depth       grid.Depth
	workers     int
	logLevel    string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("guarded-ratio", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	var depth string
	fs.StringVar(&o.numerator, "numerator", "", "numerator grid (.csv, .txt or image)")
	fs.StringVar(&o.denominator, "denominator", "", "denominator grid")
	fs.StringVar(&o.mask, "mask", "", "mask grid")
	fs.Float64Var(&o.threshold, "threshold", 1, "mask values must be strictly above this")
	fs.StringVar(&o.out, "out", "-", "output grid; - writes CSV to stdout")
	fs.StringVar(&depth, "depth", "f64", "input precision: u8, u16, f32 or f64")
	fs.IntVar(&o.workers, "workers", 0, "parallel workers; 0 uses every CPU")
	fs.StringVar(&o.logLevel, "log-level", "warn", "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var errs []error
	for name, v := range map[string]string{"numerator": o.numerator, "denominator": o.denominator, "mask": o.mask} {
		if v == "" {
			errs = append(errs, fmt.Errorf("-%s is required", name))
		}
	}
	if math.IsNaN(o.threshold) || math.IsInf(o.threshold, 0) {
		errs = append(errs, fluor.ErrInvalidThreshold)
	}
	if o.workers < 0 {
		errs = append(errs, fmt.Errorf("-workers must not be negative"))
	}
	d, err := grid.ParseDepth(depth)
	if err != nil {
		errs = append(errs, err)
	}
	o.depth = d

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return o, nil
}

func run(parent context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "guarded-ratio: %v\n", err)
		}
		return exitUsage
	}

	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "guarded-ratio: %v\n", err)
		return exitUsage
	}
	log := logger.NewZerolog(stderr, level)

	shutdowns := shutdown.NewManager(parent, log)
	shutdowns.Listen()
	defer shutdowns.Shutdown()

	inputs := make(map[string]*grid.Grid, 3)
	for _, in := range []struct{ name, path string }{
		{"numerator", opts.numerator},
		{"denominator", opts.denominator},
		{"mask", opts.mask},
	} {
		g, err := gridio.Read(in.path, opts.depth)
		if err != nil {
			fmt.Fprintf(stderr, "guarded-ratio: %s: %v\n", in.name, err)
			return exitFailure
		}
		inputs[in.name] = g
	}

	computer := fluor.NewRatioComputer(opts.workers)
	result, err := computer.Compute(shutdowns.Context(), inputs["numerator"], inputs["denominator"], inputs["mask"], opts.threshold)
	if err != nil {
		fmt.Fprintf(stderr, "guarded-ratio: %v\n", err)
		var mismatch *grid.ShapeMismatchError
		if errors.As(err, &mismatch) {
			return exitShapeMismatch
		}
		return exitFailure
	}

	log.Debug("GuardedRatio", "ratio computed", map[string]interface{}{
		"shape":     result.Shape().String(),
		"threshold": opts.threshold,
		"workers":   computer.Workers,
	})

	if opts.out == "-" {
		err = gridio.WriteCSV(stdout, result)
	} else {
		err = gridio.Write(opts.out, result)
	}
	if err != nil {
		fmt.Fprintf(stderr, "guarded-ratio: %v\n", err)
		return exitFailure
	}
	return exitOK
}
