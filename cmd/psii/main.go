// Command psii measures photosystem II efficiency (Fv/Fm) of the plant in a
// pair of fluorescence frames and writes the observations as JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"

	"fvfm-analyzer/internal/config"
	"fvfm-analyzer/internal/debug"
	"fvfm-analyzer/internal/debug/eventbus"
	"fvfm-analyzer/internal/debug/timing"
	"fvfm-analyzer/internal/logger"
	"fvfm-analyzer/internal/opencv/memory"
	"fvfm-analyzer/internal/pipeline"
	"fvfm-analyzer/internal/shutdown"
	"fvfm-analyzer/internal/store"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	configureRuntime()
	os.Exit(run(context.Background(), os.Args[1:], os.Stderr))
}

// configureRuntime favours throughput for large frame allocations
func configureRuntime() {
	runtime.GOMAXPROCS(runtime.NumCPU())
	if os.Getenv("GOGC") == "" {
		runtime.SetGCPercent(200)
	}
}

// boolValue is a flag that requires an explicit value, so both
// "-writeimg true" and "-writeimg=True" work
type boolValue struct{ v *bool }

func (b boolValue) String() string {
	if b.v == nil {
		return "false"
	}
	return strconv.FormatBool(*b.v)
}

func (b boolValue) Set(s string) error {
	parsed, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("expected a boolean, got %q", s)
	}
	*b.v = parsed
	return nil
}

type options struct {
	configPath string
	cfg        config.Config
	set        map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("psii", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		o           = &options{set: make(map[string]bool)}
		flagCfg     config.Config
		writeImages bool
	)

	alias := func(p *string, short, long, usage string) {
		fs.StringVar(p, short, "", usage)
		fs.StringVar(p, long, "", usage+" (alias of -"+short+")")
	}
	alias(&flagCfg.Fmin, "i1", "fmin", "Fmin (minimum fluorescence) image")
	alias(&flagCfg.Fmax, "i2", "fmax", "Fmax (maximum fluorescence) image")
	alias(&flagCfg.OutDir, "o", "outdir", "output directory for images")
	alias(&flagCfg.Debug, "D", "debug", "debug mode: none or print")
	alias(&flagCfg.Result, "r", "result", "results JSON file")
	fs.StringVar(&flagCfg.Fdark, "fdark", "", "optional Fdark image; zeros when omitted")
	fs.Var(boolValue{&writeImages}, "writeimg", "write the pseudocoloured Fv/Fm image and histogram")
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&flagCfg.ResultsDB, "db", "", "SQLite database recording runs")
	fs.StringVar(&flagCfg.LogLevel, "log-level", "", "debug, info, warn or error")
	fs.IntVar(&flagCfg.Workers, "workers", 0, "ratio workers; 0 uses every CPU")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	o.cfg = config.Default()
	if o.configPath != "" {
		loaded, err := config.LoadFile(o.configPath)
		if err != nil {
			return nil, err
		}
		o.cfg = loaded
	}

	override := func(names []string, apply func()) {
		for _, n := range names {
			if o.set[n] {
				apply()
				return
			}
		}
	}
	override([]string{"i1", "fmin"}, func() { o.cfg.Fmin = flagCfg.Fmin })
	override([]string{"i2", "fmax"}, func() { o.cfg.Fmax = flagCfg.Fmax })
	override([]string{"o", "outdir"}, func() { o.cfg.OutDir = flagCfg.OutDir })
	override([]string{"D", "debug"}, func() { o.cfg.Debug = flagCfg.Debug })
	override([]string{"r", "result"}, func() { o.cfg.Result = flagCfg.Result })
	override([]string{"fdark"}, func() { o.cfg.Fdark = flagCfg.Fdark })
	override([]string{"writeimg"}, func() { o.cfg.WriteImages = writeImages })
	override([]string{"db"}, func() { o.cfg.ResultsDB = flagCfg.ResultsDB })
	override([]string{"log-level"}, func() { o.cfg.LogLevel = flagCfg.LogLevel })
	override([]string{"workers"}, func() { o.cfg.Workers = flagCfg.Workers })

	if err := o.cfg.ValidateRun(); err != nil {
		return nil, err
	}
	return o, nil
}

func run(parent context.Context, args []string, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "psii: %v\n", err)
		}
		return exitUsage
	}
	cfg := opts.cfg

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "psii: %v\n", err)
		return exitUsage
	}
	log := logger.NewZerolog(stderr, level)
	if f, ok := stderr.(*os.File); ok && f == os.Stderr {
		log = logger.NewConsoleLogger(level)
	}

	shutdowns := shutdown.NewManager(parent, log)
	shutdowns.Listen()
	defer shutdowns.Shutdown()

	memMgr := memory.NewManager(log)
	shutdowns.Register("memory", memMgr)

	bus := eventbus.NewBus(64)
	shutdowns.Register("events", bus)
	bus.Subscribe(eventbus.StageCompleted, eventbus.HandlerFunc{ID: "log", Fn: func(e eventbus.Event) {
		log.Debug("Progress", "stage completed", e.Data)
	}})

	mode, _ := debug.ParseMode(cfg.Debug)
	deps := pipeline.Dependencies{
		Logger: log,
		Memory: memMgr,
		Timing: timing.NewTracker(bus),
		Events: bus,
		Debug:  debug.NewImageWriter(mode, cfg.OutDir, log, bus),
	}

	if cfg.ResultsDB != "" {
		s, err := store.Open(cfg.ResultsDB)
		if err != nil {
			log.Error("Main", err, map[string]interface{}{"db": cfg.ResultsDB})
			return exitFailure
		}
		shutdowns.Register("store", shutdown.Func(func() {
			if err := s.Close(); err != nil {
				log.Error("Main", err, nil)
			}
		}))
		deps.Store = s
	}

	w, err := pipeline.New(cfg, deps)
	if err != nil {
		fmt.Fprintf(stderr, "psii: %v\n", err)
		return exitUsage
	}

	res, err := w.Run(shutdowns.Context())
	if err != nil {
		return exitFailure
	}

	log.Info("Main", "results written", map[string]interface{}{
		"run_id":      res.RunID,
		"result":      res.ResultPath,
		"fvfm_median": res.Analysis.Median,
	})
	return exitOK
}
