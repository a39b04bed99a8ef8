package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/heap-bridge/config"
	"github.com/wippyai/heap-bridge/effects"
	"github.com/wippyai/heap-bridge/engine"
	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/external"
	"github.com/wippyai/heap-bridge/interp"
	"github.com/wippyai/heap-bridge/object"
	"github.com/wippyai/heap-bridge/render"
	"github.com/wippyai/heap-bridge/resource"
	"github.com/wippyai/heap-bridge/sim"
	"github.com/wippyai/heap-bridge/trampoline"
)

// Exit codes.
const (
	exitError      = 1
	exitAllocation = 2
)

type options struct {
	wasmFile    string
	configFile  string
	traceFile   string
	events      string
	logLevel    string
	interactive bool
}

func main() {
	var opts options
	flag.StringVar(&opts.wasmFile, "wasm", "", "Path to guest wasm file (default: built-in editor)")
	flag.StringVar(&opts.configFile, "config", "", "Path to heap-bridge.toml")
	flag.StringVar(&opts.traceFile, "trace", "", "Write applied effects to this CBOR trace file")
	flag.StringVar(&opts.events, "events", "init", "Events to deliver (comma-separated: init, up, down or text)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, opts)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if isAllocation(err) {
			os.Exit(exitAllocation)
		}
		os.Exit(exitError)
	}
}

func isAllocation(err error) bool {
	var e *errors.Error
	return stderrors.As(err, &e) && e.Kind == errors.KindAllocation
}

// foreign is what both runtime bindings provide.
type foreign interface {
	object.Runtime
	object.Lifecycle
	interp.Entry
}

func loadConfig(opts options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configFile != "" {
		var err error
		if cfg, err = config.Load(opts.configFile); err != nil {
			return nil, err
		}
	}
	if opts.wasmFile != "" {
		cfg.Runtime.Guest = opts.wasmFile
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func installLogger(l *zap.Logger) {
	engine.SetLogger(l.Named("engine"))
	external.SetLogger(l.Named("external"))
	interp.SetLogger(l.Named("interp"))
	render.SetLogger(l.Named("render"))
	sim.SetLogger(l.Named("sim"))
}

func openRuntime(ctx context.Context, cfg *config.Config, funcs *trampoline.Table) (foreign, func(context.Context) error, error) {
	if cfg.Runtime.Guest == "" {
		rt := sim.New(cfg.SimConfig(), funcs)
		rt.SetProgram(sim.NewEditor())
		return rt, func(context.Context) error { return nil }, nil
	}

	data, err := os.ReadFile(cfg.Runtime.Guest)
	if err != nil {
		return nil, nil, fmt.Errorf("read file: %w", err)
	}
	e, err := engine.New(ctx, cfg.EngineConfig(), funcs)
	if err != nil {
		return nil, nil, fmt.Errorf("create engine: %w", err)
	}
	if err := e.Load(ctx, data); err != nil {
		if cerr := e.Close(ctx); cerr != nil {
			engine.Logger().Warn("close engine after failed load", zap.Error(cerr))
		}
		return nil, nil, fmt.Errorf("load %s: %w", cfg.Runtime.Guest, err)
	}
	return e, e.Close, nil
}

func run(ctx context.Context, opts options) (err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if opts.interactive && !(term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))) {
		return fmt.Errorf("interactive mode needs a terminal")
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	installLogger(logger)

	funcs := trampoline.NewTable()
	rt, closeRuntime, err := openRuntime(ctx, cfg, funcs)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeRuntime(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := rt.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := rt.MarkEndInitialization(ctx); err != nil {
		return fmt.Errorf("mark end of initialization: %w", err)
	}

	hosts := resource.NewTable()
	registry := external.NewRegistry(funcs, hosts)
	defer func() {
		external.Logger().Debug("closing host table", zap.Int("live", hosts.Len()))
		if cerr := hosts.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	model := cfg.NewModel()
	var renderer effects.Renderer = model
	if opts.traceFile != "" {
		f, err := os.Create(opts.traceFile)
		if err != nil {
			return fmt.Errorf("create trace: %w", err)
		}
		defer f.Close()
		renderer = render.NewRecorder(f, model)
	}

	return object.WithThread(ctx, rt, func(ctx context.Context) (err error) {
		interpOpts := append(cfg.InterpOptions(model), interp.WithRegistry(registry))
		in, err := interp.New(rt, rt, funcs, renderer, interpOpts...)
		if err != nil {
			return err
		}
		if err := in.Init(ctx); err != nil {
			return fmt.Errorf("init: %w", err)
		}
		defer func() {
			if cerr := in.Close(ctx); cerr != nil && err == nil {
				err = cerr
			}
		}()

		if opts.interactive {
			return runInteractive(ctx, model, in, cfg.ViewConfig())
		}
		if err := deliver(ctx, in, model, opts.events); err != nil {
			return err
		}
		grid := render.Grid{Cols: 80, Rows: 24, CellWidth: float32(cfg.View.CellWidth), CellHeight: float32(cfg.View.CellHeight)}
		printCanvas(os.Stdout, model.Canvas(grid))

		dispatches, failures := in.Stats()
		logger.Info("session finished",
			zap.Int("dispatches", dispatches),
			zap.Int("failures", failures),
			zap.Bool("quit", model.Quitting()))
		return nil
	})
}

type event struct {
	ev      interp.Event
	payload uint32
}

// parseEvents reads a comma-separated event list. The names init, up and down
// select those events; any other token is typed one character at a time.
func parseEvents(s string) []event {
	var events []event
	for _, tok := range strings.Split(s, ",") {
		switch tok {
		case "":
		case "init":
			events = append(events, event{ev: interp.EventInit})
		case "up":
			events = append(events, event{ev: interp.EventUp})
		case "down":
			events = append(events, event{ev: interp.EventDown})
		default:
			for _, r := range tok {
				events = append(events, event{ev: interp.EventAlphaNumeric, payload: uint32(r)})
			}
		}
	}
	return events
}

func deliver(ctx context.Context, d render.Dispatcher, model *render.Model, list string) error {
	for _, e := range parseEvents(list) {
		if model.Quitting() {
			break
		}
		if err := d.Dispatch(ctx, e.ev, e.payload); err != nil {
			return fmt.Errorf("dispatch %s: %w", e.ev, err)
		}
	}
	return nil
}

func printCanvas(w io.Writer, rows []string) {
	last := len(rows)
	for last > 0 && rows[last-1] == "" {
		last--
	}
	for _, row := range rows[:last] {
		fmt.Fprintln(w, row)
	}
}
