// Package config handles heap-bridge.toml configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/heap-bridge/effects"
	"github.com/wippyai/heap-bridge/engine"
	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/interp"
	"github.com/wippyai/heap-bridge/render"
	"github.com/wippyai/heap-bridge/sim"
)

// Limits enforced by Validate.
const (
	MinArenaSize  = 1 << 12
	MaxArenaSize  = 1 << 31
	MaxGuestPages = 65536
)

// Config is the full configuration.
type Config struct {
	Runtime     Runtime     `toml:"runtime"`
	Interpreter Interpreter `toml:"interpreter"`
	View        View        `toml:"view"`
	Log         Log         `toml:"log"`
	Columns     []Column    `toml:"columns"`
}

// Runtime selects and sizes the foreign runtime. An empty Guest runs the
// in-process editor instead of a wasm guest.
type Runtime struct {
	Guest            string  `toml:"guest"`
	Initializer      string  `toml:"initializer"`
	Exports          Exports `toml:"exports"`
	MemoryLimitPages uint32  `toml:"memory_limit_pages"`
	ArenaSize        uint32  `toml:"arena_size"`
}

// Exports overrides guest export names. Empty entries keep the defaults.
type Exports struct {
	Memory                string `toml:"memory"`
	AllocSmall            string `toml:"alloc_small"`
	AllocObject           string `toml:"alloc_object"`
	IncRefCold            string `toml:"inc_ref_cold"`
	DecRefCold            string `toml:"dec_ref_cold"`
	RegisterExternalClass string `toml:"register_external_class"`
	Initialize            string `toml:"initialize"`
	MarkEndInitialization string `toml:"mark_end_initialization"`
	InitializeThread      string `toml:"initialize_thread"`
	FinalizeThread        string `toml:"finalize_thread"`
	OnInit                string `toml:"on_init"`
	OnEvent               string `toml:"on_event"`
}

// Interpreter configures event dispatch.
type Interpreter struct {
	FirstColumnID  uint64 `toml:"first_column_id"`
	IgnoreFailures bool   `toml:"ignore_failures"`
}

// View configures the terminal view. Cell sizes are in view units per
// terminal cell.
type View struct {
	Title      string  `toml:"title"`
	CellWidth  float64 `toml:"cell_width"`
	CellHeight float64 `toml:"cell_height"`
}

// Log configures the zap logger. File defaults to stderr.
type Log struct {
	Level       string `toml:"level"`
	File        string `toml:"file"`
	Development bool   `toml:"development"`
}

// Column is a column present before foreign code runs.
type Column struct {
	X     float64  `toml:"x"`
	Y     float64  `toml:"y"`
	Lines []string `toml:"lines"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Runtime: Runtime{
			ArenaSize: 1 << 20,
		},
		View: View{
			Title:      "heap-bridge",
			CellWidth:  10,
			CellHeight: 40,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "cannot read "+path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse error")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slices.Sort(keys)
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(keys).
			Detail("unknown keys: %s", strings.Join(keys, ", ")).
			Build()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(value any, detail string, path ...string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(path...).
		Value(value).
		Detail("%s", detail).
		Build()
}

// Validate checks ranges that the components would otherwise reject later.
func (c *Config) Validate() error {
	if c.Runtime.Guest == "" {
		if c.Runtime.ArenaSize < MinArenaSize || c.Runtime.ArenaSize > MaxArenaSize {
			return invalid(c.Runtime.ArenaSize,
				fmt.Sprintf("arena_size must be between %d and %d", MinArenaSize, MaxArenaSize),
				"runtime", "arena_size")
		}
	}
	if c.Runtime.MemoryLimitPages > MaxGuestPages {
		return invalid(c.Runtime.MemoryLimitPages,
			fmt.Sprintf("memory_limit_pages exceeds %d", MaxGuestPages),
			"runtime", "memory_limit_pages")
	}
	if c.View.CellWidth <= 0 {
		return invalid(c.View.CellWidth, "cell_width must be positive", "view", "cell_width")
	}
	if c.View.CellHeight <= 0 {
		return invalid(c.View.CellHeight, "cell_height must be positive", "view", "cell_height")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid(c.Log.Level, err.Error(), "log", "level")
	}
	return nil
}

// EngineConfig returns the wasm engine configuration.
func (c *Config) EngineConfig() *engine.Config {
	e := c.Runtime.Exports
	return &engine.Config{
		Exports: engine.Exports{
			Memory:                e.Memory,
			AllocSmall:            e.AllocSmall,
			AllocObject:           e.AllocObject,
			IncRefCold:            e.IncRefCold,
			DecRefCold:            e.DecRefCold,
			RegisterExternalClass: e.RegisterExternalClass,
			Initialize:            e.Initialize,
			MarkEndInitialization: e.MarkEndInitialization,
			InitializeThread:      e.InitializeThread,
			FinalizeThread:        e.FinalizeThread,
			OnInit:                e.OnInit,
			OnEvent:               e.OnEvent,
		},
		Initializer:      c.Runtime.Initializer,
		MemoryLimitPages: c.Runtime.MemoryLimitPages,
	}
}

// SimConfig returns the in-process runtime configuration.
func (c *Config) SimConfig() sim.Config {
	return sim.Config{ArenaSize: c.Runtime.ArenaSize}
}

// ViewConfig returns the terminal view configuration.
func (c *Config) ViewConfig() render.ViewConfig {
	return render.ViewConfig{
		Title:      c.View.Title,
		CellWidth:  float32(c.View.CellWidth),
		CellHeight: float32(c.View.CellHeight),
	}
}

// NewModel returns a render model holding the configured columns. Foreign
// columns are numbered after them.
func (c *Config) NewModel(opts ...render.ModelOption) *render.Model {
	opts = append([]render.ModelOption{render.WithBaseID(effects.ColumnID(c.Interpreter.FirstColumnID))}, opts...)
	m := render.NewModel(opts...)
	for _, col := range c.Columns {
		m.Seed(effects.Vec2{X: float32(col.X), Y: float32(col.Y)}, col.Lines)
	}
	return m
}

// InterpOptions returns the interpreter options for a model built by
// NewModel.
func (c *Config) InterpOptions(m *render.Model) []interp.Option {
	return []interp.Option{
		interp.WithFirstColumnID(m.NextID()),
		interp.WithIgnoreFailures(c.Interpreter.IgnoreFailures),
	}
}

// Logger builds the configured zap logger.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, invalid(c.Log.Level, err.Error(), "log", "level")
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	if c.Log.File != "" {
		zc.OutputPaths = []string{c.Log.File}
	}
	return zc.Build()
}
