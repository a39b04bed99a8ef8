package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/wippyai/heap-bridge/interp"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	canvasStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// frameInterval paces redraws while a column is animating.
const frameInterval = time.Second / 30

// Dispatcher delivers one event to foreign code. *interp.Interpreter
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev interp.Event, payload uint32) error
}

type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Type key.Binding
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Type, k.Up, k.Down, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultKeys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up"),
		key.WithHelp("↑", "move up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down"),
		key.WithHelp("↓", "move down"),
	),
	Type: key.NewBinding(
		key.WithKeys("a-z"),
		key.WithHelp("a-z", "type"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "esc"),
		key.WithHelp("esc", "quit"),
	),
}

// ViewConfig configures a View.
type ViewConfig struct {
	Title      string
	CellWidth  float32
	CellHeight float32
}

// View is a bubbletea model that feeds key presses to a Dispatcher and draws
// the resulting Model.
type View struct {
	ctx    context.Context
	err    error
	model  *Model
	disp   Dispatcher
	help   help.Model
	keys   keyMap
	cfg    ViewConfig
	width  int
	height int
	events int
}

type initMsg struct{}

type frameMsg time.Time

// NewView returns a view over model. Events are dispatched with ctx.
func NewView(ctx context.Context, model *Model, disp Dispatcher, cfg ViewConfig) *View {
	if cfg.CellWidth <= 0 {
		cfg.CellWidth = 10
	}
	if cfg.CellHeight <= 0 {
		cfg.CellHeight = 40
	}
	if cfg.Title == "" {
		cfg.Title = "heap-bridge"
	}
	return &View{
		ctx:    ctx,
		model:  model,
		disp:   disp,
		help:   help.New(),
		keys:   defaultKeys,
		cfg:    cfg,
		width:  80,
		height: 24,
	}
}

// Err returns the error that stopped the view, if any.
func (v *View) Err() error {
	return v.err
}

// Init delivers the init event once the program starts.
func (v *View) Init() tea.Cmd {
	return func() tea.Msg { return initMsg{} }
}

func (v *View) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case initMsg:
		return v, v.dispatch(interp.EventInit, 0)

	case tea.WindowSizeMsg:
		v.width, v.height = msg.Width, msg.Height
		v.help.Width = msg.Width

	case frameMsg:
		if v.model.Animating() {
			return v, frame()
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, v.keys.Quit):
			return v, tea.Quit
		case key.Matches(msg, v.keys.Up):
			return v, v.dispatch(interp.EventUp, 0)
		case key.Matches(msg, v.keys.Down):
			return v, v.dispatch(interp.EventDown, 0)
		case msg.Type == tea.KeySpace:
			return v, v.dispatch(interp.EventAlphaNumeric, ' ')
		case msg.Type == tea.KeyRunes && len(msg.Runes) == 1 && !msg.Alt:
			return v, v.dispatch(interp.EventAlphaNumeric, uint32(msg.Runes[0]))
		}
	}
	return v, nil
}

func (v *View) dispatch(ev interp.Event, payload uint32) tea.Cmd {
	v.events++
	if err := v.disp.Dispatch(v.ctx, ev, payload); err != nil {
		Logger().Error("dispatch failed", zap.Stringer("event", ev), zap.Error(err))
		v.err = err
		return tea.Quit
	}
	if v.model.Quitting() {
		return tea.Quit
	}
	if v.model.Animating() {
		return frame()
	}
	return nil
}

func frame() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return frameMsg(t) })
}

// View draws the title, the canvas and the key help.
func (v *View) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(v.cfg.Title))
	b.WriteString(" ")
	b.WriteString(statusStyle.Render(fmt.Sprintf("%d columns, %d events", len(v.model.columns), v.events)))
	b.WriteString("\n")

	// title, help and the canvas border take five rows
	grid := Grid{
		Cols:       max(v.width-2, 1),
		Rows:       max(v.height-5, 1),
		CellWidth:  v.cfg.CellWidth,
		CellHeight: v.cfg.CellHeight,
	}
	rows := v.model.Canvas(grid)
	for i, row := range rows {
		if pad := grid.Cols - lipgloss.Width(row); pad > 0 {
			rows[i] = row + strings.Repeat(" ", pad)
		}
	}
	b.WriteString(canvasStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	if v.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", v.err)))
	} else {
		b.WriteString(helpStyle.Render(v.help.View(v.keys)))
	}
	return b.String()
}
