package render_test

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/heap-bridge/effects"
	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/render"
)

func isKind(err error, phase errors.Phase, kind errors.Kind) bool {
	return stderrors.Is(err, &errors.Error{Phase: phase, Kind: kind})
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestModel_CreateColumn(t *testing.T) {
	m := render.NewModel(render.WithBaseID(5))

	if err := m.CreateColumn(5, effects.Vec2{X: 1, Y: 2}, []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if got := m.NextID(); got != 6 {
		t.Errorf("NextID = %d, want 6", got)
	}
	if err := m.CreateColumn(7, effects.Vec2{}, nil); !isKind(err, errors.PhaseApply, errors.KindInvalidData) {
		t.Errorf("out of sequence id: %v", err)
	}
	if err := m.CreateColumn(5, effects.Vec2{}, nil); !isKind(err, errors.PhaseApply, errors.KindInvalidData) {
		t.Errorf("duplicate id: %v", err)
	}

	c, ok := m.Column(5)
	if !ok {
		t.Fatal("column 5 missing")
	}
	if c.Pos != (effects.Vec2{X: 1, Y: 2}) || !cmp.Equal(c.Lines, []string{"a"}) {
		t.Errorf("column = %+v", c)
	}
	if _, ok := m.Column(4); ok {
		t.Error("column below base found")
	}
}

func TestModel_Seed(t *testing.T) {
	m := render.NewModel(render.WithBaseID(2))
	id := m.Seed(effects.Vec2{X: 10}, []string{"status"})
	if id != 2 || m.NextID() != 3 {
		t.Errorf("Seed = %d, NextID = %d", id, m.NextID())
	}
	if err := m.CreateColumn(3, effects.Vec2{}, nil); err != nil {
		t.Fatal(err)
	}
	if n := len(m.Columns()); n != 2 {
		t.Errorf("len(Columns) = %d", n)
	}
}

func TestModel_SetLines(t *testing.T) {
	m := render.NewModel()
	if err := m.CreateColumn(0, effects.Vec2{}, []string{"title", ""}); err != nil {
		t.Fatal(err)
	}

	if err := m.SetLines(0, effects.Replace, []string{"title", "abc"}); err != nil {
		t.Fatal(err)
	}
	c, _ := m.Column(0)
	if diff := cmp.Diff([]string{"title", "abc"}, c.Lines); diff != "" {
		t.Errorf("lines (-want +got):\n%s", diff)
	}

	tests := []struct {
		name  string
		id    effects.ColumnID
		mode  effects.AppendMode
		lines []string
		kind  errors.Kind
	}{
		{"append", 0, effects.Append, []string{"x"}, errors.KindUnsupported},
		{"line count", 0, effects.Replace, []string{"only"}, errors.KindUnsupported},
		{"unknown column", 3, effects.Replace, nil, errors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.SetLines(tt.id, tt.mode, tt.lines)
			if !isKind(err, errors.PhaseApply, tt.kind) {
				t.Errorf("SetLines = %v, want %s", err, tt.kind)
			}
		})
	}
}

func TestModel_SetClip(t *testing.T) {
	m := render.NewModel()
	if err := m.CreateColumn(0, effects.Vec2{}, nil); err != nil {
		t.Fatal(err)
	}
	r := effects.Rect{Size: effects.Vec2{X: 5, Y: 5}}
	if err := m.SetClip(0, &r); err != nil {
		t.Fatal(err)
	}
	r.Size.X = 100

	c, _ := m.Column(0)
	if c.Clip == nil || c.Clip.Size.X != 5 {
		t.Errorf("clip = %+v, want a copy", c.Clip)
	}
	if err := m.SetClip(0, nil); err != nil {
		t.Fatal(err)
	}
	if c.Clip != nil {
		t.Errorf("clip not removed")
	}
	if err := m.SetClip(9, nil); !isKind(err, errors.PhaseApply, errors.KindNotFound) {
		t.Errorf("SetClip(9) = %v", err)
	}
}

func TestModel_Animation(t *testing.T) {
	clk := newClock()
	m := render.NewModel(render.WithClock(clk.now))
	if err := m.CreateColumn(0, effects.Vec2{}, nil); err != nil {
		t.Fatal(err)
	}
	if m.Animating() {
		t.Fatal("animating before any animation")
	}

	if err := m.SetAnimation(0, effects.Animation{Target: effects.Vec2{X: 100, Y: 50}, Duration: 1}); err != nil {
		t.Fatal(err)
	}
	c, _ := m.Column(0)
	if got := c.CurPos(clk.now()); got != (effects.Vec2{}) {
		t.Errorf("start = %s", got)
	}
	if !m.Animating() {
		t.Error("not animating")
	}

	clk.advance(500 * time.Millisecond)
	if got, want := c.CurPos(clk.now()), (effects.Vec2{X: 50, Y: 25}); got != want {
		t.Errorf("halfway = %s, want %s", got, want)
	}

	// retarget mid flight
	if err := m.SetAnimation(0, effects.Animation{Duration: 1}); err != nil {
		t.Fatal(err)
	}
	clk.advance(500 * time.Millisecond)
	if got, want := c.CurPos(clk.now()), (effects.Vec2{X: 25, Y: 12.5}); got != want {
		t.Errorf("retargeted = %s, want %s", got, want)
	}

	clk.advance(time.Second)
	if got := c.CurPos(clk.now()); got != (effects.Vec2{}) {
		t.Errorf("end = %s", got)
	}
	if m.Animating() {
		t.Error("still animating")
	}

	if err := m.SetAnimation(0, effects.Animation{Duration: -1}); !isKind(err, errors.PhaseApply, errors.KindInvalidData) {
		t.Errorf("negative duration: %v", err)
	}
}

func TestModel_ZeroDurationJumps(t *testing.T) {
	clk := newClock()
	m := render.NewModel(render.WithClock(clk.now))
	if err := m.CreateColumn(0, effects.Vec2{}, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.SetAnimation(0, effects.Animation{Target: effects.Vec2{X: 7}}); err != nil {
		t.Fatal(err)
	}
	c, _ := m.Column(0)
	if got := c.CurPos(clk.now()); got != (effects.Vec2{X: 7}) {
		t.Errorf("pos = %s", got)
	}
	if m.Animating() {
		t.Error("zero duration animating")
	}
}

func TestModel_Canvas(t *testing.T) {
	m := render.NewModel()
	if err := m.CreateColumn(0, effects.Vec2{X: 20, Y: 40}, []string{"ab", "c"}); err != nil {
		t.Fatal(err)
	}
	grid := render.Grid{Cols: 10, Rows: 6, CellWidth: 10, CellHeight: 40}

	want := []string{"", "  ab", "", "  c", "", ""}
	if diff := cmp.Diff(want, m.Canvas(grid)); diff != "" {
		t.Errorf("canvas (-want +got):\n%s", diff)
	}

	clip := effects.Rect{Size: effects.Vec2{X: 30, Y: 100}}
	if err := m.SetClip(0, &clip); err != nil {
		t.Fatal(err)
	}
	want = []string{"", "  a", "", "", "", ""}
	if diff := cmp.Diff(want, m.Canvas(grid)); diff != "" {
		t.Errorf("clipped canvas (-want +got):\n%s", diff)
	}

	if got := m.Canvas(render.Grid{}); got != nil {
		t.Errorf("empty grid = %q", got)
	}
}

func TestModel_Quit(t *testing.T) {
	m := render.NewModel()
	if m.Quitting() {
		t.Fatal("quitting before Quit")
	}
	if err := m.Quit(); err != nil {
		t.Fatal(err)
	}
	if !m.Quitting() {
		t.Error("Quit not recorded")
	}
}
