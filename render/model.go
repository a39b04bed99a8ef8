package render

import (
	"fmt"
	"slices"
	"time"

	"github.com/wippyai/heap-bridge/effects"
	"github.com/wippyai/heap-bridge/errors"
)

// LineHeight is the vertical distance between two lines of a column, in view
// coordinates.
const LineHeight = 80

// Column is the renderer's copy of one column.
type Column struct {
	Lines []string
	Clip  *effects.Rect
	anim  *motion
	ID    effects.ColumnID
	Pos   effects.Vec2
}

type motion struct {
	start    time.Time
	from     effects.Vec2
	duration time.Duration
}

// CurPos returns the column position at t, interpolating an animation in
// flight linearly from where it started towards Pos.
func (c *Column) CurPos(t time.Time) effects.Vec2 {
	if c.anim == nil || c.anim.duration <= 0 {
		return c.Pos
	}
	elapsed := t.Sub(c.anim.start)
	if elapsed >= c.anim.duration {
		return c.Pos
	}
	if elapsed < 0 {
		elapsed = 0
	}
	f := float32(elapsed.Seconds() / c.anim.duration.Seconds())
	return effects.Vec2{
		X: c.anim.from.X + (c.Pos.X-c.anim.from.X)*f,
		Y: c.anim.from.Y + (c.Pos.Y-c.anim.from.Y)*f,
	}
}

// Animating reports whether the column is still moving at t.
func (c *Column) Animating(t time.Time) bool {
	return c.anim != nil && t.Sub(c.anim.start) < c.anim.duration
}

// Model holds every column the foreign program created. It implements
// effects.Renderer.
//
// Column ids are dense: the n-th column created has id base+n.
type Model struct {
	now      func() time.Time
	columns  []*Column
	base     effects.ColumnID
	quitting bool
}

var _ effects.Renderer = (*Model)(nil)

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithClock replaces time.Now for animation timing.
func WithClock(now func() time.Time) ModelOption {
	return func(m *Model) { m.now = now }
}

// WithBaseID sets the id of the first column.
func WithBaseID(id effects.ColumnID) ModelOption {
	return func(m *Model) { m.base = id }
}

// NewModel returns an empty model.
func NewModel(opts ...ModelOption) *Model {
	m := &Model{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NextID returns the id the next created column must carry.
func (m *Model) NextID() effects.ColumnID {
	return m.base + effects.ColumnID(len(m.columns))
}

// Seed adds a column that exists before any foreign code runs and returns its
// id. The interpreter's first column id must be NextID after seeding.
func (m *Model) Seed(pos effects.Vec2, lines []string) effects.ColumnID {
	id := m.NextID()
	m.columns = append(m.columns, &Column{ID: id, Pos: pos, Lines: slices.Clone(lines)})
	return id
}

// Columns returns the columns in id order.
func (m *Model) Columns() []*Column {
	return slices.Clone(m.columns)
}

// Column returns the column with id.
func (m *Model) Column(id effects.ColumnID) (*Column, bool) {
	if id < m.base || id-m.base >= effects.ColumnID(len(m.columns)) {
		return nil, false
	}
	return m.columns[id-m.base], true
}

// Quitting reports whether a quit was applied.
func (m *Model) Quitting() bool {
	return m.quitting
}

// Animating reports whether any column is moving now.
func (m *Model) Animating() bool {
	now := m.now()
	for _, c := range m.columns {
		if c.Animating(now) {
			return true
		}
	}
	return false
}

// Now returns the model clock.
func (m *Model) Now() time.Time {
	return m.now()
}

func (m *Model) CreateColumn(id effects.ColumnID, pos effects.Vec2, lines []string) error {
	if want := m.NextID(); id != want {
		return errors.New(errors.PhaseApply, errors.KindInvalidData).
			Path("column", fmt.Sprint(id)).
			Value(id).
			Detail("column id %d out of sequence, want %d", id, want).
			Build()
	}
	m.columns = append(m.columns, &Column{ID: id, Pos: pos, Lines: slices.Clone(lines)})
	return nil
}

func (m *Model) SetLines(id effects.ColumnID, mode effects.AppendMode, lines []string) error {
	c, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := checkReplace(id, mode, len(c.Lines), len(lines)); err != nil {
		return err
	}
	c.Lines = slices.Clone(lines)
	return nil
}

// checkReplace enforces the only supported edit of an existing column: a
// Replace keeping its line count.
func checkReplace(id effects.ColumnID, mode effects.AppendMode, have, got int) error {
	if mode != effects.Replace {
		return errors.New(errors.PhaseApply, errors.KindUnsupported).
			Path("column", fmt.Sprint(id)).
			Detail("%s to existing column %d", mode, id).
			Build()
	}
	if got != have {
		return errors.New(errors.PhaseApply, errors.KindUnsupported).
			Path("column", fmt.Sprint(id)).
			Detail("column %d has %d lines, replacement has %d", id, have, got).
			Build()
	}
	return nil
}

func (m *Model) SetClip(id effects.ColumnID, clip *effects.Rect) error {
	c, err := m.lookup(id)
	if err != nil {
		return err
	}
	if clip != nil {
		r := *clip
		clip = &r
	}
	c.Clip = clip
	return nil
}

// SetAnimation starts moving the column from where it is now.
func (m *Model) SetAnimation(id effects.ColumnID, a effects.Animation) error {
	c, err := m.lookup(id)
	if err != nil {
		return err
	}
	if a.Duration < 0 {
		return errors.New(errors.PhaseApply, errors.KindInvalidData).
			Path("column", fmt.Sprint(id), "duration").
			Value(a.Duration).
			Detail("negative animation duration %g", a.Duration).
			Build()
	}
	now := m.now()
	c.anim = &motion{
		start:    now,
		from:     c.CurPos(now),
		duration: time.Duration(float64(a.Duration) * float64(time.Second)),
	}
	c.Pos = a.Target
	return nil
}

func (m *Model) Quit() error {
	m.quitting = true
	return nil
}

func (m *Model) lookup(id effects.ColumnID) (*Column, error) {
	c, ok := m.Column(id)
	if !ok {
		return nil, errors.NotFound(errors.PhaseApply, "column", fmt.Sprint(id))
	}
	return c, nil
}
