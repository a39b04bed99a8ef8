package effects

import "fmt"

// ColumnID identifies a column. Ids are assigned by the batch, increase
// monotonically and are never reused.
type ColumnID uint64

// Vec2 is a position or size in view coordinates.
type Vec2 struct {
	X, Y float32
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%g, %g)", v.X, v.Y)
}

// Rect is a clip rectangle.
type Rect struct {
	Pos  Vec2
	Size Vec2
}

// AppendMode selects how new lines combine with a column's existing text.
type AppendMode uint8

const (
	Append AppendMode = iota
	Replace
)

func (m AppendMode) String() string {
	switch m {
	case Append:
		return "append"
	case Replace:
		return "replace"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Text is the pending text for one column.
type Text struct {
	Lines []string
	Mode  AppendMode
}

// Animation moves a column to Target over Duration seconds.
type Animation struct {
	Target   Vec2
	Duration float32
}

// Renderer consumes an applied batch.
type Renderer interface {
	// CreateColumn adds a column with its initial lines.
	CreateColumn(id ColumnID, pos Vec2, lines []string) error
	// SetLines updates an existing column. Apply only sends Replace here;
	// renderers reject a replacement that changes the column's line count.
	SetLines(id ColumnID, mode AppendMode, lines []string) error
	// SetClip sets the clip rectangle, or removes it when clip is nil.
	SetClip(id ColumnID, clip *Rect) error
	SetAnimation(id ColumnID, anim Animation) error
	Quit() error
}
