package render

import (
	"math"
	"strings"
	"unicode"
)

// Grid maps view coordinates onto terminal cells.
type Grid struct {
	Cols       int
	Rows       int
	CellWidth  float32
	CellHeight float32
}

// Canvas draws every column at its current position into g and returns one
// string per row with trailing blanks trimmed. Characters outside a column's
// clip are not drawn.
func (m *Model) Canvas(g Grid) []string {
	if g.Cols <= 0 || g.Rows <= 0 || g.CellWidth <= 0 || g.CellHeight <= 0 {
		return nil
	}
	cells := make([][]rune, g.Rows)
	for i := range cells {
		cells[i] = []rune(strings.Repeat(" ", g.Cols))
	}

	now := m.now()
	for _, c := range m.columns {
		pos := c.CurPos(now)
		for i, line := range c.Lines {
			y := pos.Y + float32(i*LineHeight)
			row := cell(y, g.CellHeight)
			if row < 0 || row >= g.Rows {
				continue
			}
			x := pos.X
			for _, r := range line {
				if col := cell(x, g.CellWidth); col >= 0 && col < g.Cols && unicode.IsPrint(r) && c.visible(x, y) {
					cells[row][col] = r
				}
				x += g.CellWidth
			}
		}
	}

	out := make([]string, g.Rows)
	for i, row := range cells {
		out[i] = strings.TrimRight(string(row), " ")
	}
	return out
}

func cell(v, size float32) int {
	return int(math.Floor(float64(v / size)))
}

func (c *Column) visible(x, y float32) bool {
	if c.Clip == nil {
		return true
	}
	r := c.Clip
	return x >= r.Pos.X && x < r.Pos.X+r.Size.X &&
		y >= r.Pos.Y && y < r.Pos.Y+r.Size.Y
}
