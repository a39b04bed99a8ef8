package effects

import (
	stderrors "errors"
	"fmt"
	"slices"

	"github.com/wippyai/heap-bridge/errors"
	"github.com/wippyai/heap-bridge/object"
)

// Batch accumulates the effects requested during one event. It is mutated only
// by callbacks while a foreign call is in flight and drained by Apply.
type Batch struct {
	text       map[ColumnID]*Text
	clip       map[ColumnID]*Rect
	animate    map[ColumnID]Animation
	newColumns map[ColumnID]Vec2
	order      []ColumnID
	nextID     ColumnID
	appState   object.Handle
	quit       bool
}

// NewBatch returns an empty batch whose first column id is first.
func NewBatch(first ColumnID) *Batch {
	b := &Batch{nextID: first, appState: object.Unit}
	b.Reset()
	return b
}

// NextID returns the id the next FreshColumn will assign.
func (b *Batch) NextID() ColumnID {
	return b.nextID
}

// FreshColumn records a new column at pos and returns its id.
func (b *Batch) FreshColumn(pos Vec2) ColumnID {
	id := b.nextID
	b.nextID++
	b.newColumns[id] = pos
	b.order = append(b.order, id)
	return id
}

// SetLines records text for id. Replace discards anything pending for id;
// Append extends it.
func (b *Batch) SetLines(id ColumnID, mode AppendMode, lines []string) {
	if t, ok := b.text[id]; ok && mode == Append {
		t.Lines = append(t.Lines, lines...)
		return
	}
	b.text[id] = &Text{Mode: mode, Lines: slices.Clone(lines)}
}

// PushLine appends one line to id.
func (b *Batch) PushLine(id ColumnID, line string) {
	b.SetLines(id, Append, []string{line})
}

// ResetText replaces the text of id with nothing. Lines pushed afterwards in
// the same batch extend the empty replacement.
func (b *Batch) ResetText(id ColumnID) {
	b.text[id] = &Text{Mode: Replace, Lines: []string{}}
}

// SetClip records a clip rectangle for id.
func (b *Batch) SetClip(id ColumnID, r Rect) {
	b.clip[id] = &r
}

// RemoveClip records removal of id's clip.
func (b *Batch) RemoveClip(id ColumnID) {
	b.clip[id] = nil
}

// Animate records an animation for id.
func (b *Batch) Animate(id ColumnID, a Animation) {
	b.animate[id] = a
}

// Quit records a quit request.
func (b *Batch) Quit() {
	b.quit = true
}

// ShouldQuit reports whether a quit was requested.
func (b *Batch) ShouldQuit() bool {
	return b.quit
}

// Text returns the pending text for id.
func (b *Batch) Text(id ColumnID) (Text, bool) {
	t, ok := b.text[id]
	if !ok {
		return Text{}, false
	}
	return Text{Mode: t.Mode, Lines: slices.Clone(t.Lines)}, true
}

// NewColumns returns the ids created in this batch in creation order.
func (b *Batch) NewColumns() []ColumnID {
	return slices.Clone(b.order)
}

// SetAppState stores the foreign application state and returns the previous
// one. The batch does not count references; the caller owns both handles.
func (b *Batch) SetAppState(h object.Handle) object.Handle {
	prev := b.appState
	b.appState = h
	return prev
}

// AppState returns the current foreign application state.
func (b *Batch) AppState() object.Handle {
	return b.appState
}

// Empty reports whether the batch holds no effects.
func (b *Batch) Empty() bool {
	return len(b.order) == 0 && len(b.text) == 0 && len(b.clip) == 0 &&
		len(b.animate) == 0 && !b.quit
}

// Reset clears every pending effect. The id counter and app state are kept.
func (b *Batch) Reset() {
	b.text = make(map[ColumnID]*Text)
	b.clip = make(map[ColumnID]*Rect)
	b.animate = make(map[ColumnID]Animation)
	b.newColumns = make(map[ColumnID]Vec2)
	b.order = nil
	b.quit = false
}

// Apply hands the batch to r and resets it, whether or not r fails.
//
// New columns come first, in creation order, carrying their text. Text for
// columns that existed before the batch follows; only Replace is supported
// there. Clips, animations and quit come last. Ids within each map are applied
// in ascending order.
func (b *Batch) Apply(r Renderer) error {
	defer b.Reset()

	for _, id := range b.order {
		var lines []string
		if t, ok := b.text[id]; ok {
			lines = t.Lines
		}
		if err := r.CreateColumn(id, b.newColumns[id], lines); err != nil {
			return applyErr(err, "create column", id)
		}
	}

	for _, id := range sortedKeys(b.text) {
		if _, ok := b.newColumns[id]; ok {
			continue
		}
		t := b.text[id]
		if t.Mode != Replace {
			return errors.New(errors.PhaseApply, errors.KindUnsupported).
				Path("text", fmt.Sprint(id)).
				Value(id).
				Detail("%s to existing column %d", t.Mode, id).
				Build()
		}
		if err := r.SetLines(id, t.Mode, t.Lines); err != nil {
			return applyErr(err, "set lines", id)
		}
	}

	for _, id := range sortedKeys(b.clip) {
		if err := r.SetClip(id, b.clip[id]); err != nil {
			return applyErr(err, "set clip", id)
		}
	}

	for _, id := range sortedKeys(b.animate) {
		if err := r.SetAnimation(id, b.animate[id]); err != nil {
			return applyErr(err, "set animation", id)
		}
	}

	if b.quit {
		if err := r.Quit(); err != nil {
			return errors.Wrap(errors.PhaseApply, errors.KindInvalidData, err, "quit")
		}
	}
	return nil
}

func applyErr(err error, op string, id ColumnID) error {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Phase == errors.PhaseApply {
		return err
	}
	return errors.New(errors.PhaseApply, errors.KindInvalidData).
		Path(op, fmt.Sprint(id)).
		Cause(err).
		Detail("%s %d", op, id).
		Build()
}

func sortedKeys[V any](m map[ColumnID]V) []ColumnID {
	keys := make([]ColumnID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
