package render

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/heap-bridge/effects"
	"github.com/wippyai/heap-bridge/errors"
)

// OpKind identifies a recorded renderer call.
type OpKind uint8

const (
	OpCreateColumn OpKind = iota + 1
	OpSetLines
	OpSetClip
	OpSetAnimation
	OpQuit
)

func (k OpKind) String() string {
	switch k {
	case OpCreateColumn:
		return "create_column"
	case OpSetLines:
		return "set_lines"
	case OpSetClip:
		return "set_clip"
	case OpSetAnimation:
		return "set_animation"
	case OpQuit:
		return "quit"
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Op is one renderer call as written to a trace. Pos holds the column
// position, the clip origin or the animation target; a set_clip without Size
// removes the clip.
type Op struct {
	Kind     OpKind             `cbor:"1,keyasint"`
	Column   uint64             `cbor:"2,keyasint,omitempty"`
	Pos      []float32          `cbor:"3,keyasint,omitempty"`
	Size     []float32          `cbor:"4,keyasint,omitempty"`
	Lines    []string           `cbor:"5,keyasint,omitempty"`
	Mode     effects.AppendMode `cbor:"6,keyasint,omitempty"`
	Duration float32            `cbor:"7,keyasint,omitempty"`
}

var traceEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("render: failed to create CBOR enc mode: %v", err))
	}
	traceEncMode = em
}

// Recorder forwards renderer calls to another renderer and appends each one
// that succeeded to a CBOR trace. It checks set_lines against the line counts
// it recorded, so a trace written without a next renderer is still replayable.
type Recorder struct {
	next  effects.Renderer
	enc   *cbor.Encoder
	lines map[effects.ColumnID]int
	ops   int
}

var _ effects.Renderer = (*Recorder)(nil)

// NewRecorder writes the trace to w. next may be nil.
func NewRecorder(w io.Writer, next effects.Renderer) *Recorder {
	return &Recorder{next: next, enc: traceEncMode.NewEncoder(w), lines: make(map[effects.ColumnID]int)}
}

// Ops returns the number of operations written.
func (r *Recorder) Ops() int {
	return r.ops
}

func (r *Recorder) write(op Op) error {
	if err := r.enc.Encode(op); err != nil {
		return errors.Wrap(errors.PhaseApply, errors.KindInvalidData, err, "write trace "+op.Kind.String())
	}
	r.ops++
	return nil
}

func (r *Recorder) CreateColumn(id effects.ColumnID, pos effects.Vec2, lines []string) error {
	if r.next != nil {
		if err := r.next.CreateColumn(id, pos, lines); err != nil {
			return err
		}
	}
	r.lines[id] = len(lines)
	return r.write(Op{Kind: OpCreateColumn, Column: uint64(id), Pos: vec(pos), Lines: lines})
}

// SetLines rejects edits the model would reject for columns this recorder has
// seen created. Other columns are left to next.
func (r *Recorder) SetLines(id effects.ColumnID, mode effects.AppendMode, lines []string) error {
	if have, ok := r.lines[id]; ok {
		if err := checkReplace(id, mode, have, len(lines)); err != nil {
			return err
		}
	}
	if r.next != nil {
		if err := r.next.SetLines(id, mode, lines); err != nil {
			return err
		}
	}
	return r.write(Op{Kind: OpSetLines, Column: uint64(id), Mode: mode, Lines: lines})
}

func (r *Recorder) SetClip(id effects.ColumnID, clip *effects.Rect) error {
	if r.next != nil {
		if err := r.next.SetClip(id, clip); err != nil {
			return err
		}
	}
	op := Op{Kind: OpSetClip, Column: uint64(id)}
	if clip != nil {
		op.Pos, op.Size = vec(clip.Pos), vec(clip.Size)
	}
	return r.write(op)
}

func (r *Recorder) SetAnimation(id effects.ColumnID, a effects.Animation) error {
	if r.next != nil {
		if err := r.next.SetAnimation(id, a); err != nil {
			return err
		}
	}
	return r.write(Op{Kind: OpSetAnimation, Column: uint64(id), Pos: vec(a.Target), Duration: a.Duration})
}

func (r *Recorder) Quit() error {
	if r.next != nil {
		if err := r.next.Quit(); err != nil {
			return err
		}
	}
	return r.write(Op{Kind: OpQuit})
}

func vec(v effects.Vec2) []float32 {
	return []float32{v.X, v.Y}
}

// ReadTrace decodes every operation in a trace.
func ReadTrace(rd io.Reader) ([]Op, error) {
	dec := cbor.NewDecoder(rd)
	var ops []Op
	for {
		var op Op
		err := dec.Decode(&op)
		if stderrors.Is(err, io.EOF) {
			return ops, nil
		}
		if err != nil {
			return ops, errors.New(errors.PhaseApply, errors.KindInvalidData).
				Path("trace", fmt.Sprint(len(ops))).
				Cause(err).
				Detail("decode trace operation %d", len(ops)).
				Build()
		}
		ops = append(ops, op)
	}
}

// Replay applies ops to r in order.
func Replay(ops []Op, r effects.Renderer) error {
	for i, op := range ops {
		id := effects.ColumnID(op.Column)
		var err error
		switch op.Kind {
		case OpCreateColumn:
			var pos effects.Vec2
			if pos, err = toVec(op.Pos); err == nil {
				err = r.CreateColumn(id, pos, op.Lines)
			}
		case OpSetLines:
			err = r.SetLines(id, op.Mode, op.Lines)
		case OpSetClip:
			if op.Size == nil {
				err = r.SetClip(id, nil)
				break
			}
			var rect effects.Rect
			if rect.Pos, err = toVec(op.Pos); err == nil {
				if rect.Size, err = toVec(op.Size); err == nil {
					err = r.SetClip(id, &rect)
				}
			}
		case OpSetAnimation:
			var target effects.Vec2
			if target, err = toVec(op.Pos); err == nil {
				err = r.SetAnimation(id, effects.Animation{Target: target, Duration: op.Duration})
			}
		case OpQuit:
			err = r.Quit()
		default:
			err = errors.InvalidData(errors.PhaseApply, []string{"trace"}, "unknown operation "+op.Kind.String())
		}
		if err != nil {
			return fmt.Errorf("replay operation %d (%s): %w", i, op.Kind, err)
		}
	}
	return nil
}

func toVec(v []float32) (effects.Vec2, error) {
	if len(v) != 2 {
		return effects.Vec2{}, errors.InvalidData(errors.PhaseApply, []string{"trace", "vec"},
			fmt.Sprintf("vector has %d components", len(v)))
	}
	return effects.Vec2{X: v[0], Y: v[1]}, nil
}
