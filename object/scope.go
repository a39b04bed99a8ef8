package object

import (
	"context"
	stderrors "errors"
)

// Scope tracks owned references and releases them together. Every handle added
// with Hold or Adopt is released exactly once by Close, in reverse order.
type Scope struct {
	rt     Runtime
	owned  []Handle
	closed bool
}

// NewScope returns an empty scope over rt.
func NewScope(rt Runtime) *Scope {
	return &Scope{rt: rt}
}

// Hold retains h and tracks the new reference.
func (s *Scope) Hold(ctx context.Context, h Handle) error {
	if err := Retain(ctx, s.rt, h); err != nil {
		return err
	}
	s.owned = append(s.owned, h)
	return nil
}

// Adopt tracks a reference the caller already owns.
func (s *Scope) Adopt(h Handle) Handle {
	s.owned = append(s.owned, h)
	return h
}

// Forget stops tracking the most recent reference to h, transferring it back to
// the caller. It reports whether h was tracked.
func (s *Scope) Forget(h Handle) bool {
	for i := len(s.owned) - 1; i >= 0; i-- {
		if s.owned[i] == h {
			s.owned = append(s.owned[:i], s.owned[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of tracked references.
func (s *Scope) Len() int {
	return len(s.owned)
}

// Close releases every tracked reference. Later calls are no-ops.
func (s *Scope) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.owned) - 1; i >= 0; i-- {
		if err := Release(ctx, s.rt, s.owned[i]); err != nil {
			errs = append(errs, err)
		}
	}
	s.owned = nil
	return stderrors.Join(errs...)
}
