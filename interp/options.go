package interp

import (
	"github.com/wippyai/heap-bridge/effects"
	"github.com/wippyai/heap-bridge/external"
)

type options struct {
	caps           map[Event]CapSet
	registry       *external.Registry
	firstColumn    effects.ColumnID
	ignoreFailures bool
}

func (o *options) capsFor(ev Event) CapSet {
	if s, ok := o.caps[ev]; ok {
		return s
	}
	return AllCaps
}

// Option configures an Interpreter.
type Option func(*options)

// WithIgnoreFailures makes Dispatch log foreign failures and continue instead
// of returning them. Effects recorded by the failed event are discarded.
func WithIgnoreFailures(ignore bool) Option {
	return func(o *options) { o.ignoreFailures = ignore }
}

// WithCapabilities limits the capabilities offered for ev. Omitted ones are
// passed as Unit.
func WithCapabilities(ev Event, caps CapSet) Option {
	return func(o *options) {
		if o.caps == nil {
			o.caps = make(map[Event]CapSet)
		}
		o.caps[ev] = caps
	}
}

// WithFirstColumnID sets the first id fresh_column assigns. Use it when the
// renderer already holds columns.
func WithFirstColumnID(id effects.ColumnID) Option {
	return func(o *options) { o.firstColumn = id }
}

// WithRegistry shares an external registry between interpreters.
func WithRegistry(r *external.Registry) Option {
	return func(o *options) { o.registry = r }
}
