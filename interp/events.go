package interp

import (
	"fmt"

	"github.com/wippyai/heap-bridge/errors"
)

// Event is an event code shared with foreign code. The values are fixed.
type Event uint8

const (
	EventInit Event = iota
	EventAlphaNumeric
	EventUp
	EventDown
)

var eventNames = [...]string{"init", "alphanumeric", "up", "down"}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

// ParseEvent converts a raw code, rejecting codes outside the known set.
func ParseEvent(code uint8) (Event, error) {
	if int(code) >= len(eventNames) {
		return 0, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Value(code).
			Detail("unknown event code %d", code).
			Build()
	}
	return Event(code), nil
}

// Capability is one host operation offered to foreign code. Capabilities are
// passed to the event entry point in this order.
type Capability uint8

const (
	CapSetAppState Capability = iota
	CapFreshColumn
	CapPushLine
	CapResetText
	CapSetClip
	CapRemoveClip
	CapAnimate
	CapQuit

	NumCapabilities
)

var capabilityNames = [...]string{
	"set_app_state", "fresh_column", "push_line", "reset_text",
	"set_clip", "remove_clip", "animate", "quit",
}

func (c Capability) String() string {
	if int(c) < len(capabilityNames) {
		return capabilityNames[c]
	}
	return fmt.Sprintf("capability(%d)", uint8(c))
}

// CapSet is a set of capabilities.
type CapSet uint16

// AllCaps offers every capability.
const AllCaps CapSet = 1<<NumCapabilities - 1

// Caps builds a set.
func Caps(cs ...Capability) CapSet {
	var s CapSet
	for _, c := range cs {
		s |= 1 << c
	}
	return s
}

// Has reports whether c is in s.
func (s CapSet) Has(c Capability) bool {
	return s&(1<<c) != 0
}
