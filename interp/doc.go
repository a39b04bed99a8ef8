// Package interp dispatches events to foreign code and applies the effects it
// requests.
//
// Each Dispatch moves through three states:
//
//	Idle -> Dispatching -> Applying -> Idle
//
// On entering Dispatching the interpreter builds a fresh closure for every
// capability enabled for the event. Each closure binds its own external object
// pointing at the interpreter's host handle. Closures are never reused: foreign
// code owns them once they are passed and may reclaim them after the call.
//
// Callbacks record effects in the interpreter's batch. When the entry point
// returns, a nonzero result tag is a foreign failure carrying the rendered
// diagnostic; otherwise the batch is applied to the renderer and reset.
//
// Capabilities are passed to the entry point in this order:
//
//	set_app_state  fresh_column  push_line  reset_text
//	set_clip       remove_clip   animate    quit
package interp
