// Package external wraps host values in foreign external objects.
//
// The class descriptor is registered lazily, once per Registry, behind an
// atomic compare-and-swap. Each wrapper is a fresh foreign object holding a
// resource handle; the collector's finalizer only counts reclaimed wrappers and
// never touches the host value.
package external
