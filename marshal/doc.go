// Package marshal converts between Go values and foreign heap values.
//
// Integers may be inline or boxed depending on magnitude, so UnboxU64 checks
// the encoding of every handle. Strings are read through borrowed views that
// must not outlive the reference the caller holds:
//
//	v, err := marshal.ReadString(mem, h)
//	if err != nil {
//		return err
//	}
//	line := v.String() // copy before releasing h
//
// IO results are inspected with Result; a nonzero constructor tag is a
// failure whose payload can be rendered with Describe.
package marshal
