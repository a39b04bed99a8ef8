// Package effects is the command buffer between foreign callbacks and the
// renderer.
//
// Callbacks record effects in a Batch while a foreign call is running. When
// control returns, Apply hands them to a Renderer in a fixed order and resets
// the batch:
//
//	b := effects.NewBatch(0)
//	id := b.FreshColumn(effects.Vec2{X: 10, Y: 10})
//	b.SetLines(id, effects.Replace, []string{"a", "b"})
//	err := b.Apply(renderer)
//
// Editing a column that existed before the batch supports only Replace.
// Anything else fails with an unsupported error instead of being applied.
package effects
