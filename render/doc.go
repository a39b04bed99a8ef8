// Package render consumes applied effect batches.
//
// Model keeps the columns foreign code created and implements
// effects.Renderer. Column ids are dense. Text for an existing column must
// replace it line for line. An animation starts from wherever the column
// currently is.
//
// View is a bubbletea program over a Model. Key presses become events:
// printable characters are delivered as alphanumeric events carrying the code
// point, the arrow keys as up and down. Esc or ctrl+c leaves the program.
//
// Recorder wraps any renderer and writes each applied call to a CBOR trace
// that ReadTrace and Replay read back.
package render
