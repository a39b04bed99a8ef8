package sim

import (
	"encoding/binary"
	"fmt"
)

// Memory is a fixed-size little-endian byte arena.
type Memory struct {
	buf []byte
}

// NewMemory allocates an arena of size bytes.
func NewMemory(size uint32) *Memory {
	return &Memory{buf: make([]byte, size)}
}

// Size returns the arena size in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.buf))
}

func (m *Memory) span(offset, length uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[offset:end:end], true
}

// Read returns a view of length bytes at offset.
func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	b, ok := m.span(offset, length)
	if !ok {
		return nil, fmt.Errorf("memory read out of bounds: offset=%d, length=%d", offset, length)
	}
	return b, nil
}

// Write copies data to offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	b, ok := m.span(offset, uint32(len(data)))
	if !ok {
		return fmt.Errorf("memory write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	copy(b, data)
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	b, ok := m.span(offset, 1)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return b[0], nil
}

// ReadU16 reads an unsigned 16-bit little-endian value.
func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	b, ok := m.span(offset, 2)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	b, ok := m.span(offset, 4)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	b, ok := m.span(offset, 8)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteU8 writes an unsigned 8-bit value.
func (m *Memory) WriteU8(offset uint32, value uint8) error {
	b, ok := m.span(offset, 1)
	if !ok {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	b[0] = value
	return nil
}

// WriteU16 writes an unsigned 16-bit little-endian value.
func (m *Memory) WriteU16(offset uint32, value uint16) error {
	b, ok := m.span(offset, 2)
	if !ok {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	binary.LittleEndian.PutUint16(b, value)
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Memory) WriteU32(offset uint32, value uint32) error {
	b, ok := m.span(offset, 4)
	if !ok {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	binary.LittleEndian.PutUint32(b, value)
	return nil
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (m *Memory) WriteU64(offset uint32, value uint64) error {
	b, ok := m.span(offset, 8)
	if !ok {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	binary.LittleEndian.PutUint64(b, value)
	return nil
}

// fill overwrites a block with a poison byte so stale reads stand out.
func (m *Memory) fill(offset, length uint32, v byte) {
	if b, ok := m.span(offset, length); ok {
		for i := range b {
			b[i] = v
		}
	}
}
