// Package eeprom provides the small byte-addressable non-volatile memory the
// node keeps its configuration record in.
package eeprom

import (
	"errors"
	"fmt"
	"sync"
)

// Size is the EEPROM capacity in bytes.
const Size = 1024

var (
	ErrOutOfRange = errors.New("eeprom access out of range")
	ErrWriteLimit = errors.New("eeprom write limit reached")
)

// Store is a block-addressed non-volatile memory.
type Store interface {
	WriteBlock(offset int, data []byte) error
	ReadBlock(offset int, buf []byte) error
}

func checkRange(offset, n int) error {
	if offset < 0 || n < 0 || offset+n > Size {
		return fmt.Errorf("%w: offset %d len %d", ErrOutOfRange, offset, n)
	}
	return nil
}

// writeGuard counts block writes for this boot and refuses once maxWrites
// is reached. Zero means unlimited.
type writeGuard struct {
	maxWrites int
	writes    int
}

func (g *writeGuard) allow() error {
	if g.maxWrites > 0 && g.writes >= g.maxWrites {
		return fmt.Errorf("%w (%d)", ErrWriteLimit, g.maxWrites)
	}
	g.writes++
	return nil
}

// Memory is a volatile Store for tests. Unwritten cells read 0xFF.
type Memory struct {
	mu    sync.Mutex
	data  [Size]byte
	guard writeGuard
}

// NewMemory returns an erased in-memory EEPROM.
func NewMemory(maxWrites int) *Memory {
	m := &Memory{guard: writeGuard{maxWrites: maxWrites}}
	for i := range m.data {
		m.data[i] = 0xFF
	}
	return m
}

// WriteBlock copies data to offset.
func (m *Memory) WriteBlock(offset int, data []byte) error {
	if err := checkRange(offset, len(data)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard.allow(); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

// ReadBlock fills buf from offset.
func (m *Memory) ReadBlock(offset int, buf []byte) error {
	if err := checkRange(offset, len(buf)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	copy(buf, m.data[offset:])
	return nil
}

// Writes returns the number of block writes so far.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guard.writes
}
