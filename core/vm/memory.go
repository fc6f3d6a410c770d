package vm

// memory.go implements the frame memory model: a lazily expanded,
// zero-initialized, word-aligned byte buffer with the Yellow Paper
// quadratic expansion cost. Child frames obtain isolated views backed by
// the same allocation through a checkpoint offset, so a call tree reuses
// one growing buffer instead of allocating per frame.

import "math"

// memoryArena is the allocation shared by all frames of a call tree.
type memoryArena struct {
	buf []byte
}

// grow extends the arena to at least size bytes, zero-filling new space.
func (a *memoryArena) grow(size uint64) {
	if uint64(len(a.buf)) < size {
		a.buf = append(a.buf, make([]byte, size-uint64(len(a.buf)))...)
	}
}

// Memory is one frame's view of the shared arena. Offsets are relative to
// the checkpoint; a child never observes parent bytes below its base, and
// its expansion cost restarts from zero.
type Memory struct {
	arena *memoryArena
	base  uint64 // checkpoint offset into the arena
	size  uint64 // frame-visible size; always a multiple of 32

	// Cached result of the last quadratic cost computation, so
	// sequential expansions only pay the delta.
	lastWords   uint64
	lastGasCost uint64

	limit uint64
}

// NewMemory returns a fresh frame memory with the default size limit.
func NewMemory() *Memory {
	return NewMemoryWithLimit(DefaultMemoryLimit)
}

// NewMemoryWithLimit returns a fresh frame memory bounded by limit bytes.
func NewMemoryWithLimit(limit uint64) *Memory {
	return &Memory{arena: &memoryArena{}, limit: limit}
}

// Child returns an isolated view for a nested frame, checkpointed at the
// current end of this frame's region.
func (m *Memory) Child() *Memory {
	return &Memory{
		arena: m.arena,
		base:  m.base + m.size,
		limit: m.limit,
	}
}

// Size returns the frame-visible memory size in bytes.
func (m *Memory) Size() uint64 {
	return m.size
}

// expansionCost returns the incremental gas to grow the frame view to hold
// end bytes, without growing anything.
func (m *Memory) expansionCost(end uint64) (uint64, error) {
	if end <= m.size {
		return 0, nil
	}
	if end > m.limit {
		return 0, ErrMemoryLimitExceeded
	}
	words := toWordSize(end)
	cost, ok := memoryCost(words)
	if !ok {
		return 0, ErrGasUintOverflow
	}
	return cost - m.lastGasCost, nil
}

// ensure grows the frame view to hold end bytes (rounded up to a 32-byte
// boundary) and returns the incremental expansion cost. Newly visible
// bytes are zero, even if the arena was previously used by a returned
// child frame. The size never shrinks within a frame.
func (m *Memory) ensure(end uint64) (uint64, error) {
	if end <= m.size {
		return 0, nil
	}
	if end > m.limit {
		return 0, ErrMemoryLimitExceeded
	}
	words := toWordSize(end)
	cost, ok := memoryCost(words)
	if !ok {
		return 0, ErrGasUintOverflow
	}
	delta := cost - m.lastGasCost

	oldSize := m.size
	m.size = words * 32
	m.lastWords = words
	m.lastGasCost = cost

	m.arena.grow(m.base + m.size)
	// A returned child may have written beyond our old size; the newly
	// visible region must read as zero.
	clear(m.arena.buf[m.base+oldSize : m.base+m.size])
	return delta, nil
}

// view returns the frame-relative byte slice [offset, offset+size). The
// region must already be within the frame size.
func (m *Memory) view(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	if offset+size > m.size {
		panic("memory: out of bounds access")
	}
	return m.arena.buf[m.base+offset : m.base+offset+size]
}

// GetCopy returns a copy of the region [offset, offset+size).
func (m *Memory) GetCopy(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	out := make([]byte, size)
	copy(out, m.view(offset, size))
	return out
}

// Set copies value into memory at offset.
func (m *Memory) Set(offset uint64, value []byte) {
	if len(value) == 0 {
		return
	}
	copy(m.view(offset, uint64(len(value))), value)
}

// SetByte writes a single byte at offset.
func (m *Memory) SetByte(offset uint64, b byte) {
	m.view(offset, 1)[0] = b
}

// Copy performs an MCOPY-style move of size bytes from src to dst within
// the frame view. Overlapping regions are handled with memmove semantics.
func (m *Memory) Copy(dst, src, size uint64) {
	if size == 0 {
		return
	}
	copy(m.view(dst, size), m.view(src, size))
}

// memEnd computes offset+size for a memory access, guarding against
// uint64 overflow.
func memEnd(offset, size uint64) (uint64, bool) {
	if size == 0 {
		return 0, true
	}
	end := offset + size
	if end < offset || end > math.MaxUint64-31 {
		return 0, false
	}
	return end, true
}
