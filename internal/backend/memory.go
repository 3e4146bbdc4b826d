package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/glimmernet/piececache/internal/farmcache"
)

type slotState int

const (
	slotEmpty slotState = iota
	slotOccupied
	slotTombstoned
)

type memorySlot struct {
	state slotState
	index farmcache.PieceIndex
	piece farmcache.Piece
}

// MemoryBackend is a minimal in-memory PieceBackend used by tests and by
// callers that don't need real durability. It stands in for the durable
// backend format the spec places out of scope, the way the teacher's tests
// build throwaway os.File-backed stores rather than exercising a full disk
// layout.
type MemoryBackend struct {
	mu        sync.Mutex
	id        farmcache.BackendID
	capacity  uint32
	highWater uint32
	slots     []memorySlot
	faults    map[farmcache.PieceOffset]error
}

func NewMemoryBackend(id farmcache.BackendID, capacity uint32) *MemoryBackend {
	return &MemoryBackend{
		id:       id,
		capacity: capacity,
		slots:    make([]memorySlot, capacity),
		faults:   make(map[farmcache.PieceOffset]error),
	}
}

func (m *MemoryBackend) MaxNumElements() uint32  { return m.capacity }
func (m *MemoryBackend) ID() farmcache.BackendID { return m.id }

// SeedOccupied pre-populates a slot as already containing a piece, as if a
// previous process run had written it. Used by warm-start tests.
func (m *MemoryBackend) SeedOccupied(offset farmcache.PieceOffset, index farmcache.PieceIndex, piece farmcache.Piece) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slots[offset] = memorySlot{state: slotOccupied, index: index, piece: piece}
	if uint32(offset)+1 > m.highWater {
		m.highWater = uint32(offset) + 1
	}
}

// SeedTombstoned marks a slot as previously used but now free, without
// bringing it above the caller-visible free list (it still counts toward
// the high-water mark).
func (m *MemoryBackend) SeedTombstoned(offset farmcache.PieceOffset) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slots[offset] = memorySlot{state: slotTombstoned}
	if uint32(offset)+1 > m.highWater {
		m.highWater = uint32(offset) + 1
	}
}

// InjectReadFault makes every future ReadPiece/ReadPieceIndex at offset
// fail with err, simulating a corrupted slot.
func (m *MemoryBackend) InjectReadFault(offset farmcache.PieceOffset, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[offset] = err
}

func (m *MemoryBackend) WritePiece(ctx context.Context, offset farmcache.PieceOffset, index farmcache.PieceIndex, piece farmcache.Piece) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uint32(offset) >= m.capacity {
		return fmt.Errorf("memory backend %s: offset %d out of range (capacity %d)", m.id, offset, m.capacity)
	}

	m.slots[offset] = memorySlot{state: slotOccupied, index: index, piece: append(farmcache.Piece(nil), piece...)}
	if uint32(offset)+1 > m.highWater {
		m.highWater = uint32(offset) + 1
	}
	return nil
}

func (m *MemoryBackend) ReadPiece(ctx context.Context, offset farmcache.PieceOffset) (farmcache.PieceIndex, farmcache.Piece, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.faults[offset]; ok {
		return 0, nil, err
	}
	if uint32(offset) >= m.capacity {
		return 0, nil, fmt.Errorf("memory backend %s: offset %d out of range", m.id, offset)
	}

	s := m.slots[offset]
	if s.state != slotOccupied {
		return 0, nil, farmcache.ErrSlotEmpty
	}
	return s.index, append(farmcache.Piece(nil), s.piece...), nil
}

func (m *MemoryBackend) ReadPieceIndex(ctx context.Context, offset farmcache.PieceOffset) (farmcache.PieceIndex, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.faults[offset]; ok {
		return 0, false, err
	}
	if uint32(offset) >= m.capacity {
		return 0, false, fmt.Errorf("memory backend %s: offset %d out of range", m.id, offset)
	}

	s := m.slots[offset]
	if s.state != slotOccupied {
		return 0, false, nil
	}
	return s.index, true, nil
}

// RemoveAt tombstones a slot, simulating an external compaction-free
// delete. Exposed for tests that want to exercise the dangling-free path
// without going through the orchestrator.
func (m *MemoryBackend) RemoveAt(offset farmcache.PieceOffset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[offset] = memorySlot{state: slotTombstoned}
}

type memoryContentsIter struct {
	m   *MemoryBackend
	pos uint32
}

func (m *MemoryBackend) Contents(ctx context.Context) (farmcache.ContentsIter, error) {
	return &memoryContentsIter{m: m}, nil
}

func (it *memoryContentsIter) Next(ctx context.Context) (farmcache.ContentsItem, bool, error) {
	it.m.mu.Lock()
	defer it.m.mu.Unlock()

	if it.pos >= it.m.highWater {
		return farmcache.ContentsItem{}, false, nil
	}

	offset := farmcache.PieceOffset(it.pos)
	s := it.m.slots[it.pos]
	it.pos++

	item := farmcache.ContentsItem{PieceOffset: offset}
	if s.state == slotOccupied {
		item.Occupied = true
		item.PieceIndex = s.index
	}
	return item, true, nil
}
