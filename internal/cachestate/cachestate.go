// Package cachestate holds the in-memory index binding record keys to
// cache slots, plus free-slot bookkeeping. It is the Go analogue of the
// teacher's internal/storage bookkeeping combined with
// pkg/availabilitybucket's "which offsets are free" tracking, narrowed to a
// single writer and widened to span many backends.
//
// Cache State carries no lock of its own; the worker and façade share one
// sync.RWMutex around it, the way the teacher's swarm state is owned and
// locked by its caller rather than self-synchronizing.
package cachestate

import (
	"container/list"

	"github.com/glimmernet/piececache/internal/backend"
	"github.com/glimmernet/piececache/internal/farmcache"
)

// State is the merged view of every backing backend: which record key lives
// at which offset, and which offsets below each backend's high-water mark
// are free for reuse.
type State struct {
	backends     []*backend.Handle
	storedPieces map[farmcache.RecordKey]farmcache.CacheOffset
	danglingFree *list.List // of farmcache.CacheOffset, FIFO
}

// New builds a Cache State over backends with empty stored-piece and
// dangling-free collections. Used when there is no prior state to reuse
// (the very first ReplaceBackingCaches).
func New(backends []*backend.Handle) *State {
	return &State{
		backends:     backends,
		storedPieces: make(map[farmcache.RecordKey]farmcache.CacheOffset),
		danglingFree: list.New(),
	}
}

// NewFromReused builds a Cache State over a new set of backends, taking
// ownership of previously-reused stored/dangling collections (see Reuse).
func NewFromReused(backends []*backend.Handle, stored map[farmcache.RecordKey]farmcache.CacheOffset, dangling *list.List) *State {
	if stored == nil {
		stored = make(map[farmcache.RecordKey]farmcache.CacheOffset)
	}
	if dangling == nil {
		dangling = list.New()
	}
	return &State{backends: backends, storedPieces: stored, danglingFree: dangling}
}

// Reuse drops the backend set but keeps and empties the stored-piece and
// dangling-free collections, so the next initialization can reuse their
// underlying allocations instead of building fresh ones. Callers pass the
// emptied collections into NewFromReused for the new backend set, and
// separately capture the pre-reuse snapshot via Snapshot if they need it.
func (s *State) Reuse() (map[farmcache.RecordKey]farmcache.CacheOffset, *list.List) {
	stored, dangling := s.storedPieces, s.danglingFree
	s.backends = nil
	s.storedPieces = make(map[farmcache.RecordKey]farmcache.CacheOffset)
	s.danglingFree = list.New()
	return stored, dangling
}

// PopFreeOffset drains dangling_free_offsets FIFO first; when empty, it
// picks the backend with the largest free size (ties favor the higher
// cache_index) and allocates a fresh slot from it.
func (s *State) PopFreeOffset() (farmcache.CacheOffset, bool) {
	if front := s.danglingFree.Front(); front != nil {
		s.danglingFree.Remove(front)
		return front.Value.(farmcache.CacheOffset), true
	}

	best := -1
	var bestFree uint32
	for i, h := range s.backends {
		free := h.FreeSize()
		if best == -1 || free >= bestFree {
			best = i
			bestFree = free
		}
	}
	if best == -1 {
		return farmcache.CacheOffset{}, false
	}

	offset, ok := s.backends[best].NextFree()
	if !ok {
		return farmcache.CacheOffset{}, false
	}
	return farmcache.CacheOffset{CacheIndex: best, PieceOffset: offset}, true
}

// PushStoredPiece inserts key at offset, returning the previous offset
// stored at that key, if any, so the caller can recycle it as dangling
// free.
func (s *State) PushStoredPiece(key farmcache.RecordKey, offset farmcache.CacheOffset) (farmcache.CacheOffset, bool) {
	prev, had := s.storedPieces[key]
	s.storedPieces[key] = offset
	return prev, had
}

// RemoveStoredPiece removes key, returning the offset it occupied.
func (s *State) RemoveStoredPiece(key farmcache.RecordKey) (farmcache.CacheOffset, bool) {
	offset, ok := s.storedPieces[key]
	if !ok {
		return farmcache.CacheOffset{}, false
	}
	delete(s.storedPieces, key)
	return offset, true
}

// PushDanglingFree enqueues offset as reusable.
func (s *State) PushDanglingFree(offset farmcache.CacheOffset) {
	s.danglingFree.PushBack(offset)
}

// FreeUnneededStoredPieces removes every currently-stored key not present
// in desired, recycling its offset as dangling free, and deletes from
// desired every key that survives. After this call desired contains
// exactly the keys still needing download.
func (s *State) FreeUnneededStoredPieces(desired map[farmcache.RecordKey]farmcache.PieceIndex) {
	for key, offset := range s.storedPieces {
		if _, want := desired[key]; want {
			delete(desired, key)
			continue
		}
		delete(s.storedPieces, key)
		s.danglingFree.PushBack(offset)
	}
}

// TotalCapacity sums total_capacity across every backend.
func (s *State) TotalCapacity() uint32 {
	var total uint32
	for _, h := range s.backends {
		total += h.TotalCapacity()
	}
	return total
}

// UsedCapacity sums used_capacity across every backend, for the
// piece_cache_capacity_used gauge.
func (s *State) UsedCapacity() uint32 {
	var total uint32
	for _, h := range s.backends {
		total += h.UsedCapacity()
	}
	return total
}

// GetBackend returns the handle at cache_index i.
func (s *State) GetBackend(i int) *backend.Handle {
	if i < 0 || i >= len(s.backends) {
		return nil
	}
	return s.backends[i]
}

// Backends returns the full backend slice in cache_index order.
func (s *State) Backends() []*backend.Handle {
	return s.backends
}

// Lookup returns the offset stored for key, if any.
func (s *State) Lookup(key farmcache.RecordKey) (farmcache.CacheOffset, bool) {
	offset, ok := s.storedPieces[key]
	return offset, ok
}

// Len returns the number of live stored-piece entries.
func (s *State) Len() int {
	return len(s.storedPieces)
}

// DanglingLen returns the number of dangling free offsets.
func (s *State) DanglingLen() int {
	return s.danglingFree.Len()
}

// Snapshot copies the stored-piece map for readers that need an isolated
// view (e.g. tests asserting bit-identical reinitialization).
func (s *State) Snapshot() map[farmcache.RecordKey]farmcache.CacheOffset {
	out := make(map[farmcache.RecordKey]farmcache.CacheOffset, len(s.storedPieces))
	for k, v := range s.storedPieces {
		out[k] = v
	}
	return out
}
