// Package proximity implements the bounded set of piece indices the worker
// keeps closest, by XOR distance, to the farmer's peer identity.
//
// It is adapted from the teacher's generic container/heap wrapper
// (pkg/heap) combined with the XOR-distance comparator the teacher's own
// Kademlia routing table (internal/dht, now internal/recordkey) uses to
// rank contacts — here the same comparator ranks piece indices instead of
// network peers.
package proximity

import (
	"bytes"
	"sync"

	"github.com/glimmernet/piececache/internal/recordkey"
	"github.com/glimmernet/piececache/pkg/heap"
)

type entry struct {
	index recordkey.PieceIndex
	dist  recordkey.Key
}

// Heap is a bounded, set-like collection of piece indices ordered by
// distance from a fixed peer identity. When full, inserting a closer piece
// evicts the current farthest one.
type Heap struct {
	mu      sync.RWMutex
	peerID  recordkey.Key
	encoder recordkey.Encoder
	limit   int
	pq      *heap.PriorityQueue[entry]
	items   map[recordkey.PieceIndex]*heap.Item[entry]
}

// New creates an empty heap with no capacity limit (SetLimit must be
// called before it will accept anything, matching the worker's
// initialization sequence which always calls SetLimit right after Clear).
func New(peerID recordkey.Key, encoder recordkey.Encoder) *Heap {
	h := &Heap{
		peerID:  peerID,
		encoder: encoder,
		items:   make(map[recordkey.PieceIndex]*heap.Item[entry]),
	}
	h.pq = heap.NewPriorityQueue(func(a, b entry) bool {
		// Max-heap on distance: farthest element sits at the root so
		// eviction is O(log n). a.dist/b.dist are already distances from
		// peerID, so compare them directly — running them back through
		// Compare(peerID, ...) would XOR out peerID and order by raw key.
		return bytes.Compare(a.dist[:], b.dist[:]) > 0
	})
	return h
}

// SetLimit sets the maximum cardinality. If the heap currently holds more
// than n elements, the farthest ones are evicted until it fits.
func (h *Heap) SetLimit(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.limit = n
	for h.pq.Len() > h.limit {
		h.evictFarthestLocked()
	}
}

func (h *Heap) evictFarthestLocked() (recordkey.PieceIndex, bool) {
	top, ok := h.pq.Peek()
	if !ok {
		return 0, false
	}

	item := h.items[top.index]
	h.pq.RemoveAt(item.Index)
	delete(h.items, top.index)
	return top.index, true
}

// Insert adds index to the heap. If the heap was already at its limit and
// index is closer to the peer identity than the current farthest element,
// that farthest element is evicted and returned. If the heap is at its
// limit and index would itself be the farthest, the insert is rejected and
// nothing is returned or retained. Re-inserting an index already present
// is a no-op.
func (h *Heap) Insert(index recordkey.PieceIndex) (evicted recordkey.PieceIndex, didEvict bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.items[index]; ok {
		return 0, false
	}

	e := entry{index: index, dist: recordkey.Distance(h.peerID, h.encoder.RecordKeyOf(index))}

	if h.limit <= 0 {
		return 0, false
	}

	if h.pq.Len() < h.limit {
		h.items[index] = h.pq.EnqueueItem(e)
		return 0, false
	}

	top, _ := h.pq.Peek()
	if bytes.Compare(e.dist[:], top.dist[:]) >= 0 {
		// index is farther than (or tied with) the current farthest: reject.
		return 0, false
	}

	evictedIndex, _ := h.evictFarthestLocked()
	h.items[index] = h.pq.EnqueueItem(e)
	return evictedIndex, true
}

// Remove deletes index from the heap, if present.
func (h *Heap) Remove(index recordkey.PieceIndex) {
	h.mu.Lock()
	defer h.mu.Unlock()

	item, ok := h.items[index]
	if !ok {
		return
	}

	h.pq.RemoveAt(item.Index)
	delete(h.items, index)
}

// ShouldIncludeKey reports whether Insert(index) would be accepted: the
// index is already present, there is free capacity, or it is closer than
// the current farthest element.
func (h *Heap) ShouldIncludeKey(index recordkey.PieceIndex) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.items[index]; ok {
		return true
	}
	if h.limit <= 0 {
		return false
	}
	if h.pq.Len() < h.limit {
		return true
	}

	top, _ := h.pq.Peek()
	dist := recordkey.Distance(h.peerID, h.encoder.RecordKeyOf(index))
	return bytes.Compare(dist[:], top.dist[:]) < 0
}

// Clear empties the heap without changing its limit.
func (h *Heap) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pq = heap.NewPriorityQueue(func(a, b entry) bool {
		return bytes.Compare(a.dist[:], b.dist[:]) > 0
	})
	h.items = make(map[recordkey.PieceIndex]*heap.Item[entry])
}

// Keys returns all piece indices currently in the heap, in no particular
// order.
func (h *Heap) Keys() []recordkey.PieceIndex {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]recordkey.PieceIndex, 0, len(h.items))
	for idx := range h.items {
		out = append(out, idx)
	}
	return out
}

// Len returns the number of elements currently held.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pq.Len()
}
