// Package backend wraps a farmcache.PieceBackend with the bookkeeping the
// orchestrator needs on top of it: a capacity high-water mark and a stable
// identity. It is the Go analogue of the teacher's internal/storage.Store,
// narrowed from "owns a download pipeline and a set of on-disk files" down
// to "owns one fixed-capacity slot array and knows how far into it has
// ever been allocated" — the same WriteAt/ReadAt-at-an-offset shape, minus
// the piece-assembly and disk-file-mapping logic that belonged to the
// BitTorrent download path.
package backend

import (
	"context"

	"github.com/glimmernet/piececache/internal/farmcache"
)

// Handle is a per-backend metadata wrapper: capacity, used-capacity
// high-water mark, and a reference to the durable store. Handles are cheap
// to copy — they hold only a pointer to shared durable-store state — but
// NextFree and SetUsedCapacity mutate the high-water mark and must only be
// called by the single owner (the worker, or a dedicated per-backend
// initialization goroutine that owns this handle exclusively).
type Handle struct {
	backend       farmcache.PieceBackend
	totalCapacity uint32
	usedCapacity  uint32
}

// NewHandle wraps backend, reading its declared capacity once.
func NewHandle(b farmcache.PieceBackend) *Handle {
	return &Handle{backend: b, totalCapacity: b.MaxNumElements()}
}

func (h *Handle) ID() farmcache.BackendID { return h.backend.ID() }

func (h *Handle) TotalCapacity() uint32 { return h.totalCapacity }

func (h *Handle) UsedCapacity() uint32 { return h.usedCapacity }

// SetUsedCapacity raises the high-water mark to n, used once during
// initialization after scanning a backend's existing contents
// (used_capacity = max_seen_piece_offset + 1). A value below the current
// mark is ignored.
func (h *Handle) SetUsedCapacity(n uint32) {
	if n > h.usedCapacity {
		h.usedCapacity = n
	}
}

// NextFree allocates the next unused slot by incrementing used_capacity.
// It never decreases used_capacity and fails once the backend is full.
func (h *Handle) NextFree() (farmcache.PieceOffset, bool) {
	if h.usedCapacity >= h.totalCapacity {
		return 0, false
	}
	offset := farmcache.PieceOffset(h.usedCapacity)
	h.usedCapacity++
	return offset, true
}

// FreeSize returns total_capacity - used_capacity.
func (h *Handle) FreeSize() uint32 {
	return h.totalCapacity - h.usedCapacity
}

func (h *Handle) Contents(ctx context.Context) (farmcache.ContentsIter, error) {
	return h.backend.Contents(ctx)
}

func (h *Handle) ReadPiece(ctx context.Context, offset farmcache.PieceOffset) (farmcache.PieceIndex, farmcache.Piece, error) {
	return h.backend.ReadPiece(ctx, offset)
}

func (h *Handle) WritePiece(ctx context.Context, offset farmcache.PieceOffset, index farmcache.PieceIndex, piece farmcache.Piece) error {
	return h.backend.WritePiece(ctx, offset, index, piece)
}

func (h *Handle) ReadPieceIndex(ctx context.Context, offset farmcache.PieceOffset) (farmcache.PieceIndex, bool, error) {
	return h.backend.ReadPieceIndex(ctx, offset)
}
