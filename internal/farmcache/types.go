// Package farmcache holds the type and interface definitions shared by
// every other internal package (backend, cachestate, proximity, worker,
// facade, plotcache) so none of them need to import each other just to
// agree on a vocabulary. It mirrors the role the teacher's top-level
// internal/scheduler package plays for piece/block types shared between
// peer and storage.
package farmcache

import (
	"context"
	"errors"

	"github.com/glimmernet/piececache/internal/recordkey"
)

// ErrSlotEmpty is returned by ReadPiece/ReadPieceIndex when the addressed
// slot is empty or tombstoned rather than genuinely unreadable. Callers
// must distinguish this from a real I/O error: the former is a miss, the
// latter triggers ForgetKey.
var ErrSlotEmpty = errors.New("piece_cache: slot is empty")

type (
	PieceIndex   = recordkey.PieceIndex
	SegmentIndex = recordkey.SegmentIndex
	RecordKey    = recordkey.Key
)

// BackendID identifies a durable backend independent of its transient
// cache_index, which is only stable within a single Cache State instance.
type BackendID string

// PieceOffset addresses a slot within a single backend.
type PieceOffset uint32

// CacheOffset locates a single slot across all backends.
type CacheOffset struct {
	CacheIndex  int
	PieceOffset PieceOffset
}

// Piece is a fixed-size opaque payload, never mutated once written.
type Piece []byte

// ContentsItem is one element of a backend's lazy enumeration.
type ContentsItem struct {
	PieceOffset PieceOffset
	PieceIndex  PieceIndex // valid only when Occupied is true
	Occupied    bool
}

// ContentsIter is a cursor over a backend's slots in ascending offset
// order. Each call to Next may independently fail; a failure stops
// enumeration of that backend without affecting others.
type ContentsIter interface {
	Next(ctx context.Context) (ContentsItem, bool, error)
}

// PieceBackend is the durable, fixed-capacity array of slots this cache
// orchestrates. Its storage format and transport are out of scope; this is
// the contract the worker and façade program against.
type PieceBackend interface {
	MaxNumElements() uint32
	ID() BackendID
	Contents(ctx context.Context) (ContentsIter, error)
	ReadPiece(ctx context.Context, offset PieceOffset) (PieceIndex, Piece, error)
	WritePiece(ctx context.Context, offset PieceOffset, index PieceIndex, piece Piece) error
	ReadPieceIndex(ctx context.Context, offset PieceOffset) (PieceIndex, bool, error)
}

// PlotCacheStatus is the three-way answer a plot cache gives when asked
// whether it might already hold a piece.
type PlotCacheStatus int

const (
	// PlotCacheNo means the cache is full or the piece does not belong
	// there.
	PlotCacheNo PlotCacheStatus = iota
	// PlotCacheYes means the piece is already stored there.
	PlotCacheYes
	// PlotCacheVacant means there is room and the piece is not yet
	// stored.
	PlotCacheVacant
)

// PlotCache is the opportunistic overflow layer backed by unused plot
// space. Its internal storage policy belongs to the plot subsystem; this
// is only the contract the cache core consumes.
type PlotCache interface {
	IsPieceMaybeStored(ctx context.Context, key RecordKey) (PlotCacheStatus, error)
	TryStorePiece(ctx context.Context, index PieceIndex, piece Piece) (bool, error)
	ReadPiece(ctx context.Context, key RecordKey) (Piece, bool, error)
}

// FarmerAppInfo is the subset of node state the worker needs to drive
// initialization and keep-up.
type FarmerAppInfo struct {
	Syncing          bool
	HeadSegmentIndex SegmentIndex
}

// SegmentHeader announces a newly archived segment.
type SegmentHeader struct {
	SegmentIndex SegmentIndex
}

// SegmentHeaderSubscription streams archived segment headers.
type SegmentHeaderSubscription interface {
	Next(ctx context.Context) (SegmentHeader, error)
	Close()
}

// NodeClient is the farmer's connection to its local node.
type NodeClient interface {
	FarmerAppInfo(ctx context.Context) (FarmerAppInfo, error)
	Piece(ctx context.Context, index PieceIndex) (Piece, bool, error)
	SubscribeArchivedSegmentHeaders(ctx context.Context) (SegmentHeaderSubscription, error)
	AcknowledgeArchivedSegmentHeader(ctx context.Context, index SegmentIndex) error
}

// PieceGetter fetches a piece from the archival DSN. Implementations must
// not call back into this cache, to avoid a reference cycle.
type PieceGetter interface {
	GetPiece(ctx context.Context, index PieceIndex) (Piece, bool, error)
}

// MetricsSink is the counters and gauges the façade and worker report to.
type MetricsSink interface {
	IncCacheGetHit()
	IncCacheGetMiss()
	IncCacheGetError()
	IncCacheFindHit()
	IncCacheFindMiss()
	SetPieceCacheCapacityTotal(n int64)
	SetPieceCacheCapacityUsed(n int64)
}

// ProgressObserver receives initialization progress in [0.0, 100.0].
type ProgressObserver func(percent float32)

// SegmentPieceIndexes enumerates the pieces that make up segment s. The
// mapping from segment to its piece indices is deterministic and total;
// like record-key encoding, it is a network-layer concern supplied by the
// caller rather than computed here.
type SegmentPieceIndexes func(s SegmentIndex) []PieceIndex
