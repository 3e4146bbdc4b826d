// Package plotcache implements the opportunistic overflow layer backed by
// a farmer's otherwise-unused plot space: a dynamic list of write-once
// caches probed in order for membership, and balanced round-robin for new
// writes. The round-robin counter follows the teacher's atomic-counter
// stats fields (internal/tracker.Stats, internal/peer.Peer) rather than a
// mutex-guarded index.
package plotcache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/glimmernet/piececache/internal/farmcache"
)

// ShouldStore iterates caches in order, returning true on the first Vacant
// response, false on the first Yes (already stored somewhere), and
// continuing past No (full, or not a match for that cache's shard). An
// error from any cache aborts the scan and is returned to the caller to
// log; the conservative answer in that case is false.
func ShouldStore(ctx context.Context, caches []farmcache.PlotCache, idx farmcache.PieceIndex, key farmcache.RecordKey) (bool, error) {
	for i, c := range caches {
		status, err := c.IsPieceMaybeStored(ctx, key)
		if err != nil {
			return false, fmt.Errorf("plot cache %d: is piece maybe stored: %w", i, err)
		}
		switch status {
		case farmcache.PlotCacheVacant:
			return true, nil
		case farmcache.PlotCacheYes:
			return false, nil
		}
	}
	return false, nil
}

// StoreAdditionalPiece attempts to write piece into one of caches,
// starting at a round-robin offset derived from counter so repeated calls
// spread writes roughly evenly rather than always favoring the first
// cache. It returns true on the first cache that accepts the write.
func StoreAdditionalPiece(ctx context.Context, caches []farmcache.PlotCache, counter *atomic.Uint64, idx farmcache.PieceIndex, piece farmcache.Piece) (bool, error) {
	if len(caches) == 0 {
		return false, nil
	}

	start := int(counter.Add(1) - 1)
	var firstErr error
	for i := 0; i < len(caches); i++ {
		c := caches[(start+i)%len(caches)]
		ok, err := c.TryStorePiece(ctx, idx, piece)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}

// Overflow composes ShouldStore and StoreAdditionalPiece, the operation
// the worker performs for every freshly-archived piece and the façade
// performs for maybe_store_additional_piece.
func Overflow(ctx context.Context, caches []farmcache.PlotCache, counter *atomic.Uint64, idx farmcache.PieceIndex, key farmcache.RecordKey, piece farmcache.Piece) (bool, error) {
	should, err := ShouldStore(ctx, caches, idx, key)
	if err != nil || !should {
		return false, err
	}
	return StoreAdditionalPiece(ctx, caches, counter, idx, piece)
}

// ReadPiece probes caches sequentially and returns the first hit.
func ReadPiece(ctx context.Context, caches []farmcache.PlotCache, key farmcache.RecordKey) (farmcache.Piece, bool, error) {
	for i, c := range caches {
		piece, found, err := c.ReadPiece(ctx, key)
		if err != nil {
			return nil, false, fmt.Errorf("plot cache %d: read piece: %w", i, err)
		}
		if found {
			return piece, true, nil
		}
	}
	return nil, false, nil
}
