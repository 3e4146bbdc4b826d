package worker

import (
	"context"
	"sort"
	"sync"

	"github.com/glimmernet/piececache/internal/farmcache"
	"github.com/glimmernet/piececache/internal/plotcache"
)

type fetchedPiece struct {
	index farmcache.PieceIndex
	piece farmcache.Piece
}

// processSegmentHeader implements the archived-segment handling algorithm:
// for a segment beyond the last one seen, fetch every piece either cache
// layer wants directly from the node, acknowledge the segment, then
// persist sequentially.
func (w *Worker) processSegmentHeader(ctx context.Context, header farmcache.SegmentHeader) error {
	s := header.SegmentIndex
	if s <= w.lastSegmentIndex {
		return w.node.AcknowledgeArchivedSegmentHeader(ctx, s)
	}

	indices := w.segmentOf(s)
	fetched := make([]fetchedPiece, 0, len(indices))
	var mu sync.Mutex
	var wg sync.WaitGroup

	plotCaches := w.shared.PlotCaches()

	for _, idx := range indices {
		idx := idx
		key := w.encoder.RecordKeyOf(idx)

		wantPieceCache := w.heap.ShouldIncludeKey(idx)
		wantPlotCache, err := plotcache.ShouldStore(ctx, plotCaches, idx, key)
		if err != nil {
			w.log.Warn("plot cache should_store check failed", "piece_index", idx, "error", err.Error())
		}
		if !wantPieceCache && !wantPlotCache {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			piece, found, err := w.fetchFromNode(ctx, idx)
			if err != nil || !found {
				if err != nil {
					w.log.Warn("node piece fetch failed", "piece_index", idx, "error", err.Error())
				}
				return
			}

			mu.Lock()
			fetched = append(fetched, fetchedPiece{index: idx, piece: piece})
			mu.Unlock()
		}()
	}
	wg.Wait()

	if err := w.node.AcknowledgeArchivedSegmentHeader(ctx, s); err != nil {
		w.log.Error("acknowledge archived segment header failed", "segment_index", s, "error", err.Error())
	}

	w.lastSegmentIndex = s

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].index < fetched[j].index })

	for _, f := range fetched {
		key := w.encoder.RecordKeyOf(f.index)

		if stored, err := plotcache.Overflow(ctx, w.shared.PlotCaches(), w.shared.PlotCounter(), f.index, key, f.piece); err != nil {
			w.log.Warn("plot cache overflow attempt failed", "piece_index", f.index, "error", err.Error())
		} else if stored {
			w.log.Debug("stored piece in plot cache overflow", "piece_index", f.index)
		}

		if w.heap.ShouldIncludeKey(f.index) {
			w.persistPieceInCache(ctx, f.index, f.piece)
		}
	}

	return nil
}

// persistPieceInCache implements §4.4's persist_piece_in_cache: insert
// into the Proximity Heap, then either replace the slot of whatever the
// heap evicted or allocate a fresh one, all under the Cache State write
// lock.
func (w *Worker) persistPieceInCache(ctx context.Context, idx farmcache.PieceIndex, piece farmcache.Piece) {
	key := w.encoder.RecordKeyOf(idx)

	w.shared.Lock()
	defer w.shared.Unlock()

	state := w.shared.State()

	if !w.heap.ShouldIncludeKey(idx) {
		// The heap is full and idx is no closer than its farthest entry:
		// Insert would reject it, so nothing is stored.
		return
	}

	evicted, didEvict := w.heap.Insert(idx)
	if didEvict {
		oldKey := w.encoder.RecordKeyOf(evicted)
		offset, ok := state.RemoveStoredPiece(oldKey)
		if !ok {
			w.log.Warn("persist_piece_in_cache: evicted key missing from cache state; heap and state disagree",
				"evicted_piece_index", evicted)
			return
		}

		h := state.GetBackend(offset.CacheIndex)
		if err := h.WritePiece(ctx, offset.PieceOffset, idx, piece); err != nil {
			w.log.Error("persist_piece_in_cache: write piece failed", "piece_index", idx, "error", err.Error())
			state.PushDanglingFree(offset)
			return
		}

		if prev, had := state.PushStoredPiece(key, offset); had && prev != offset {
			state.PushDanglingFree(prev)
		}
		w.metrics.SetPieceCacheCapacityUsed(int64(state.UsedCapacity()))
		return
	}

	offset, ok := state.PopFreeOffset()
	if !ok {
		w.log.Warn("persist_piece_in_cache: no free offset despite heap accepting insert; implementation bug",
			"piece_index", idx)
		return
	}

	h := state.GetBackend(offset.CacheIndex)
	if err := h.WritePiece(ctx, offset.PieceOffset, idx, piece); err != nil {
		w.log.Error("persist_piece_in_cache: write piece failed", "piece_index", idx, "error", err.Error())
		return
	}

	if prev, had := state.PushStoredPiece(key, offset); had && prev != offset {
		state.PushDanglingFree(prev)
	}
	w.metrics.SetPieceCacheCapacityUsed(int64(state.UsedCapacity()))
}
