package worker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/glimmernet/piececache/internal/backend"
	"github.com/glimmernet/piececache/internal/cachestate"
	"github.com/glimmernet/piececache/internal/config"
	"github.com/glimmernet/piececache/internal/farmcache"
)

type backendScanResult struct {
	stored map[farmcache.RecordKey]farmcache.CacheOffset
	free   []farmcache.PieceOffset
}

// scanBackend enumerates a single backend's contents, building the local
// stored/free split and advancing its used_capacity high-water mark. It is
// run on its own goroutine per backend (golang.org/x/sync/errgroup), the
// same dedicated-unit-per-store shape the teacher uses for concurrent
// piece writes (internal/storage.Store.processPiecesLoop's counterpart on
// the read side).
func (w *Worker) scanBackend(ctx context.Context, cacheIndex int, h *backend.Handle) (backendScanResult, error) {
	iter, err := h.Contents(ctx)
	if err != nil {
		return backendScanResult{}, errors.Wrapf(err, "backend %d: contents", cacheIndex)
	}

	result := backendScanResult{stored: make(map[farmcache.RecordKey]farmcache.CacheOffset)}
	var maxSeen uint32

	for {
		select {
		case <-ctx.Done():
			return backendScanResult{}, ctx.Err()
		default:
		}

		item, ok, err := iter.Next(ctx)
		if err != nil {
			w.log.Error("backend contents enumeration item failed, stopping scan of this backend", "cache_index", cacheIndex, "error", err.Error())
			break
		}
		if !ok {
			break
		}

		if uint32(item.PieceOffset)+1 > maxSeen {
			maxSeen = uint32(item.PieceOffset) + 1
		}

		if item.Occupied {
			key := w.encoder.RecordKeyOf(item.PieceIndex)
			result.stored[key] = farmcache.CacheOffset{CacheIndex: cacheIndex, PieceOffset: item.PieceOffset}
		} else {
			result.free = append(result.free, item.PieceOffset)
		}
	}

	h.SetUsedCapacity(maxSeen)
	return result, nil
}

// handleReplaceBackingCaches runs the full initialization algorithm: scan
// every new backend in parallel, merge with reused bookkeeping, rebuild
// the Proximity Heap from the archive's history, and download whatever it
// now wants that isn't already on disk.
func (w *Worker) handleReplaceBackingCaches(ctx context.Context, cmd ReplaceBackingCachesCmd) error {
	w.shared.SetPlotCaches(cmd.PlotCaches)

	w.shared.Lock()
	reusedStored, reusedDangling := w.shared.State().Reuse()
	w.shared.Unlock()

	handles := make([]*backend.Handle, len(cmd.PieceBackends))
	for i, b := range cmd.PieceBackends {
		handles[i] = backend.NewHandle(b)
	}

	results := make([]backendScanResult, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			res, err := w.scanBackend(gctx, i, h)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "scan backends")
	}

	for i, res := range results {
		for key, offset := range res.stored {
			reusedStored[key] = offset
		}
		for _, off := range res.free {
			reusedDangling.PushBack(farmcache.CacheOffset{CacheIndex: i, PieceOffset: off})
		}
	}

	state := cachestate.NewFromReused(handles, reusedStored, reusedDangling)

	head, headErr := w.getHeadSegment(ctx)
	if headErr != nil {
		w.shared.Lock()
		w.shared.SetState(state)
		w.shared.Unlock()
		return errors.Wrap(headErr, "get head segment")
	}

	w.resetHeapFromHistory(state, head)

	desired := lo.SliceToMap(w.heap.Keys(), func(idx farmcache.PieceIndex) (farmcache.RecordKey, farmcache.PieceIndex) {
		return w.encoder.RecordKeyOf(idx), idx
	})
	state.FreeUnneededStoredPieces(desired)

	w.shared.Lock()
	w.shared.SetState(state)
	w.metrics.SetPieceCacheCapacityTotal(int64(state.TotalCapacity()))
	w.metrics.SetPieceCacheCapacityUsed(int64(state.UsedCapacity()))
	w.shared.Unlock()

	w.lastSegmentIndex = head

	downloadList := lo.Values(desired)
	sort.Slice(downloadList, func(i, j int) bool { return downloadList[i] < downloadList[j] })

	w.runDownloadWindow(ctx, downloadList)
	return nil
}

func (w *Worker) resetHeapFromHistory(state *cachestate.State, head farmcache.SegmentIndex) {
	w.heap.Clear()
	w.heap.SetLimit(int(state.TotalCapacity()))
	for s := farmcache.SegmentIndex(0); s <= head; s++ {
		for _, idx := range w.segmentOf(s) {
			w.heap.Insert(idx)
		}
		if s == head {
			break // avoid wraparound when head is the max representable SegmentIndex
		}
	}
}

// getHeadSegment polls the node once per config.HeadPollInterval while it
// reports still syncing with a zero head segment.
func (w *Worker) getHeadSegment(ctx context.Context) (farmcache.SegmentIndex, error) {
	ticker := time.NewTicker(config.Load().HeadPollInterval)
	defer ticker.Stop()

	for {
		info, err := w.node.FarmerAppInfo(ctx)
		if err != nil {
			return 0, err
		}
		if !info.Syncing || info.HeadSegmentIndex != 0 {
			return info.HeadSegmentIndex, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// runDownloadWindow fetches every piece in downloadList with bounded
// concurrency W, allocating and writing each as it completes.
func (w *Worker) runDownloadWindow(ctx context.Context, downloadList []farmcache.PieceIndex) {
	total := len(downloadList)
	if total == 0 {
		w.shared.PublishProgress(100.0)
		return
	}

	cfg := config.Load()
	sem := make(chan struct{}, cfg.DownloadConcurrency)
	var wg sync.WaitGroup
	var successCount atomic.Int64
	var aborted atomic.Bool

	for _, idx := range downloadList {
		if aborted.Load() {
			break
		}

		select {
		case <-ctx.Done():
			aborted.Store(true)
		case sem <- struct{}{}:
		}
		if aborted.Load() {
			break
		}

		idx := idx
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.downloadAndPersist(ctx, idx, &successCount, total, &aborted)
		}()
	}
	wg.Wait()

	n := successCount.Load()
	if n == 0 || n%int64(cfg.ProgressPublishEvery) != 0 {
		w.shared.PublishProgress(100.0)
	}
}

func (w *Worker) downloadAndPersist(ctx context.Context, idx farmcache.PieceIndex, successCount *atomic.Int64, total int, aborted *atomic.Bool) {
	piece, found, err := w.fetchFromPieceGetter(ctx, idx)
	if err != nil || !found {
		if err != nil {
			w.log.Warn("piece getter failed during initialization", "piece_index", idx, "error", err.Error())
		}
		return
	}

	key := w.encoder.RecordKeyOf(idx)

	w.shared.Lock()
	state := w.shared.State()
	offset, ok := state.PopFreeOffset()
	if !ok {
		w.shared.Unlock()
		w.log.Error("no free offset during initialization download; arithmetic discrepancy", "piece_index", idx)
		aborted.Store(true)
		return
	}
	h := state.GetBackend(offset.CacheIndex)
	if writeErr := h.WritePiece(ctx, offset.PieceOffset, idx, piece); writeErr != nil {
		w.shared.Unlock()
		w.log.Error("write piece failed during initialization, slot leaked this round", "piece_index", idx, "error", writeErr.Error())
		return
	}
	state.PushStoredPiece(key, offset)
	w.metrics.SetPieceCacheCapacityUsed(int64(state.UsedCapacity()))
	w.shared.Unlock()

	n := successCount.Add(1)
	cfg := config.Load()
	if n%int64(cfg.ProgressPublishEvery) == 0 {
		w.shared.PublishProgress(float32(n) / float32(total) * 100.0)
	}
}

// keepUpAfterInitialSync walks every archived segment beyond the one
// initialization settled on, persisting anything the Proximity Heap still
// wants. It runs once at startup, strictly before the main select loop, so
// it never interleaves with live segment notifications.
func (w *Worker) keepUpAfterInitialSync(ctx context.Context) error {
	info, err := w.node.FarmerAppInfo(ctx)
	if err != nil {
		return err
	}

	head := info.HeadSegmentIndex
	for s := w.lastSegmentIndex + 1; s <= head; s++ {
		for _, idx := range w.segmentOf(s) {
			if !w.heap.ShouldIncludeKey(idx) {
				continue
			}
			piece, found, err := w.fetchFromPieceGetter(ctx, idx)
			if err != nil || !found {
				if err != nil {
					w.log.Warn("keep-up piece getter failed", "piece_index", idx, "error", err.Error())
				}
				continue
			}
			w.persistPieceInCache(ctx, idx, piece)
		}
		if s == head {
			break
		}
	}
	w.lastSegmentIndex = head
	return nil
}
