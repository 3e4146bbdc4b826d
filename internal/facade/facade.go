// Package facade exposes the thread-safe public surface farmer code calls
// against: get/find/store operations backed by the Cache State and plot
// caches, plus the command channel to the Worker. It plays the role the
// teacher's internal/peer.Peer plays as the externally-facing handle over
// state a background goroutine owns.
package facade

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/glimmernet/piececache/internal/backend"
	"github.com/glimmernet/piececache/internal/config"
	"github.com/glimmernet/piececache/internal/farmcache"
	"github.com/glimmernet/piececache/internal/metrics"
	"github.com/glimmernet/piececache/internal/orchestrator"
	"github.com/glimmernet/piececache/internal/plotcache"
	"github.com/glimmernet/piececache/internal/recordkey"
	"github.com/glimmernet/piececache/internal/worker"
)

// ErrBusy is returned by Record when the non-blocking read-lock attempt
// is contended.
var ErrBusy = errors.New("piece_cache: cache state busy")

// Facade is the public handle farmer code holds onto. It never blocks the
// Worker's own goroutine: every read takes the shared read-write lock for
// the shortest span that correctness allows, and every mutation is
// delegated to the Worker via the command channel.
type Facade struct {
	log      *slog.Logger
	shared   *orchestrator.Shared
	encoder  recordkey.Encoder
	metrics  farmcache.MetricsSink
	commands chan<- worker.Command
}

// New builds a Façade over shared state and the command channel exposed
// by a running Worker.
func New(log *slog.Logger, shared *orchestrator.Shared, encoder recordkey.Encoder, sink farmcache.MetricsSink, commands chan<- worker.Command) *Facade {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Facade{
		log:      log.With("component", "piece_cache_facade"),
		shared:   shared,
		encoder:  encoder,
		metrics:  sink,
		commands: commands,
	}
}

// GetPiece looks up key under a read lock, then reads the piece outside
// the lock. A read error tells the Worker to forget the key. Falls
// through to plot caches if not found in piece caches.
func (f *Facade) GetPiece(ctx context.Context, key farmcache.RecordKey) (farmcache.Piece, bool) {
	f.shared.RLock()
	offset, ok := f.shared.State().Lookup(key)
	var h *backend.Handle
	if ok {
		h = f.shared.State().GetBackend(offset.CacheIndex)
	}
	f.shared.RUnlock()

	if ok && h != nil {
		_, piece, err := h.ReadPiece(ctx, offset.PieceOffset)
		switch {
		case err == nil && piece != nil:
			f.metrics.IncCacheGetHit()
			return piece, true
		case err == nil:
			// Tombstoned between lookup and read.
			f.metrics.IncCacheGetMiss()
		case errors.Is(err, farmcache.ErrSlotEmpty):
			f.metrics.IncCacheGetMiss()
		default:
			f.log.Warn("get_piece: read error, forgetting key", "error", err.Error())
			f.emitForgetKey(key)
			f.metrics.IncCacheGetError()
			return nil, false
		}
	}

	plotPiece, found, err := plotcache.ReadPiece(ctx, f.shared.PlotCaches(), key)
	if err != nil {
		f.log.Warn("get_piece: plot cache read failed", "error", err.Error())
		f.metrics.IncCacheGetError()
		return nil, false
	}
	if found {
		f.metrics.IncCacheGetHit()
		return plotPiece, true
	}

	f.metrics.IncCacheGetMiss()
	return nil, false
}

// FindPiece is the metadata-only equivalent used by sector-plotting paths:
// it reports where a piece index lives without reading its bytes.
func (f *Facade) FindPiece(index farmcache.PieceIndex) (farmcache.BackendID, farmcache.PieceOffset, bool) {
	key := f.encoder.RecordKeyOf(index)

	f.shared.RLock()
	defer f.shared.RUnlock()

	offset, ok := f.shared.State().Lookup(key)
	if !ok {
		f.metrics.IncCacheFindMiss()
		return "", 0, false
	}

	h := f.shared.State().GetBackend(offset.CacheIndex)
	if h == nil {
		f.metrics.IncCacheFindMiss()
		return "", 0, false
	}

	f.metrics.IncCacheFindHit()
	return h.ID(), offset.PieceOffset, true
}

// MaybeStoreAdditionalPiece asks the plot-cache layer whether it wants
// index, storing it there if so.
func (f *Facade) MaybeStoreAdditionalPiece(ctx context.Context, index farmcache.PieceIndex, piece farmcache.Piece) (bool, error) {
	key := f.encoder.RecordKeyOf(index)
	return plotcache.Overflow(ctx, f.shared.PlotCaches(), f.shared.PlotCounter(), index, key, piece)
}

// ReplaceBackingCaches sends a ReplaceBackingCaches command to the Worker
// and atomically swaps the plot-cache list. It returns once the Worker
// finishes initialization (or ctx is cancelled).
func (f *Facade) ReplaceBackingCaches(ctx context.Context, pieceBackends []farmcache.PieceBackend, plotCaches []farmcache.PlotCache) error {
	done := make(chan error, 1)
	cmd := worker.ReplaceBackingCachesCmd{
		PieceBackends: pieceBackends,
		PlotCaches:    plotCaches,
		Done:          done,
	}

	select {
	case f.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSyncProgress registers an observer invoked with percentages in
// [0, 100] during initialization, returning a handler id that can be
// passed to RemoveProgressObserver.
func (f *Facade) OnSyncProgress(cb farmcache.ProgressObserver) uuid.UUID {
	return f.shared.OnSyncProgress(cb)
}

// RemoveProgressObserver unregisters a handler returned by OnSyncProgress.
func (f *Facade) RemoveProgressObserver(id uuid.UUID) {
	f.shared.RemoveProgressObserver(id)
}

// Record answers a provider-record advertising probe. It attempts a
// non-blocking read lock; under contention it returns ErrBusy rather than
// stalling the caller. If not found in the piece cache it probes plot
// caches concurrently with a bounded timeout.
func (f *Facade) Record(ctx context.Context, key farmcache.RecordKey) (bool, error) {
	if !f.shared.TryRLock() {
		return false, ErrBusy
	}
	_, ok := f.shared.State().Lookup(key)
	f.shared.RUnlock()

	if ok {
		return true, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, config.Load().ProviderRecordProbeTimeout)
	defer cancel()

	return f.probePlotCachesForYes(probeCtx, key)
}

func (f *Facade) probePlotCachesForYes(ctx context.Context, key farmcache.RecordKey) (bool, error) {
	caches := f.shared.PlotCaches()
	if len(caches) == 0 {
		return false, nil
	}

	type result struct {
		yes bool
		err error
	}
	results := make(chan result, len(caches))

	for _, c := range caches {
		c := c
		go func() {
			status, err := c.IsPieceMaybeStored(ctx, key)
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{yes: status == farmcache.PlotCacheYes}
		}()
	}

	for range caches {
		select {
		case r := <-results:
			if r.err != nil {
				f.log.Warn("record: plot cache probe failed", "error", r.err.Error())
				continue
			}
			if r.yes {
				return true, nil
			}
		case <-ctx.Done():
			return false, nil
		}
	}
	return false, nil
}

func (f *Facade) emitForgetKey(key farmcache.RecordKey) {
	select {
	case f.commands <- worker.ForgetKeyCmd{Key: key}:
	default:
		f.log.Warn("forget_key command dropped, command queue full")
	}
}
