// Package orchestrator holds the state the Worker and Façade share: the
// Cache State behind a read-write lock, the current plot-cache list behind
// an atomic pointer, and the progress-observer registry. It plays the role
// the teacher's PieceScheduler plays for a single torrent's peer/piece
// state, split out here because two independent components (worker,
// façade) need access under different lock disciplines.
package orchestrator

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/glimmernet/piececache/internal/cachestate"
	"github.com/glimmernet/piececache/internal/farmcache"
)

// Shared is the lock-protected Cache State plus the lock-free plot-cache
// list and progress-observer registry. The Worker holds Lock() for every
// mutation; readers (façade lookups, provider-record probes) hold RLock().
type Shared struct {
	mu    sync.RWMutex
	state *cachestate.State

	plotCaches  atomic.Pointer[[]farmcache.PlotCache]
	plotCounter atomic.Uint64

	progressMu  sync.Mutex
	progressObs map[uuid.UUID]farmcache.ProgressObserver
}

// NewShared wraps an initial Cache State, usually a freshly constructed
// empty one before the first ReplaceBackingCaches completes.
func NewShared(initial *cachestate.State) *Shared {
	s := &Shared{
		state:       initial,
		progressObs: make(map[uuid.UUID]farmcache.ProgressObserver),
	}
	empty := []farmcache.PlotCache(nil)
	s.plotCaches.Store(&empty)
	return s
}

func (s *Shared) Lock()   { s.mu.Lock() }
func (s *Shared) Unlock() { s.mu.Unlock() }

func (s *Shared) RLock()   { s.mu.RLock() }
func (s *Shared) RUnlock() { s.mu.RUnlock() }

// TryRLock attempts a non-blocking read lock, used by record() which must
// degrade gracefully under contention rather than stall.
func (s *Shared) TryRLock() bool { return s.mu.TryRLock() }

// State returns the current Cache State. Callers must hold RLock or Lock.
func (s *Shared) State() *cachestate.State { return s.state }

// SetState atomically replaces the Cache State. Callers must hold Lock.
func (s *Shared) SetState(next *cachestate.State) { s.state = next }

// PlotCaches returns the current plot-cache list without blocking on the
// Cache State lock.
func (s *Shared) PlotCaches() []farmcache.PlotCache {
	p := s.plotCaches.Load()
	if p == nil {
		return nil
	}
	return *p
}

// SetPlotCaches atomically swaps the plot-cache list.
func (s *Shared) SetPlotCaches(caches []farmcache.PlotCache) {
	cp := append([]farmcache.PlotCache(nil), caches...)
	s.plotCaches.Store(&cp)
}

// PlotCounter returns the shared round-robin counter used by
// plotcache.StoreAdditionalPiece so writes balance across plot caches
// regardless of whether they originate from the worker or the façade.
func (s *Shared) PlotCounter() *atomic.Uint64 { return &s.plotCounter }

// OnSyncProgress registers cb to be invoked with percentages in [0, 100]
// during initialization, returning a handler id for RemoveProgressObserver.
// IDs are UUIDs rather than a reused counter so a handle from a since-reset
// Shared can never collide with a live one.
func (s *Shared) OnSyncProgress(cb farmcache.ProgressObserver) uuid.UUID {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()

	id := uuid.New()
	s.progressObs[id] = cb
	return id
}

// RemoveProgressObserver unregisters a handler previously returned by
// OnSyncProgress. Unknown ids are ignored.
func (s *Shared) RemoveProgressObserver(id uuid.UUID) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	delete(s.progressObs, id)
}

// PublishProgress invokes every registered observer with percent. Observers
// are snapshotted before calling so a handler that registers/unregisters
// from within its own callback can't deadlock.
func (s *Shared) PublishProgress(percent float32) {
	s.progressMu.Lock()
	obs := make([]farmcache.ProgressObserver, 0, len(s.progressObs))
	for _, cb := range s.progressObs {
		obs = append(obs, cb)
	}
	s.progressMu.Unlock()

	for _, cb := range obs {
		cb(percent)
	}
}
