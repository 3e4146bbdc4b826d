// Package worker implements the Orchestrator Worker: the single
// goroutine that owns every write to Cache State and the Proximity Heap,
// driven by a command channel and an archived-segment notification
// stream. Structurally it is the teacher's PieceScheduler.Run event loop
// (internal/scheduler/scheduler.go) generalized from "one torrent's
// blocks" to "one farmer's piece cache backends", with the rarest-first
// availability bucket replaced by the XOR-distance Proximity Heap.
package worker

import (
	"context"
	"log/slog"

	"github.com/glimmernet/piececache/internal/config"
	"github.com/glimmernet/piececache/internal/farmcache"
	"github.com/glimmernet/piececache/internal/metrics"
	"github.com/glimmernet/piececache/internal/orchestrator"
	"github.com/glimmernet/piececache/internal/proximity"
	"github.com/glimmernet/piececache/internal/recordkey"
)

// Worker is the sole writer of Cache State and the Proximity Heap. All
// its state-mutating methods run on the goroutine started by Run; nothing
// here is safe to call concurrently from outside that goroutine.
type Worker struct {
	log *slog.Logger

	shared  *orchestrator.Shared
	heap    *proximity.Heap
	encoder recordkey.Encoder

	node        farmcache.NodeClient
	pieceGetter farmcache.PieceGetter
	metrics     farmcache.MetricsSink
	segmentOf   farmcache.SegmentPieceIndexes

	commands chan Command
	segments chan farmcache.SegmentHeader

	lastSegmentIndex farmcache.SegmentIndex
}

// Deps bundles the Worker's external collaborators.
type Deps struct {
	Log         *slog.Logger
	Shared      *orchestrator.Shared
	PeerID      recordkey.Key
	Encoder     recordkey.Encoder
	Node        farmcache.NodeClient
	PieceGetter farmcache.PieceGetter
	Metrics     farmcache.MetricsSink
	SegmentOf   farmcache.SegmentPieceIndexes
}

// New builds a Worker ready to Run. Metrics may be nil, in which case a
// no-op sink is substituted.
func New(d Deps) *Worker {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	sink := d.Metrics
	if sink == nil {
		sink = metrics.Noop{}
	}

	return &Worker{
		log:         log.With("component", "piece_cache_worker"),
		shared:      d.Shared,
		heap:        proximity.New(d.PeerID, d.Encoder),
		encoder:     d.Encoder,
		node:        d.Node,
		pieceGetter: d.PieceGetter,
		metrics:     sink,
		segmentOf:   d.SegmentOf,
		commands:    make(chan Command, config.Load().CommandQueueSize),
		segments:    make(chan farmcache.SegmentHeader, config.Load().SegmentHeaderBacklog),
	}
}

// Run executes the startup sequence and then the main select loop. It
// returns nil when the command channel is closed (clean shutdown) or when
// ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	first, ok := w.waitForFirstReplace(ctx)
	if !ok {
		w.log.Debug("command channel closed before first ReplaceBackingCaches")
		return nil
	}

	w.handleCommand(ctx, first)

	sub, err := w.node.SubscribeArchivedSegmentHeaders(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	go w.pumpSegmentHeaders(ctx, sub)

	if err := w.keepUpAfterInitialSync(ctx); err != nil {
		w.log.Error("keep-up after initial sync failed", "error", err.Error())
	}

	return w.mainLoop(ctx)
}

// waitForFirstReplace blocks until a ReplaceBackingCachesCmd arrives,
// discarding any ForgetKeyCmd received before the cache exists (there is
// nothing yet to forget).
func (w *Worker) waitForFirstReplace(ctx context.Context) (ReplaceBackingCachesCmd, bool) {
	for {
		select {
		case <-ctx.Done():
			return ReplaceBackingCachesCmd{}, false
		case cmd, ok := <-w.commands:
			if !ok {
				return ReplaceBackingCachesCmd{}, false
			}
			if r, isReplace := cmd.(ReplaceBackingCachesCmd); isReplace {
				return r, true
			}
		}
	}
}

func (w *Worker) pumpSegmentHeaders(ctx context.Context, sub farmcache.SegmentHeaderSubscription) {
	for {
		header, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error("segment header subscription failed", "error", err.Error())
			}
			return
		}
		select {
		case w.segments <- header:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) mainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd, ok := <-w.commands:
			if !ok {
				w.log.Debug("command channel closed, worker stopping")
				return nil
			}
			w.handleCommand(ctx, cmd)

		case header, ok := <-w.segments:
			if !ok {
				continue
			}
			if err := w.processSegmentHeader(ctx, header); err != nil {
				w.log.Error("process segment header failed", "segment_index", header.SegmentIndex, "error", err.Error())
			}
		}
	}
}

func (w *Worker) handleCommand(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case ReplaceBackingCachesCmd:
		err := w.handleReplaceBackingCaches(ctx, c)
		if err != nil {
			w.log.Error("backend replacement failed", "error", err.Error())
		}
		if c.Done != nil {
			c.Done <- err
			close(c.Done)
		}
	case ForgetKeyCmd:
		w.handleForgetKey(ctx, c.Key)
	default:
		w.log.Warn("unknown command type", "command", c)
	}
}

// handleForgetKey implements the ForgetKey command: drop the entry,
// release its slot as dangling free, and remove it from the Proximity
// Heap using the piece index read back from the slot. If the stored index
// can't be read back, the slot is still released but the heap is left
// alone.
func (w *Worker) handleForgetKey(ctx context.Context, key farmcache.RecordKey) {
	w.shared.Lock()
	defer w.shared.Unlock()

	state := w.shared.State()
	offset, ok := state.RemoveStoredPiece(key)
	if !ok {
		return
	}

	h := state.GetBackend(offset.CacheIndex)
	if h == nil {
		state.PushDanglingFree(offset)
		return
	}

	index, found, err := h.ReadPieceIndex(ctx, offset.PieceOffset)
	state.PushDanglingFree(offset)
	if err != nil || !found {
		w.log.Warn("forget_key: could not read back stored index, leaving heap untouched",
			"backend_index", offset.CacheIndex, "offset", offset.PieceOffset)
		return
	}

	w.heap.Remove(index)
}
