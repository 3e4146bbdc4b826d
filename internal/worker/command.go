package worker

import "github.com/glimmernet/piececache/internal/farmcache"

// Command is the sum type the Façade sends down the worker's command
// channel, mirroring the teacher's scheduler.Event marker-interface
// pattern (internal/scheduler/peer_event.go).
type Command interface {
	command()
}

// ReplaceBackingCachesCmd replaces every backend and plot cache atomically
// and triggers a full (re)initialization.
type ReplaceBackingCachesCmd struct {
	PieceBackends []farmcache.PieceBackend
	PlotCaches    []farmcache.PlotCache

	// Done, if non-nil, receives the initialization result (nil on
	// success, the error on failure) and is then closed, so callers like
	// tests can wait for the effect without racing on progress callbacks.
	// It needs a buffer of at least one.
	Done chan error
}

func (ReplaceBackingCachesCmd) command() {}

// ForgetKeyCmd is emitted by a Façade reader after a read error. The
// worker drops the entry, releases its slot, and removes the piece index
// from the Proximity Heap.
type ForgetKeyCmd struct {
	Key farmcache.RecordKey
}

func (ForgetKeyCmd) command() {}

// Commands returns the channel the Façade sends commands on.
func (w *Worker) Commands() chan<- Command { return w.commands }
