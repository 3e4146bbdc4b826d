// Command piececached wires the piece cache core against a demo node and
// piece-getter so the composition can be exercised end to end without a
// real farmer process attached. A production deployment swaps demoNode and
// demoPieceGetter for implementations of farmcache.NodeClient and
// farmcache.PieceGetter that talk to an actual node and archival DSN.
package main

import (
	"context"
	"crypto/sha1"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glimmernet/piececache/internal/backend"
	"github.com/glimmernet/piececache/internal/cachestate"
	"github.com/glimmernet/piececache/internal/config"
	"github.com/glimmernet/piececache/internal/facade"
	"github.com/glimmernet/piececache/internal/farmcache"
	"github.com/glimmernet/piececache/internal/logging"
	"github.com/glimmernet/piececache/internal/metrics"
	"github.com/glimmernet/piececache/internal/orchestrator"
	"github.com/glimmernet/piececache/internal/recordkey"
	"github.com/glimmernet/piececache/internal/worker"
)

func main() {
	setupLogger()
	log := slog.Default()

	metricsSink := metrics.NewDefault()
	go serveMetrics(log)

	encoder := recordkey.EncoderFunc(func(idx recordkey.PieceIndex) recordkey.Key {
		return sha1ExtendedKey(idx)
	})

	peerID := sha1ExtendedKey(0)
	shared := orchestrator.NewShared(cachestate.New(nil))

	segmentPieces := demoSegmentPieceIndexes(16)
	node := newDemoNode(segmentPieces)

	w := worker.New(worker.Deps{
		Log:         log,
		Shared:      shared,
		PeerID:      peerID,
		Encoder:     encoder,
		Node:        node,
		PieceGetter: newDemoPieceGetter(),
		Metrics:     metricsSink,
		SegmentOf:   segmentPieces,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := w.Run(ctx); err != nil {
			log.Error("worker stopped with error", "error", err.Error())
		}
	}()

	f := facade.New(log, shared, encoder, metricsSink, w.Commands())
	f.OnSyncProgress(func(percent float32) {
		log.Info("initialization progress", "percent", percent)
	})

	backends := []farmcache.PieceBackend{
		backend.NewMemoryBackend("demo-0", 64),
		backend.NewMemoryBackend("demo-1", 64),
	}
	if err := f.ReplaceBackingCaches(ctx, backends, nil); err != nil {
		log.Error("replace backing caches failed", "error", err.Error())
	}

	<-ctx.Done()
	log.Info("shutting down")
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	slog.SetDefault(slog.New(h))
}

func serveMetrics(log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := config.Load().MetricsAddr
	log.Info("metrics server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", "error", err.Error())
	}
}

func sha1ExtendedKey(idx recordkey.PieceIndex) recordkey.Key {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(idx >> (8 * i))
	}
	digest := sha1.Sum(buf[:])

	var key recordkey.Key
	copy(key[:], digest[:])
	return key
}

func demoSegmentPieceIndexes(piecesPerSegment int) farmcache.SegmentPieceIndexes {
	return func(s farmcache.SegmentIndex) []farmcache.PieceIndex {
		out := make([]farmcache.PieceIndex, piecesPerSegment)
		base := uint64(s) * uint64(piecesPerSegment)
		for i := range out {
			out[i] = farmcache.PieceIndex(base + uint64(i))
		}
		return out
	}
}
