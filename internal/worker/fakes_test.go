package worker

import (
	"context"
	"crypto/sha1"
	"io"
	"sync"

	"github.com/glimmernet/piececache/internal/farmcache"
	"github.com/glimmernet/piececache/internal/recordkey"
)

// sha1Encoder is the same deterministic, collision-free key derivation used
// across the test suite: stable across runs, with no two distinct indices
// plausibly colliding.
func sha1Encoder() recordkey.Encoder {
	return recordkey.EncoderFunc(func(idx recordkey.PieceIndex) recordkey.Key {
		var buf [8]byte
		for i := range buf {
			buf[i] = byte(idx >> (8 * i))
		}
		sum := sha1.Sum(buf[:])
		var k recordkey.Key
		copy(k[:], sum[:])
		return k
	})
}

type fakeNode struct {
	mu     sync.Mutex
	info   farmcache.FarmerAppInfo
	pieces map[farmcache.PieceIndex]farmcache.Piece
	acked  []farmcache.SegmentIndex
	ch     chan farmcache.SegmentHeader
}

func newFakeNode(info farmcache.FarmerAppInfo) *fakeNode {
	return &fakeNode{info: info, pieces: make(map[farmcache.PieceIndex]farmcache.Piece), ch: make(chan farmcache.SegmentHeader, 8)}
}

func (n *fakeNode) FarmerAppInfo(ctx context.Context) (farmcache.FarmerAppInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.info, nil
}

func (n *fakeNode) Piece(ctx context.Context, idx farmcache.PieceIndex) (farmcache.Piece, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pieces[idx]
	return p, ok, nil
}

func (n *fakeNode) SubscribeArchivedSegmentHeaders(ctx context.Context) (farmcache.SegmentHeaderSubscription, error) {
	return &fakeSubscription{ch: n.ch}, nil
}

func (n *fakeNode) AcknowledgeArchivedSegmentHeader(ctx context.Context, idx farmcache.SegmentIndex) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.acked = append(n.acked, idx)
	return nil
}

type fakeSubscription struct {
	ch chan farmcache.SegmentHeader
}

func (s *fakeSubscription) Next(ctx context.Context) (farmcache.SegmentHeader, error) {
	select {
	case h, ok := <-s.ch:
		if !ok {
			return farmcache.SegmentHeader{}, io.EOF
		}
		return h, nil
	case <-ctx.Done():
		return farmcache.SegmentHeader{}, ctx.Err()
	}
}

func (s *fakeSubscription) Close() {}

type fakePieceGetter struct {
	mu     sync.Mutex
	pieces map[farmcache.PieceIndex]farmcache.Piece
}

func newFakePieceGetter(pieces map[farmcache.PieceIndex]farmcache.Piece) *fakePieceGetter {
	return &fakePieceGetter{pieces: pieces}
}

func (g *fakePieceGetter) GetPiece(ctx context.Context, idx farmcache.PieceIndex) (farmcache.Piece, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pieces[idx]
	return p, ok, nil
}

type fakeMetrics struct {
	getHit, getMiss, getError, findHit, findMiss int64
	capacityTotal, capacityUsed                  int64
}

func (m *fakeMetrics) IncCacheGetHit()   { m.getHit++ }
func (m *fakeMetrics) IncCacheGetMiss()  { m.getMiss++ }
func (m *fakeMetrics) IncCacheGetError() { m.getError++ }
func (m *fakeMetrics) IncCacheFindHit()  { m.findHit++ }
func (m *fakeMetrics) IncCacheFindMiss() { m.findMiss++ }

func (m *fakeMetrics) SetPieceCacheCapacityTotal(n int64) { m.capacityTotal = n }
func (m *fakeMetrics) SetPieceCacheCapacityUsed(n int64)  { m.capacityUsed = n }
