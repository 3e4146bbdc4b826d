package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/glimmernet/piececache/internal/farmcache"
	"github.com/glimmernet/piececache/pkg/syncmap"
)

// demoNode is a minimal farmcache.NodeClient that reports a fixed head
// segment and synthesizes pieces deterministically from their index,
// standing in for a real node RPC connection.
type demoNode struct {
	mu          sync.Mutex
	head        farmcache.SegmentIndex
	segmentOf   farmcache.SegmentPieceIndexes
	acked       *syncmap.Map[farmcache.SegmentIndex, bool]
	subscribers []chan farmcache.SegmentHeader
}

func newDemoNode(segmentOf farmcache.SegmentPieceIndexes) *demoNode {
	return &demoNode{
		head:      2,
		segmentOf: segmentOf,
		acked:     syncmap.New[farmcache.SegmentIndex, bool](),
	}
}

func (n *demoNode) FarmerAppInfo(ctx context.Context) (farmcache.FarmerAppInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return farmcache.FarmerAppInfo{Syncing: false, HeadSegmentIndex: n.head}, nil
}

func (n *demoNode) Piece(ctx context.Context, index farmcache.PieceIndex) (farmcache.Piece, bool, error) {
	return demoPieceBytes(index), true, nil
}

func (n *demoNode) SubscribeArchivedSegmentHeaders(ctx context.Context) (farmcache.SegmentHeaderSubscription, error) {
	ch := make(chan farmcache.SegmentHeader, 1)
	n.mu.Lock()
	n.subscribers = append(n.subscribers, ch)
	n.mu.Unlock()
	return &demoSubscription{ctx: ctx, ch: ch}, nil
}

func (n *demoNode) AcknowledgeArchivedSegmentHeader(ctx context.Context, index farmcache.SegmentIndex) error {
	n.acked.Put(index, true)
	return nil
}

type demoSubscription struct {
	ctx context.Context
	ch  chan farmcache.SegmentHeader
}

func (s *demoSubscription) Next(ctx context.Context) (farmcache.SegmentHeader, error) {
	select {
	case h := <-s.ch:
		return h, nil
	case <-s.ctx.Done():
		return farmcache.SegmentHeader{}, s.ctx.Err()
	case <-ctx.Done():
		return farmcache.SegmentHeader{}, ctx.Err()
	}
}

func (s *demoSubscription) Close() {}

// demoPieceGetter synthesizes pieces deterministically, standing in for a
// real archival-DSN fetcher.
type demoPieceGetter struct{}

func newDemoPieceGetter() *demoPieceGetter { return &demoPieceGetter{} }

func (demoPieceGetter) GetPiece(ctx context.Context, index farmcache.PieceIndex) (farmcache.Piece, bool, error) {
	return demoPieceBytes(index), true, nil
}

func demoPieceBytes(index farmcache.PieceIndex) farmcache.Piece {
	return farmcache.Piece(fmt.Sprintf("demo-piece-%d", index))
}
