package worker

import (
	"context"
	"time"

	"github.com/glimmernet/piececache/internal/farmcache"
	"github.com/glimmernet/piececache/internal/retry"
)

// fetchBackoff bounds the retry.Do pressure put on the node client and
// piece getter: a handful of fast attempts, never blocking long enough to
// stall the download window or the segment keep-up path.
func fetchBackoff() []retry.Option {
	return retry.WithExponentialBackoff(3, 50*time.Millisecond, 2*time.Second)
}

// fetchFromPieceGetter wraps pieceGetter.GetPiece with retry.Do, retrying
// only transport errors. A clean "not found" is never retried.
func (w *Worker) fetchFromPieceGetter(ctx context.Context, idx farmcache.PieceIndex) (farmcache.Piece, bool, error) {
	var piece farmcache.Piece
	var found bool
	err := retry.Do(ctx, func(ctx context.Context) error {
		p, f, err := w.pieceGetter.GetPiece(ctx, idx)
		if err != nil {
			return err
		}
		piece, found = p, f
		return nil
	}, fetchBackoff()...)
	return piece, found, err
}

// fetchFromNode wraps node.Piece with the same retry policy, used by the
// live archived-segment path where the node itself is the only source.
func (w *Worker) fetchFromNode(ctx context.Context, idx farmcache.PieceIndex) (farmcache.Piece, bool, error) {
	var piece farmcache.Piece
	var found bool
	err := retry.Do(ctx, func(ctx context.Context) error {
		p, f, err := w.node.Piece(ctx, idx)
		if err != nil {
			return err
		}
		piece, found = p, f
		return nil
	}, fetchBackoff()...)
	return piece, found, err
}
