package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/glimmernet/piececache/internal/farmcache"
)

func TestMemoryBackend_WriteThenReadRoundTrips(t *testing.T) {
	b := NewMemoryBackend("b0", 4)
	ctx := context.Background()

	if err := b.WritePiece(ctx, 2, 42, farmcache.Piece("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	idx, piece, err := b.ReadPiece(ctx, 2)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if idx != 42 || string(piece) != "hello" {
		t.Fatalf("got idx=%d piece=%q", idx, piece)
	}
}

func TestMemoryBackend_ReadEmptySlotReturnsErrSlotEmpty(t *testing.T) {
	b := NewMemoryBackend("b0", 4)
	_, _, err := b.ReadPiece(context.Background(), 0)
	if !errors.Is(err, farmcache.ErrSlotEmpty) {
		t.Fatalf("expected ErrSlotEmpty, got %v", err)
	}
}

func TestMemoryBackend_RemoveAtTombstonesSlot(t *testing.T) {
	b := NewMemoryBackend("b0", 4)
	ctx := context.Background()
	_ = b.WritePiece(ctx, 0, 1, farmcache.Piece("x"))

	b.RemoveAt(0)

	_, _, err := b.ReadPiece(ctx, 0)
	if !errors.Is(err, farmcache.ErrSlotEmpty) {
		t.Fatalf("expected tombstoned slot to read as empty, got %v", err)
	}
}

func TestMemoryBackend_InjectedFaultTakesPriorityOverState(t *testing.T) {
	b := NewMemoryBackend("b0", 4)
	ctx := context.Background()
	_ = b.WritePiece(ctx, 0, 1, farmcache.Piece("x"))

	wantErr := errors.New("disk corruption")
	b.InjectReadFault(0, wantErr)

	_, _, err := b.ReadPiece(ctx, 0)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected injected fault to take priority, got %v", err)
	}

	_, _, ferr := b.ReadPieceIndex(ctx, 0)
	if !errors.Is(ferr, wantErr) {
		t.Fatalf("expected ReadPieceIndex to surface the same injected fault, got %v", ferr)
	}
}

func TestMemoryBackend_ContentsIteratesUpToHighWaterMark(t *testing.T) {
	b := NewMemoryBackend("b0", 8)
	ctx := context.Background()

	b.SeedOccupied(0, 10, farmcache.Piece("a"))
	b.SeedTombstoned(1)
	b.SeedOccupied(2, 12, farmcache.Piece("c"))

	iter, err := b.Contents(ctx)
	if err != nil {
		t.Fatalf("contents failed: %v", err)
	}

	var occupiedCount, emptyCount int
	var seen int
	for {
		item, ok, err := iter.Next(ctx)
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if !ok {
			break
		}
		seen++
		if item.Occupied {
			occupiedCount++
		} else {
			emptyCount++
		}
	}

	if seen != 3 {
		t.Fatalf("expected iteration to stop at the high-water mark (3), got %d items", seen)
	}
	if occupiedCount != 2 || emptyCount != 1 {
		t.Fatalf("expected 2 occupied and 1 empty, got occupied=%d empty=%d", occupiedCount, emptyCount)
	}
}

func TestMemoryBackend_SeedTombstonedCountsTowardHighWaterMark(t *testing.T) {
	b := NewMemoryBackend("b0", 8)
	b.SeedTombstoned(3)

	iter, _ := b.Contents(context.Background())
	var seen int
	for {
		_, ok, err := iter.Next(context.Background())
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if !ok {
			break
		}
		seen++
	}
	if seen != 4 {
		t.Fatalf("expected high-water mark to reach offset+1=4, saw %d items", seen)
	}
}

func TestMemoryBackend_WritePastCapacityFails(t *testing.T) {
	b := NewMemoryBackend("b0", 2)
	err := b.WritePiece(context.Background(), 5, 1, farmcache.Piece("x"))
	if err == nil {
		t.Fatal("expected an out-of-range error")
	}
}
