package proximity

import (
	"crypto/sha1"
	"sort"
	"testing"

	"github.com/glimmernet/piececache/internal/recordkey"
)

func fakeEncoder() recordkey.Encoder {
	return recordkey.EncoderFunc(func(index recordkey.PieceIndex) recordkey.Key {
		var k recordkey.Key
		sum := sha1.Sum([]byte{byte(index), byte(index >> 8), byte(index >> 16)})
		copy(k[:], sum[:])
		return k
	})
}

func TestHeap_InsertWithinLimitNeverEvicts(t *testing.T) {
	var peer recordkey.Key
	h := New(peer, fakeEncoder())
	h.SetLimit(10)

	for i := recordkey.PieceIndex(0); i < 5; i++ {
		if _, evicted := h.Insert(i); evicted {
			t.Fatalf("unexpected eviction while under capacity")
		}
	}

	if h.Len() != 5 {
		t.Fatalf("len = %d, want 5", h.Len())
	}
}

func TestHeap_DuplicateInsertIsNoop(t *testing.T) {
	var peer recordkey.Key
	h := New(peer, fakeEncoder())
	h.SetLimit(10)

	h.Insert(42)
	if _, evicted := h.Insert(42); evicted {
		t.Fatalf("re-inserting an existing key should never evict")
	}
	if h.Len() != 1 {
		t.Fatalf("len = %d, want 1", h.Len())
	}
}

func TestHeap_OverflowKeepsClosestK(t *testing.T) {
	var peer recordkey.Key
	enc := fakeEncoder()
	h := New(peer, enc)
	h.SetLimit(3)

	type dist struct {
		idx recordkey.PieceIndex
		d   recordkey.Key
	}
	all := make([]dist, 0, 20)
	for i := recordkey.PieceIndex(0); i < 20; i++ {
		all = append(all, dist{idx: i, d: recordkey.Distance(peer, enc.RecordKeyOf(i))})
	}
	sort.Slice(all, func(i, j int) bool {
		return recordkey.Compare(peer, all[i].d, all[j].d) < 0
	})
	wantClosest := map[recordkey.PieceIndex]bool{}
	for _, d := range all[:3] {
		wantClosest[d.idx] = true
	}

	for _, d := range all {
		h.Insert(d.idx)
	}

	if h.Len() != 3 {
		t.Fatalf("len = %d, want 3", h.Len())
	}
	for _, got := range h.Keys() {
		if !wantClosest[got] {
			t.Fatalf("kept index %d is not among the 3 closest", got)
		}
	}
}

func TestHeap_OverflowKeepsClosestKToNonZeroPeer(t *testing.T) {
	// A non-zero peer identity catches a double-XOR regression: if the
	// heap's comparator re-applies Distance(peerID, ...) to values that
	// are already distances, peerID cancels out and the heap silently
	// orders by raw record key instead of by distance from peerID. With
	// peer == 0 that bug is invisible, since Distance(0, k) == k.
	enc := fakeEncoder()
	var peer recordkey.Key
	copy(peer[:], []byte{0xAB, 0xCD, 0xEF, 0x01, 0x23})
	h := New(peer, enc)
	h.SetLimit(3)

	type dist struct {
		idx recordkey.PieceIndex
		d   recordkey.Key
	}
	all := make([]dist, 0, 20)
	for i := recordkey.PieceIndex(0); i < 20; i++ {
		all = append(all, dist{idx: i, d: recordkey.Distance(peer, enc.RecordKeyOf(i))})
	}
	sort.Slice(all, func(i, j int) bool {
		return recordkey.Compare(peer, enc.RecordKeyOf(all[i].idx), enc.RecordKeyOf(all[j].idx)) < 0
	})
	wantClosest := map[recordkey.PieceIndex]bool{}
	for _, d := range all[:3] {
		wantClosest[d.idx] = true
	}

	for _, d := range all {
		h.Insert(d.idx)
	}

	if h.Len() != 3 {
		t.Fatalf("len = %d, want 3", h.Len())
	}
	for _, got := range h.Keys() {
		if !wantClosest[got] {
			t.Fatalf("kept index %d is not among the 3 closest to a non-zero peer identity", got)
		}
	}
}

func TestHeap_ShouldIncludeKeyMatchesInsertOutcome(t *testing.T) {
	var peer recordkey.Key
	enc := fakeEncoder()
	h := New(peer, enc)
	h.SetLimit(2)

	h.Insert(1)
	h.Insert(2)

	contains := func(idx recordkey.PieceIndex) bool {
		for _, k := range h.Keys() {
			if k == idx {
				return true
			}
		}
		return false
	}

	for i := recordkey.PieceIndex(0); i < 30; i++ {
		want := h.ShouldIncludeKey(i)
		h.Insert(i)
		if want != contains(i) {
			t.Fatalf("ShouldIncludeKey(%d) = %v, but presence after Insert = %v", i, want, contains(i))
		}
	}
}

func TestHeap_RemoveThenShouldIncludeAgain(t *testing.T) {
	var peer recordkey.Key
	h := New(peer, fakeEncoder())
	h.SetLimit(1)

	h.Insert(5)
	if h.ShouldIncludeKey(5) != true {
		t.Fatalf("present key should report includable")
	}

	h.Remove(5)
	if h.Len() != 0 {
		t.Fatalf("len after remove = %d, want 0", h.Len())
	}
}

func TestHeap_SetLimitShrinksEvictsFarthest(t *testing.T) {
	var peer recordkey.Key
	enc := fakeEncoder()
	h := New(peer, enc)
	h.SetLimit(5)

	for i := recordkey.PieceIndex(0); i < 5; i++ {
		h.Insert(i)
	}

	h.SetLimit(2)
	if h.Len() != 2 {
		t.Fatalf("len after shrink = %d, want 2", h.Len())
	}
}
