// Package recordkey defines the fixed-width key type used throughout the
// cache as the metric space for XOR-distance comparisons, along with the
// small set of helpers built on top of it (distance, comparison, encoding).
//
// The mapping from a piece index to its record key is a network-layer
// concern (see spec §6) and is therefore represented as an injected
// Encoder rather than computed here.
package recordkey

import "fmt"

// Size is the width, in bytes, of a record key. It matches the width of the
// multihash-style digest the network layer is documented to produce.
const Size = 32

// PieceIndex is the stable integer identifier of a piece.
type PieceIndex uint64

// SegmentIndex is the ordinal of a segment, starting at zero.
type SegmentIndex uint64

// Key is a fixed-width byte string used as the metric space for
// XOR-distance comparisons against a peer identity.
type Key [Size]byte

func (k Key) String() string {
	return fmt.Sprintf("%x", k[:])
}

// Encoder derives a Key from a PieceIndex. Implementations are supplied by
// the network layer; this package makes no assumption about the underlying
// hash.
type Encoder interface {
	RecordKeyOf(index PieceIndex) Key
}

// EncoderFunc adapts a plain function to an Encoder.
type EncoderFunc func(PieceIndex) Key

func (f EncoderFunc) RecordKeyOf(index PieceIndex) Key { return f(index) }
