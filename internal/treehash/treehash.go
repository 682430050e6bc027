// Package treehash computes the SHA-256 tree hash the archival service uses
// to verify uploaded and downloaded content.
//
// Content is split into 1 MiB sub-chunks by absolute byte offset. Each
// sub-chunk is hashed, then adjacent pairs are concatenated and hashed level
// by level until one digest remains. An odd trailing node is promoted to the
// next level unchanged.
package treehash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

// ChunkSize is the leaf size of the tree.
const ChunkSize = 1 << 20

var ErrEmpty = errors.New("tree hash of empty stream")

type Hash [sha256.Size]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Parse decodes a 64-character hex digest.
func Parse(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parsing tree hash: %w", err)
	}
	if len(b) != sha256.Size {
		return h, fmt.Errorf("tree hash is %d bytes, want %d", len(b), sha256.Size)
	}
	copy(h[:], b)
	return h, nil
}

// Combine reduces hashes to their tree root. A single hash is its own root.
// Combine panics on an empty list.
func Combine(hashes []Hash) Hash {
	if len(hashes) == 0 {
		panic("treehash.Combine: empty hash list")
	}

	level := make([]Hash, len(hashes))
	copy(level, hashes)

	var pair [2 * sha256.Size]byte
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			copy(pair[:sha256.Size], level[i][:])
			copy(pair[sha256.Size:], level[i+1][:])
			next = append(next, sha256.Sum256(pair[:]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}

	return level[0]
}

// Of returns the tree hash of b. The tree hash of no data is the SHA-256 of
// the empty string.
func Of(b []byte) Hash {
	if len(b) == 0 {
		return sha256.Sum256(nil)
	}

	leaves := make([]Hash, 0, (len(b)+ChunkSize-1)/ChunkSize)
	for off := 0; off < len(b); off += ChunkSize {
		end := min(off+ChunkSize, len(b))
		leaves = append(leaves, sha256.Sum256(b[off:end]))
	}
	return Combine(leaves)
}

// Accumulator computes a tree hash incrementally. Bytes written to it are
// assigned to sub-chunks by their offset in the stream, so the result does not
// depend on how the writes are sized.
//
// Parts are delimited with ClosePart. Part boundaries must fall on multiples
// of ChunkSize for the root over part digests to equal the tree hash of the
// whole stream, which holds for every valid part size.
type Accumulator struct {
	buf    []byte
	leaves []Hash
	parts  []Hash
	linear hash.Hash
	size   uint64
}

func New() *Accumulator {
	return &Accumulator{
		buf:    make([]byte, 0, ChunkSize),
		linear: sha256.New(),
	}
}

// Write never fails.
func (a *Accumulator) Write(p []byte) (int, error) {
	n := len(p)
	a.linear.Write(p)
	a.size += uint64(n)

	for len(p) > 0 {
		room := ChunkSize - len(a.buf)
		if room > len(p) {
			room = len(p)
		}
		a.buf = append(a.buf, p[:room]...)
		p = p[room:]

		if len(a.buf) == ChunkSize {
			a.leaves = append(a.leaves, sha256.Sum256(a.buf))
			a.buf = a.buf[:0]
		}
	}

	return n, nil
}

// ClosePart finishes the current part and returns its digest. It returns the
// zero Hash and records nothing when no bytes were written since the last
// call.
func (a *Accumulator) ClosePart() Hash {
	if len(a.buf) > 0 {
		a.leaves = append(a.leaves, sha256.Sum256(a.buf))
		a.buf = a.buf[:0]
	}
	if len(a.leaves) == 0 {
		return Hash{}
	}

	h := Combine(a.leaves)
	a.parts = append(a.parts, h)
	a.leaves = a.leaves[:0]
	return h
}

// Sum closes any open part and returns the root over all part digests.
func (a *Accumulator) Sum() (Hash, error) {
	a.ClosePart()
	if len(a.parts) == 0 {
		return Hash{}, ErrEmpty
	}
	return Combine(a.parts), nil
}

// Parts returns the digests of the closed parts in order.
func (a *Accumulator) Parts() []Hash {
	out := make([]Hash, len(a.parts))
	copy(out, a.parts)
	return out
}

// Linear returns the plain SHA-256 of everything written so far.
func (a *Accumulator) Linear() Hash {
	var h Hash
	copy(h[:], a.linear.Sum(nil))
	return h
}

// Size returns the number of bytes written.
func (a *Accumulator) Size() uint64 {
	return a.size
}
