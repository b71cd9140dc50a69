// Package blob implements the content-addressed object store, the ticket
// format, and the blob transfer protocol used between nodes.
package blob

import (
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const HashSize = blake2b.Size256

// Hash addresses one stored object by its blake2b-256 digest.
type Hash [HashSize]byte

func Sum(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// NewHasher returns a streaming blake2b-256 hasher.
func NewHasher() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // unkeyed blake2b cannot fail
	}
	return h
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func ParseHash(s string) (Hash, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Hash{}, fmt.Errorf("bad hash %q: %w", s, err)
	}
	if len(raw) != HashSize {
		return Hash{}, fmt.Errorf("bad hash %q: want %d bytes, got %d", s, HashSize, len(raw))
	}
	var out Hash
	copy(out[:], raw)
	return out, nil
}
