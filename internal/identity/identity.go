// Package identity holds the node keypair and the peer identities derived
// from it. A PeerID is the ed25519 public key a peer presented during the
// TLS handshake; it is the only notion of "who" in the system.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const IDSize = ed25519.PublicKeySize

type PeerID [IDSize]byte

func FromPublicKey(pub ed25519.PublicKey) (PeerID, error) {
	if len(pub) != IDSize {
		return PeerID{}, fmt.Errorf("bad public key size %d", len(pub))
	}
	var id PeerID
	copy(id[:], pub)
	return id, nil
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns a truncated form for log lines.
func (id PeerID) Short() string {
	return hex.EncodeToString(id[:8])
}

func (id PeerID) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(id[:])
}

func Parse(s string) (PeerID, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return PeerID{}, fmt.Errorf("bad peer id %q: %w", s, err)
	}
	if len(raw) != IDSize {
		return PeerID{}, fmt.Errorf("bad peer id %q: want %d bytes, got %d", s, IDSize, len(raw))
	}
	var id PeerID
	copy(id[:], raw)
	return id, nil
}

// AllowList is the static set of peers admitted to the control protocol.
// Built once at startup and never mutated afterwards, so lookups need no
// locking.
type AllowList struct {
	ids map[PeerID]struct{}
}

func NewAllowList(ids ...PeerID) *AllowList {
	m := make(map[PeerID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return &AllowList{ids: m}
}

// ParseAllowList builds an AllowList from raw entries. Entries that do not
// parse as a PeerID are dropped.
func ParseAllowList(raw []string) *AllowList {
	m := make(map[PeerID]struct{}, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		id, err := Parse(s)
		if err != nil {
			continue
		}
		m[id] = struct{}{}
	}
	return &AllowList{ids: m}
}

// ParseAllowListCSV parses a comma-delimited allow-list, as supplied via
// the environment.
func ParseAllowListCSV(csv string) *AllowList {
	return ParseAllowList(strings.Split(csv, ","))
}

func (a *AllowList) Allows(id PeerID) bool {
	if a == nil {
		return false
	}
	_, ok := a.ids[id]
	return ok
}

func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.ids)
}

const (
	pubFile  = "pub.hex"
	privFile = "priv.hex"
)

func GenKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

func SaveKeypair(dir string, pub ed25519.PublicKey, priv ed25519.PrivateKey) error {
	if len(pub) == 0 || len(priv) == 0 {
		return errors.New("empty key")
	}
	if err := os.WriteFile(filepath.Join(dir, pubFile), []byte(hex.EncodeToString(pub)), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, privFile), []byte(hex.EncodeToString(priv)), 0600)
}

func LoadKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pubHex, err := os.ReadFile(filepath.Join(dir, pubFile))
	if err != nil {
		return nil, nil, err
	}
	privHex, err := os.ReadFile(filepath.Join(dir, privFile))
	if err != nil {
		return nil, nil, err
	}
	pub, err := hex.DecodeString(strings.TrimSpace(string(pubHex)))
	if err != nil {
		return nil, nil, fmt.Errorf("bad %s", pubFile)
	}
	priv, err := hex.DecodeString(strings.TrimSpace(string(privHex)))
	if err != nil {
		return nil, nil, fmt.Errorf("bad %s", privFile)
	}
	if len(pub) != ed25519.PublicKeySize || len(priv) != ed25519.PrivateKeySize {
		return nil, nil, errors.New("bad key size on disk")
	}
	return pub, priv, nil
}

// LoadOrCreateKeypair loads the node keypair from dir, generating and
// persisting a fresh one on first run.
func LoadOrCreateKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, nil, err
	}
	pub, priv, err := LoadKeypair(dir)
	if err == nil {
		return pub, priv, nil
	}
	if !os.IsNotExist(err) {
		return nil, nil, err
	}
	pub, priv, err = GenKeypair()
	if err != nil {
		return nil, nil, err
	}
	if err := SaveKeypair(dir, pub, priv); err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}
