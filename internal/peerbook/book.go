// Package peerbook persists the dial addresses known for other nodes. It
// is the normal discovery path used when a ticket carries no source hint.
package peerbook

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"homevault/internal/identity"
)

const maxScanSize = 1 << 20

type record struct {
	PeerID string `json:"peer_id"`
	Addr   string `json:"addr"`
}

// Book maps peer ids to the addresses they were last reachable at.
// Records are appended to a JSONL file; malformed lines are skipped on
// load.
type Book struct {
	mu    sync.Mutex
	path  string
	addrs map[identity.PeerID][]string
}

func Load(path string) (*Book, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	b := &Book{path: path, addrs: make(map[identity.PeerID][]string)}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, err
	}
	defer f.Close()
	sc := newScanner(f)
	for sc.Scan() {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		id, err := identity.Parse(r.PeerID)
		if err != nil || r.Addr == "" {
			continue
		}
		b.add(id, r.Addr)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxScanSize)
	return sc
}

// Seed adds addresses without persisting them, for statically configured
// peers.
func (b *Book) Seed(id identity.PeerID, addrs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range addrs {
		if a != "" {
			b.add(id, a)
		}
	}
}

// Record remembers that id was reachable at addr and appends it to the
// book file if new.
func (b *Book) Record(id identity.PeerID, addr string) error {
	if addr == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.add(id, addr) {
		return nil
	}
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(record{PeerID: id.String(), Addr: addr}); err != nil {
		return err
	}
	return f.Sync()
}

// add reports whether the addr was new for id. Caller holds the lock.
func (b *Book) add(id identity.PeerID, addr string) bool {
	for _, a := range b.addrs[id] {
		if a == addr {
			return false
		}
	}
	b.addrs[id] = append(b.addrs[id], addr)
	return true
}

// Addrs returns the known addresses for one peer, most recent last.
func (b *Book) Addrs(id identity.PeerID) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.addrs[id]))
	copy(out, b.addrs[id])
	return out
}

// AllAddrs returns every known address across all peers, deduplicated.
func (b *Book) AllAddrs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, addrs := range b.addrs {
		for _, a := range addrs {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}
