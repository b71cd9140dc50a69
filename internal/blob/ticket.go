package blob

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"homevault/internal/identity"
)

// ticketPrefix marks a homevault ticket string.
const ticketPrefix = "hvt"

var ticketEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Ticket identifies one piece of content and, optionally, where to fetch
// it from. The string form is opaque to the control protocol: hvt +
// base32(msgpack payload).
type Ticket struct {
	Hash  Hash
	Node  *identity.PeerID
	Addrs []string
}

type ticketPayload struct {
	H []byte   `msgpack:"h"`
	N []byte   `msgpack:"n,omitempty"`
	A []string `msgpack:"a,omitempty"`
}

func (t Ticket) String() string {
	p := ticketPayload{H: t.Hash[:], A: t.Addrs}
	if t.Node != nil {
		p.N = t.Node[:]
	}
	raw, err := msgpack.Marshal(p)
	if err != nil {
		// The payload is plain bytes and strings; encoding cannot fail.
		panic(err)
	}
	return ticketPrefix + strings.ToLower(ticketEncoding.EncodeToString(raw))
}

func ParseTicket(s string) (Ticket, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, ticketPrefix) {
		return Ticket{}, fmt.Errorf("missing %q prefix", ticketPrefix)
	}
	raw, err := ticketEncoding.DecodeString(strings.ToUpper(s[len(ticketPrefix):]))
	if err != nil {
		return Ticket{}, fmt.Errorf("bad ticket encoding: %w", err)
	}
	var p ticketPayload
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		return Ticket{}, fmt.Errorf("bad ticket payload: %w", err)
	}
	if len(p.H) != HashSize {
		return Ticket{}, errors.New("bad ticket hash size")
	}
	t := Ticket{Addrs: p.A}
	copy(t.Hash[:], p.H)
	if len(p.N) > 0 {
		id, err := identity.FromPublicKey(p.N)
		if err != nil {
			return Ticket{}, fmt.Errorf("bad ticket node id: %w", err)
		}
		t.Node = &id
	}
	return t, nil
}
