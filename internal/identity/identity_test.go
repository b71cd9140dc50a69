package identity

import (
	"strings"
	"testing"
)

func TestPeerIDParseRoundTrip(t *testing.T) {
	pub, _, err := GenKeypair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	id, err := FromPublicKey(pub)
	if err != nil {
		t.Fatalf("from public key: %v", err)
	}
	back, err := Parse(id.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if back != id {
		t.Fatalf("round trip mismatch")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"zzzz",
		"abcd", // too short
		strings.Repeat("ab", IDSize) + "ff",
	}
	for _, s := range cases {
		if _, err := Parse(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestAllowListMembership(t *testing.T) {
	var p1, p2 PeerID
	p1[0] = 1
	p2[0] = 2
	allow := NewAllowList(p1)
	if !allow.Allows(p1) {
		t.Fatalf("expected p1 allowed")
	}
	if allow.Allows(p2) {
		t.Fatalf("expected p2 rejected")
	}
	if allow.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", allow.Len())
	}
}

func TestParseAllowListDropsMalformed(t *testing.T) {
	var p1 PeerID
	p1[0] = 0xab
	allow := ParseAllowList([]string{p1.String(), "not-hex", "", "  "})
	if allow.Len() != 1 {
		t.Fatalf("expected malformed entries dropped, got %d entries", allow.Len())
	}
	if !allow.Allows(p1) {
		t.Fatalf("valid entry dropped")
	}
}

func TestParseAllowListCSV(t *testing.T) {
	var p1, p2 PeerID
	p1[0] = 1
	p2[0] = 2
	csv := p1.String() + ", " + p2.String() + ",garbage"
	allow := ParseAllowListCSV(csv)
	if allow.Len() != 2 || !allow.Allows(p1) || !allow.Allows(p2) {
		t.Fatalf("csv parse wrong: %d entries", allow.Len())
	}
}

func TestNilAllowListRejects(t *testing.T) {
	var allow *AllowList
	if allow.Allows(PeerID{1}) {
		t.Fatalf("nil allow-list admitted a peer")
	}
}

func TestLoadOrCreateKeypairStable(t *testing.T) {
	dir := t.TempDir()
	pub1, priv1, err := LoadOrCreateKeypair(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	pub2, priv2, err := LoadOrCreateKeypair(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if string(pub1) != string(pub2) || string(priv1) != string(priv2) {
		t.Fatalf("keypair changed between loads")
	}
}
