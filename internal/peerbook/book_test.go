package peerbook

import (
	"os"
	"path/filepath"
	"testing"

	"homevault/internal/identity"
)

func TestRecordPersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.jsonl")
	var p1 identity.PeerID
	p1[0] = 1

	b, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := b.Record(p1, "10.0.0.1:4747"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := b.Record(p1, "10.0.0.1:4747"); err != nil {
		t.Fatalf("duplicate record failed: %v", err)
	}
	if err := b.Record(p1, "10.0.0.2:4747"); err != nil {
		t.Fatalf("second record failed: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	addrs := reloaded.Addrs(p1)
	if len(addrs) != 2 || addrs[0] != "10.0.0.1:4747" || addrs[1] != "10.0.0.2:4747" {
		t.Fatalf("unexpected addrs after reload: %v", addrs)
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.jsonl")
	var p1 identity.PeerID
	p1[0] = 1
	lines := "not json\n" +
		`{"peer_id":"zz","addr":"1.2.3.4:1"}` + "\n" +
		`{"peer_id":"` + p1.String() + `","addr":"5.6.7.8:9"}` + "\n" +
		`{"peer_id":"` + p1.String() + `","addr":""}` + "\n"
	if err := os.WriteFile(path, []byte(lines), 0600); err != nil {
		t.Fatalf("write book: %v", err)
	}
	b, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	addrs := b.Addrs(p1)
	if len(addrs) != 1 || addrs[0] != "5.6.7.8:9" {
		t.Fatalf("unexpected addrs: %v", addrs)
	}
}

func TestSeedIsNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.jsonl")
	var p1 identity.PeerID
	p1[0] = 3

	b, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	b.Seed(p1, []string{"10.1.1.1:4747"})
	if addrs := b.Addrs(p1); len(addrs) != 1 {
		t.Fatalf("seed not visible: %v", addrs)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if addrs := reloaded.Addrs(p1); len(addrs) != 0 {
		t.Fatalf("seed leaked to disk: %v", addrs)
	}
}

func TestAllAddrsDeduplicates(t *testing.T) {
	b, err := Load(filepath.Join(t.TempDir(), "peers.jsonl"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	var p1, p2 identity.PeerID
	p1[0] = 1
	p2[0] = 2
	b.Seed(p1, []string{"a:1", "b:1"})
	b.Seed(p2, []string{"b:1", "c:1"})
	all := b.AllAddrs()
	if len(all) != 3 {
		t.Fatalf("expected 3 unique addrs, got %v", all)
	}
}
