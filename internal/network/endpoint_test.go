package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"go.uber.org/zap"

	"homevault/internal/blob"
	"homevault/internal/control"
	"homevault/internal/identity"
	"homevault/internal/metrics"
	"homevault/internal/peerbook"
)

type testNode struct {
	endpoint *Endpoint
	store    *blob.Store
	addr     string
}

func newKeypair(t *testing.T) (identity.PeerID, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := identity.GenKeypair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	id, err := identity.FromPublicKey(pub)
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}
	return id, priv
}

// startNode brings up a full node: store, peer book, control handler, blob
// server, listening endpoint.
func startNode(t *testing.T, priv ed25519.PrivateKey, allow *identity.AllowList) *testNode {
	t.Helper()
	dir := t.TempDir()
	log := zap.NewNop()
	store, err := blob.NewStore(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	book, err := peerbook.Load(filepath.Join(dir, "peers.jsonl"))
	if err != nil {
		t.Fatalf("load book: %v", err)
	}
	m := metrics.New()

	var endpoint *Endpoint
	dial := func(ctx context.Context, addr string, expect *identity.PeerID) (blob.FetchStream, error) {
		return endpoint.DialBlob(ctx, addr, expect)
	}
	downloader := blob.NewDownloader(store, book, dial, log)
	handler := control.NewHandler(allow, downloader, m, log)
	endpoint, err = NewEndpoint(priv, handler, blob.NewServer(store, m, log), log)
	if err != nil {
		t.Fatalf("new endpoint: %v", err)
	}

	port, err := freeport.GetFreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	if err := endpoint.Listen(addr); err != nil {
		t.Fatalf("listen on %s: %v", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = endpoint.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = endpoint.Close()
	})
	return &testNode{endpoint: endpoint, store: store, addr: addr}
}

func TestBackupFlowEndToEnd(t *testing.T) {
	clientID, clientPriv := newKeypair(t)
	_, seederPriv := newKeypair(t)
	_, vaultPriv := newKeypair(t)

	seeder := startNode(t, seederPriv, identity.NewAllowList())
	vault := startNode(t, vaultPriv, identity.NewAllowList(clientID))

	content := []byte("family photos, most precious bytes")
	hash, _, err := seeder.store.Put(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	seederID := seeder.endpoint.ID()
	ticket := blob.Ticket{Hash: hash, Node: &seederID, Addrs: []string{seeder.addr}}

	client, err := NewEndpoint(clientPriv, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("client endpoint: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	conn, err := client.DialControl(ctx, vault.addr, vault.endpoint.ID())
	if err != nil {
		t.Fatalf("dial control: %v", err)
	}
	defer conn.Close()
	stream, err := conn.OpenStream(ctx)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	ack, err := control.Call(stream, control.BeginBackupRequest{
		DeviceTag: "laptop-e2e",
		Tickets:   []string{ticket.String()},
	})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !ack.OK || ack.Downloaded != 1 || ack.Failed != 0 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if ack.JobID == 0 {
		t.Fatalf("job id not assigned")
	}
	if !vault.store.Has(hash) {
		t.Fatalf("blob not present in vault store after backup")
	}
}

func TestPartialFailureAccounting(t *testing.T) {
	clientID, clientPriv := newKeypair(t)
	_, seederPriv := newKeypair(t)
	_, vaultPriv := newKeypair(t)

	seeder := startNode(t, seederPriv, identity.NewAllowList())
	vault := startNode(t, vaultPriv, identity.NewAllowList(clientID))

	content := []byte("only this object exists")
	hash, _, err := seeder.store.Put(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	seederID := seeder.endpoint.ID()
	good := blob.Ticket{Hash: hash, Node: &seederID, Addrs: []string{seeder.addr}}
	missing := blob.Ticket{Hash: blob.Sum([]byte("not seeded anywhere")), Node: &seederID, Addrs: []string{seeder.addr}}

	client, err := NewEndpoint(clientPriv, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("client endpoint: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	conn, err := client.DialControl(ctx, vault.addr, vault.endpoint.ID())
	if err != nil {
		t.Fatalf("dial control: %v", err)
	}
	defer conn.Close()
	stream, err := conn.OpenStream(ctx)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	ack, err := control.Call(stream, control.BeginBackupRequest{
		DeviceTag: "laptop-e2e",
		Tickets:   []string{good.String(), missing.String(), "garbage-ticket"},
	})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if ack.OK || ack.Downloaded != 1 || ack.Failed != 2 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if ack.Error == nil || *ack.Error != "2 failures" {
		t.Fatalf("unexpected ack error: %v", ack.Error)
	}
}

func TestUnauthorizedPeerGetsNoAck(t *testing.T) {
	allowedID, _ := newKeypair(t)
	_, strangerPriv := newKeypair(t)
	_, vaultPriv := newKeypair(t)

	vault := startNode(t, vaultPriv, identity.NewAllowList(allowedID))

	stranger, err := NewEndpoint(strangerPriv, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("stranger endpoint: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	conn, err := stranger.DialControl(ctx, vault.addr, vault.endpoint.ID())
	if err != nil {
		t.Fatalf("dial control: %v", err)
	}
	defer conn.Close()
	stream, err := conn.OpenStream(ctx)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if _, err := control.Call(stream, control.BeginBackupRequest{DeviceTag: "stranger"}); err == nil {
		t.Fatalf("expected no ack for unauthorized peer")
	}
}

func TestDialRejectsWrongIdentity(t *testing.T) {
	wrongID, _ := newKeypair(t)
	clientID, clientPriv := newKeypair(t)
	_, vaultPriv := newKeypair(t)

	vault := startNode(t, vaultPriv, identity.NewAllowList(clientID))

	client, err := NewEndpoint(clientPriv, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("client endpoint: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.DialControl(ctx, vault.addr, wrongID); err == nil {
		t.Fatalf("expected handshake failure for wrong expected identity")
	}
}
