package blob

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"homevault/internal/identity"
	"homevault/internal/peerbook"
)

// FetchStream is one blob-protocol exchange. CloseSend finishes the
// request half; Close releases the stream and whatever carries it.
type FetchStream interface {
	io.Reader
	io.Writer
	CloseSend() error
	Close() error
}

// DialFunc opens a blob-protocol stream to addr. When expect is non-nil
// the dial fails unless the remote proves that identity.
type DialFunc func(ctx context.Context, addr string, expect *identity.PeerID) (FetchStream, error)

// Downloader pulls single objects into the local store. A ticket's own
// addresses are tried first, then the hinted peer's known addresses, then
// every address in the peer book. Content is verified against the hash
// before commit, so unpinned last-resort sources are safe.
type Downloader struct {
	store *Store
	book  *peerbook.Book
	dial  DialFunc
	log   *zap.Logger
}

func NewDownloader(store *Store, book *peerbook.Book, dial DialFunc, log *zap.Logger) *Downloader {
	return &Downloader{store: store, book: book, dial: dial, log: log}
}

type source struct {
	addr   string
	expect *identity.PeerID
}

// Fetch makes the ticket's content durably available in the local store.
// Content already present succeeds without touching the network.
func (d *Downloader) Fetch(ctx context.Context, t Ticket) error {
	if d.store.Has(t.Hash) {
		return nil
	}

	var sources []source
	seen := make(map[string]struct{})
	push := func(addr string, expect *identity.PeerID) {
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		sources = append(sources, source{addr: addr, expect: expect})
	}
	for _, a := range t.Addrs {
		push(a, t.Node)
	}
	if t.Node != nil {
		for _, a := range d.book.Addrs(*t.Node) {
			push(a, t.Node)
		}
	}
	for _, a := range d.book.AllAddrs() {
		push(a, nil)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no known source for %s", t.Hash)
	}

	var lastErr error
	for _, src := range sources {
		stream, err := d.dial(ctx, src.addr, src.expect)
		if err != nil {
			lastErr = err
			d.log.Debug("dial failed", zap.String("addr", src.addr), zap.Error(err))
			continue
		}
		if err := d.fetchOne(stream, t.Hash); err != nil {
			lastErr = err
			d.log.Debug("fetch failed", zap.String("addr", src.addr), zap.Stringer("hash", t.Hash), zap.Error(err))
			continue
		}
		if src.expect != nil {
			_ = d.book.Record(*src.expect, src.addr)
		}
		return nil
	}
	return lastErr
}

func (d *Downloader) fetchOne(stream FetchStream, h Hash) error {
	defer stream.Close()
	if err := WriteFrame(stream, fetchRequest{Hash: h[:]}); err != nil {
		return err
	}
	// Finish the send half; the response arrives on the receive half.
	if err := stream.CloseSend(); err != nil {
		return err
	}
	var resp fetchResponse
	if err := ReadFrame(stream, &resp); err != nil {
		return err
	}
	if !resp.Found {
		return fmt.Errorf("remote does not have %s", h)
	}
	if resp.Size < 0 {
		return fmt.Errorf("bad blob size %d", resp.Size)
	}
	return d.store.PutExpected(io.LimitReader(stream, resp.Size), h)
}
