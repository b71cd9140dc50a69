// Package network binds the node's QUIC endpoint and dispatches accepted
// connections by negotiated protocol: control sessions to the control
// handler, blob fetches to the blob server. The remote peer's identity is
// the ed25519 key carried in its TLS certificate.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"errors"
	"net"

	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"homevault/internal/blob"
	"homevault/internal/control"
	"homevault/internal/identity"
)

// Application error codes carried in CONNECTION_CLOSE frames.
const (
	closeOK              = quic.ApplicationErrorCode(0)
	closeControlFailed   = quic.ApplicationErrorCode(1)
	closeUnknownProtocol = quic.ApplicationErrorCode(2)
)

type Endpoint struct {
	id       identity.PeerID
	cert     tls.Certificate
	control  *control.Handler
	blobs    *blob.Server
	log      *zap.Logger
	listener *quic.Listener
}

// NewEndpoint prepares an endpoint keyed by priv. Handlers may be nil for
// a client-only endpoint that never listens.
func NewEndpoint(priv ed25519.PrivateKey, ctrl *control.Handler, blobs *blob.Server, log *zap.Logger) (*Endpoint, error) {
	id, err := identity.FromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	cert, err := certificateFor(priv)
	if err != nil {
		return nil, err
	}
	return &Endpoint{id: id, cert: cert, control: ctrl, blobs: blobs, log: log}, nil
}

func (e *Endpoint) ID() identity.PeerID {
	return e.id
}

func (e *Endpoint) Listen(addr string) error {
	tlsConf := &tls.Config{
		Certificates:          []tls.Certificate{e.cert},
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: verifyPeer(nil),
		NextProtos:            []string{control.ALPN, blob.ALPN},
		MinVersion:            tls.VersionTLS13,
	}
	listener, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return err
	}
	e.listener = listener
	e.log.Info("listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("node_id", e.id.String()))
	return nil
}

// Addr returns the bound address, valid after Listen.
func (e *Endpoint) Addr() net.Addr {
	return e.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection is handled on its own goroutine.
func (e *Endpoint) Serve(ctx context.Context) error {
	for {
		conn, err := e.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go e.handleConn(ctx, conn)
	}
}

func (e *Endpoint) handleConn(ctx context.Context, conn *quic.Conn) {
	switch proto := conn.ConnectionState().TLS.NegotiatedProtocol; proto {
	case control.ALPN:
		if err := e.control.Handle(ctx, &controlConn{conn: conn}); err != nil {
			e.log.Error("control session failed", zap.Error(err))
			_ = conn.CloseWithError(closeControlFailed, "control session failed")
			return
		}
		// The ack was written; let the client drain it and close.
		select {
		case <-conn.Context().Done():
		case <-ctx.Done():
			_ = conn.CloseWithError(closeOK, "shutting down")
		}
	case blob.ALPN:
		e.serveBlobs(ctx, conn)
	default:
		_ = conn.CloseWithError(closeUnknownProtocol, "unknown protocol")
	}
}

func (e *Endpoint) serveBlobs(ctx context.Context, conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go func() {
			if err := e.blobs.ServeStream(stream); err != nil {
				e.log.Debug("blob stream failed", zap.Error(err))
			}
		}()
	}
}

func (e *Endpoint) Close() error {
	if e.listener == nil {
		return nil
	}
	return e.listener.Close()
}

// controlConn adapts a QUIC connection to the control handler's view of
// the transport.
type controlConn struct {
	conn *quic.Conn
}

func (c *controlConn) RemotePeer() (identity.PeerID, error) {
	certs := c.conn.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		return identity.PeerID{}, errors.New("no peer certificate")
	}
	return peerIDFromCert(certs[0])
}

func (c *controlConn) AcceptStream(ctx context.Context) (control.Stream, error) {
	stream, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (e *Endpoint) clientTLS(alpn string, expect *identity.PeerID) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{e.cert},
		// Identity is the self-signed key itself; verifyPeer replaces
		// chain validation.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyPeer(expect),
		NextProtos:            []string{alpn},
		MinVersion:            tls.VersionTLS13,
	}
}

// ClientConn is an outbound control connection.
type ClientConn struct {
	conn *quic.Conn
}

// DialControl opens a control connection to addr, requiring the remote to
// prove the expected identity.
func (e *Endpoint) DialControl(ctx context.Context, addr string, expect identity.PeerID) (*ClientConn, error) {
	conn, err := quic.DialAddr(ctx, addr, e.clientTLS(control.ALPN, &expect), nil)
	if err != nil {
		return nil, err
	}
	return &ClientConn{conn: conn}, nil
}

func (c *ClientConn) OpenStream(ctx context.Context) (control.Stream, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *ClientConn) Close() error {
	return c.conn.CloseWithError(closeOK, "")
}

// DialBlob opens one blob fetch stream to addr. Closing the returned
// stream releases the underlying connection.
func (e *Endpoint) DialBlob(ctx context.Context, addr string, expect *identity.PeerID) (blob.FetchStream, error) {
	conn, err := quic.DialAddr(ctx, addr, e.clientTLS(blob.ALPN, expect), nil)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(closeOK, "")
		return nil, err
	}
	return &blobStream{stream: stream, conn: conn}, nil
}

type blobStream struct {
	stream *quic.Stream
	conn   *quic.Conn
}

func (s *blobStream) Read(p []byte) (int, error) {
	return s.stream.Read(p)
}

func (s *blobStream) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

// CloseSend finishes the request half of the stream.
func (s *blobStream) CloseSend() error {
	return s.stream.Close()
}

func (s *blobStream) Close() error {
	return s.conn.CloseWithError(closeOK, "")
}
