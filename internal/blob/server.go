package blob

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"homevault/internal/metrics"
)

// ALPN identifies the blob transfer protocol on a shared endpoint.
const ALPN = "homevault/blobs/1"

// fetchRequest asks for one object by hash.
type fetchRequest struct {
	Hash []byte `msgpack:"hash"`
}

// fetchResponse precedes the raw object bytes when Found is true.
type fetchResponse struct {
	Found bool  `msgpack:"found"`
	Size  int64 `msgpack:"size"`
}

// Server answers fetch requests against the local store. One stream
// carries exactly one request/transfer exchange.
type Server struct {
	store   *Store
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewServer(store *Store, m *metrics.Metrics, log *zap.Logger) *Server {
	return &Server{store: store, metrics: m, log: log}
}

// ServeStream handles one fetch exchange and finishes the stream.
func (s *Server) ServeStream(stream io.ReadWriteCloser) error {
	var req fetchRequest
	if err := ReadFrame(stream, &req); err != nil {
		return fmt.Errorf("read fetch request: %w", err)
	}
	if len(req.Hash) != HashSize {
		return fmt.Errorf("bad fetch request hash size %d", len(req.Hash))
	}
	var h Hash
	copy(h[:], req.Hash)

	f, err := s.store.Open(h)
	if err != nil {
		s.metrics.IncBlobNotFound()
		s.log.Debug("blob not found", zap.Stringer("hash", h))
		if werr := WriteFrame(stream, fetchResponse{Found: false}); werr != nil {
			return werr
		}
		return stream.Close()
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if err := WriteFrame(stream, fetchResponse{Found: true, Size: fi.Size()}); err != nil {
		return err
	}
	n, err := io.Copy(stream, f)
	if err != nil {
		return fmt.Errorf("send blob %s: %w", h, err)
	}
	s.metrics.IncBlobServed()
	s.metrics.AddBytesServed(uint64(n))
	s.log.Debug("blob served", zap.Stringer("hash", h), zap.Int64("bytes", n))
	return stream.Close()
}
