package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"homevault/internal/blob"
	"homevault/internal/identity"
	"homevault/internal/metrics"
)

// Conn is the slice of a transport connection the handler needs: the
// authenticated remote identity and one bidirectional stream.
type Conn interface {
	// RemotePeer returns the peer identity established during connection
	// setup. Failure to resolve it is treated as an authorization failure.
	RemotePeer() (identity.PeerID, error)
	AcceptStream(ctx context.Context) (Stream, error)
}

// Stream is one bidirectional stream. Close finishes the send half;
// reads are unaffected.
type Stream interface {
	io.Reader
	io.Writer
	Close() error
}

// Fetcher is the content store's download capability.
type Fetcher interface {
	// Fetch makes the ticket's content durably available locally.
	Fetch(ctx context.Context, t blob.Ticket) error
}

// Handler runs one control session per accepted connection. Sessions
// share nothing mutable except the allow-list (read-only) and the job
// sequencer (atomic).
type Handler struct {
	allow   *identity.AllowList
	fetcher Fetcher
	metrics *metrics.Metrics
	log     *zap.Logger
	jobSeq  atomic.Uint64
}

func NewHandler(allow *identity.AllowList, fetcher Fetcher, m *metrics.Metrics, log *zap.Logger) *Handler {
	return &Handler{allow: allow, fetcher: fetcher, metrics: m, log: log}
}

// Handle runs the session state machine for one connection: authorize,
// read, parse, resolve+download per ticket in order, reply. The returned
// error is session-fatal; per-ticket failures are absorbed into the ack's
// failure count. The transport owns closing the connection.
func (h *Handler) Handle(ctx context.Context, conn Conn) error {
	peer, err := conn.RemotePeer()
	if err != nil {
		h.metrics.IncUnauthorized()
		h.log.Error("peer identity unresolved", zap.Error(err))
		return newError(KindUnauthorized, err)
	}
	if !h.allow.Allows(peer) {
		h.metrics.IncUnauthorized()
		h.log.Error("peer not allowed", zap.String("peer", peer.String()))
		return newError(KindUnauthorized, nil)
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return newError(KindRead, err)
	}
	body, err := readToEnd(stream, MaxRequestBytes)
	if err != nil {
		return newError(KindRead, err)
	}
	var begin BeginBackupRequest
	if err := json.Unmarshal(body, &begin); err != nil {
		return newError(KindParse, err)
	}
	h.log.Debug("begin backup",
		zap.String("peer", peer.Short()),
		zap.String("device", begin.DeviceTag),
		zap.Int("tickets", len(begin.Tickets)))

	jobID := h.jobSeq.Add(1)
	h.metrics.IncJobAccepted()

	var downloaded, failed uint64
	for _, raw := range begin.Tickets {
		t, err := blob.ParseTicket(raw)
		if err != nil {
			failed++
			h.metrics.IncFailed()
			h.log.Error("ticket parse failed",
				zap.Uint64("job_id", jobID),
				zap.Error(&Error{Kind: KindTicket, Ticket: raw, Err: err}))
			continue
		}
		if err := h.fetcher.Fetch(ctx, t); err != nil {
			failed++
			h.metrics.IncFailed()
			h.log.Error("download failed",
				zap.Uint64("job_id", jobID),
				zap.Stringer("hash", t.Hash),
				zap.Error(&Error{Kind: KindDownload, Err: err}))
			continue
		}
		downloaded++
		h.metrics.IncDownloaded()
	}

	ack := CompletionAck{
		JobID:      jobID,
		OK:         failed == 0,
		Downloaded: downloaded,
		Failed:     failed,
	}
	if failed > 0 {
		msg := fmt.Sprintf("%d failures", failed)
		ack.Error = &msg
	}
	data, err := json.Marshal(ack)
	if err != nil {
		return newError(KindReply, err)
	}
	if _, err := stream.Write(data); err != nil {
		return newError(KindReply, err)
	}
	if err := stream.Close(); err != nil {
		return newError(KindReply, err)
	}

	h.metrics.Recent().Add(metrics.JobHeader{
		JobID:      jobID,
		DeviceTag:  begin.DeviceTag,
		Downloaded: downloaded,
		Failed:     failed,
	})
	h.log.Info("backup completed",
		zap.Uint64("job_id", jobID),
		zap.Uint64("downloaded", downloaded),
		zap.Uint64("failed", failed))
	return nil
}

// readToEnd reads the stream until end-of-stream, failing once the body
// exceeds max bytes rather than buffering further.
func readToEnd(r io.Reader, max int) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, int64(max)+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > max {
		return nil, fmt.Errorf("request exceeds %d bytes", max)
	}
	return buf, nil
}
