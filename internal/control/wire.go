// Package control implements the backup control protocol: peer
// authorization, bounded request framing, per-ticket download
// orchestration, and the completion reply.
package control

// ALPN identifies the control protocol on a shared endpoint, distinct
// from the blob transfer protocol.
const ALPN = "homevault/control/1"

// MaxRequestBytes is the hard upper bound for a control request body.
const MaxRequestBytes = 4 * 1024 * 1024

// BeginBackupRequest asks this node to pull the listed tickets into its
// local store. DeviceTag is free-form and used only for logging.
type BeginBackupRequest struct {
	DeviceTag string   `json:"device_tag"`
	Tickets   []string `json:"tickets"`
}

// CompletionAck reports the outcome of one backup job. Error is null
// unless Failed > 0.
type CompletionAck struct {
	JobID      uint64  `json:"job_id"`
	OK         bool    `json:"ok"`
	Downloaded uint64  `json:"downloaded"`
	Failed     uint64  `json:"failed"`
	Error      *string `json:"error"`
}
