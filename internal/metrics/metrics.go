package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// JobHeader is a compact record of a recently completed backup job, kept
// for the snapshot file.
type JobHeader struct {
	JobID      uint64 `json:"job_id"`
	DeviceTag  string `json:"device_tag"`
	Downloaded uint64 `json:"downloaded"`
	Failed     uint64 `json:"failed"`
}

type Snapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Control     ControlMetrics `json:"control"`
	Blobs       BlobMetrics    `json:"blobs"`
	Recent      []JobHeader    `json:"recent"`
}

type ControlMetrics struct {
	JobsAccepted uint64 `json:"jobs_accepted"`
	Unauthorized uint64 `json:"unauthorized"`
	Downloaded   uint64 `json:"downloaded"`
	Failed       uint64 `json:"failed"`
}

type BlobMetrics struct {
	Served      uint64 `json:"served"`
	BytesServed uint64 `json:"bytes_served"`
	NotFound    uint64 `json:"not_found"`
}

type Metrics struct {
	jobsAccepted atomic.Uint64
	unauthorized atomic.Uint64
	downloaded   atomic.Uint64
	failed       atomic.Uint64
	blobsServed  atomic.Uint64
	bytesServed  atomic.Uint64
	blobNotFound atomic.Uint64
	recent       *JobRecent
}

func New() *Metrics {
	return &Metrics{recent: NewJobRecent(64)}
}

func (m *Metrics) Recent() *JobRecent {
	return m.recent
}

func (m *Metrics) IncJobAccepted() {
	m.jobsAccepted.Add(1)
}

func (m *Metrics) IncUnauthorized() {
	m.unauthorized.Add(1)
}

func (m *Metrics) IncDownloaded() {
	m.downloaded.Add(1)
}

func (m *Metrics) IncFailed() {
	m.failed.Add(1)
}

func (m *Metrics) IncBlobServed() {
	m.blobsServed.Add(1)
}

func (m *Metrics) AddBytesServed(n uint64) {
	m.bytesServed.Add(n)
}

func (m *Metrics) IncBlobNotFound() {
	m.blobNotFound.Add(1)
}

func (m *Metrics) Snapshot() Snapshot {
	recent := []JobHeader{}
	if m.recent != nil {
		recent = m.recent.List()
	}
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Control: ControlMetrics{
			JobsAccepted: m.jobsAccepted.Load(),
			Unauthorized: m.unauthorized.Load(),
			Downloaded:   m.downloaded.Load(),
			Failed:       m.failed.Load(),
		},
		Blobs: BlobMetrics{
			Served:      m.blobsServed.Load(),
			BytesServed: m.bytesServed.Load(),
			NotFound:    m.blobNotFound.Load(),
		},
		Recent: recent,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// JobRecent is a fixed-capacity ring of recently completed jobs.
type JobRecent struct {
	mu   sync.Mutex
	cap  int
	list []JobHeader
}

func NewJobRecent(capacity int) *JobRecent {
	if capacity <= 0 {
		capacity = 64
	}
	return &JobRecent{cap: capacity}
}

func (r *JobRecent) Add(h JobHeader) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = h
		return
	}
	r.list = append(r.list, h)
}

func (r *JobRecent) List() []JobHeader {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobHeader, len(r.list))
	copy(out, r.list)
	return out
}
