package server

import (
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/RowanDark/smartrecon/recon"
)

// Scan states.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Scan is a stored scan and, once finished, its report.
type Scan struct {
	ID         string        `json:"id"`
	Domain     string        `json:"domain"`
	Mode       string        `json:"mode"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	Report     *recon.Report `json:"report,omitempty"`
}

// store keeps the most recent scans in memory. Once full, the oldest scan is
// evicted.
type store struct {
	mu    sync.RWMutex
	max   int
	seq   uint64
	order []string
	scans map[string]*Scan
}

func newStore(max int) *store {
	if max <= 0 {
		max = 100
	}
	return &store{max: max, scans: make(map[string]*Scan)}
}

func (s *store) create(domain, mode string) Scan {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	now := time.Now().UTC()
	id := strconv.FormatUint(xxh3.HashString(domain+"|"+mode+"|"+strconv.FormatUint(s.seq, 10)+"|"+now.Format(time.RFC3339Nano)), 16)
	scan := &Scan{ID: id, Domain: domain, Mode: mode, Status: StatusRunning, CreatedAt: now}
	s.scans[id] = scan
	s.order = append(s.order, id)
	for len(s.order) > s.max {
		delete(s.scans, s.order[0])
		s.order = s.order[1:]
	}
	return *scan
}

// finish records the outcome of a scan. It is a no-op when the scan was
// evicted in the meantime.
func (s *store) finish(id string, report *recon.Report, err error) (Scan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scan, ok := s.scans[id]
	if !ok {
		return Scan{}, false
	}
	now := time.Now().UTC()
	scan.FinishedAt = &now
	if err != nil {
		scan.Status = StatusFailed
		scan.Error = err.Error()
	} else {
		scan.Status = StatusDone
		scan.Report = report
		if report != nil {
			scan.Domain = report.Domain
		}
	}
	return *scan, true
}

func (s *store) get(id string) (Scan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scan, ok := s.scans[id]
	if !ok {
		return Scan{}, false
	}
	return *scan, true
}

// list returns the stored scans, newest first.
func (s *store) list() []Scan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Scan, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.scans[s.order[i]])
	}
	return out
}

func (s *store) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
