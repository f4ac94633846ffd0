package turnmonitor

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	StageInbound    = "inbound"
	StageGeneration = "generation"
	StageReply      = "reply"

	StatusOK    = "ok"
	StatusError = "error"
)

type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	Model          string    `json:"model"`
	Stage          string    `json:"stage"`  // inbound | generation | reply
	Status         string    `json:"status"` // ok | error
	RAG            bool      `json:"rag"`
	Error          string    `json:"error"`       // optional
	DurationMs     int64     `json:"duration_ms"` // optional
}

type Stats struct {
	TotalInbound     int64   `json:"total_inbound"`
	TotalGenerations int64   `json:"total_generations"`
	TotalReplies     int64   `json:"total_replies"`
	TotalErrors      int64   `json:"total_errors"`
	RecentEvents     []Event `json:"recent_events"`
}

// Monitor keeps counters plus a fixed ring of the most recent turn events.
type Monitor struct {
	eventsMu sync.Mutex
	events   []Event
	idx      int
	count    int
	ttl      time.Duration
	now      func() time.Time

	totalInbound     int64
	totalGenerations int64
	totalReplies     int64
	totalErrors      int64
}

// New crea un monitor con size eventos. ttl > 0 oculta eventos más viejos en Stats.
func New(size int, ttl time.Duration) *Monitor {
	if size <= 0 {
		size = 200
	}
	return &Monitor{
		events: make([]Event, size),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *Monitor) Record(e Event) {
	e.Timestamp = m.now().UTC()

	switch e.Stage {
	case StageInbound:
		atomic.AddInt64(&m.totalInbound, 1)
	case StageGeneration:
		atomic.AddInt64(&m.totalGenerations, 1)
	case StageReply:
		if e.Status == StatusOK {
			atomic.AddInt64(&m.totalReplies, 1)
		}
	}
	if e.Status == StatusError {
		atomic.AddInt64(&m.totalErrors, 1)
	}

	m.eventsMu.Lock()
	m.events[m.idx] = e
	m.idx = (m.idx + 1) % len(m.events)
	if m.count < len(m.events) {
		m.count++
	}
	m.eventsMu.Unlock()
}

// Stats returns the counters and the retained events, oldest first.
func (m *Monitor) Stats() Stats {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	res := make([]Event, 0, m.count)
	var cutoff time.Time
	if m.ttl > 0 {
		cutoff = m.now().UTC().Add(-m.ttl)
	}
	start := (m.idx - m.count) % len(m.events)
	if start < 0 {
		start += len(m.events)
	}
	for i := 0; i < m.count; i++ {
		e := m.events[(start+i)%len(m.events)]
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		res = append(res, e)
	}

	return Stats{
		TotalInbound:     atomic.LoadInt64(&m.totalInbound),
		TotalGenerations: atomic.LoadInt64(&m.totalGenerations),
		TotalReplies:     atomic.LoadInt64(&m.totalReplies),
		TotalErrors:      atomic.LoadInt64(&m.totalErrors),
		RecentEvents:     res,
	}
}
