package state

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pipeline holds runtime counters for one ingestion pipeline. The subscriber
// and the flusher update it from different goroutines.
type Pipeline struct {
	name string

	connected     atomic.Bool
	reconnects    atomic.Int64
	events        atomic.Int64
	flushes       atomic.Int64
	failedFlushes atomic.Int64
	rows          atomic.Int64

	mu        sync.RWMutex
	lastFlush time.Time
	lastErr   string
}

func NewPipeline(name string) *Pipeline {
	return &Pipeline{name: name}
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) SetConnected(v bool) { p.connected.Store(v) }
func (p *Pipeline) Connected() bool     { return p.connected.Load() }

func (p *Pipeline) Reconnected()   { p.reconnects.Add(1) }
func (p *Pipeline) EventReceived() { p.events.Add(1) }

func (p *Pipeline) FlushSucceeded(at time.Time, rows int) {
	p.flushes.Add(1)
	p.rows.Add(int64(rows))
	p.mu.Lock()
	p.lastFlush = at
	p.mu.Unlock()
}

func (p *Pipeline) FlushFailed(at time.Time, err error) {
	p.failedFlushes.Add(1)
	p.mu.Lock()
	p.lastFlush = at
	if err != nil {
		p.lastErr = err.Error()
	}
	p.mu.Unlock()
}

type Stats struct {
	Name          string    `json:"name"`
	Connected     bool      `json:"connected"`
	Reconnects    int64     `json:"reconnects"`
	Events        int64     `json:"events"`
	Flushes       int64     `json:"flushes"`
	FailedFlushes int64     `json:"failedFlushes"`
	RowsWritten   int64     `json:"rowsWritten"`
	LastFlush     time.Time `json:"lastFlush"`
	LastError     string    `json:"lastError,omitempty"`
}

func (p *Pipeline) Snapshot() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Name:          p.name,
		Connected:     p.connected.Load(),
		Reconnects:    p.reconnects.Load(),
		Events:        p.events.Load(),
		Flushes:       p.flushes.Load(),
		FailedFlushes: p.failedFlushes.Load(),
		RowsWritten:   p.rows.Load(),
		LastFlush:     p.lastFlush,
		LastError:     p.lastErr,
	}
}
