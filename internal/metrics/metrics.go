// Package metrics tracks per-session I/O counters, adapted from the
// teacher's iiod.ClientMetrics atomic-counter pattern (bytes transferred,
// operation counts, last-operation timestamp) onto session read/write
// operations instead of IIOD buffer traffic.
package metrics

import (
	"sync/atomic"
	"time"
)

// SessionMetrics tracks one session's transfer volume and operation health.
type SessionMetrics struct {
	BytesWritten    atomic.Uint64
	BytesRead       atomic.Uint64
	WritesSent      atomic.Uint64
	ReadsSent       atomic.Uint64
	OperationsFailed atomic.Uint64
	LastOperationAt atomic.Value // time.Time
}

// RecordWrite accounts for a completed Write call.
func (m *SessionMetrics) RecordWrite(n int, err error) {
	m.WritesSent.Add(1)
	m.BytesWritten.Add(uint64(n))
	m.touch(err)
}

// RecordRead accounts for a completed Read call.
func (m *SessionMetrics) RecordRead(n int, err error) {
	m.ReadsSent.Add(1)
	m.BytesRead.Add(uint64(n))
	m.touch(err)
}

func (m *SessionMetrics) touch(err error) {
	if err != nil {
		m.OperationsFailed.Add(1)
	}
	m.LastOperationAt.Store(time.Now())
}

// Snapshot is an immutable point-in-time copy of a SessionMetrics, safe to
// log or export.
type Snapshot struct {
	BytesWritten     uint64
	BytesRead        uint64
	WritesSent       uint64
	ReadsSent        uint64
	OperationsFailed uint64
	LastOperationAt  time.Time
}

// Snapshot reads the current counter values.
func (m *SessionMetrics) Snapshot() Snapshot {
	s := Snapshot{
		BytesWritten:     m.BytesWritten.Load(),
		BytesRead:        m.BytesRead.Load(),
		WritesSent:       m.WritesSent.Load(),
		ReadsSent:        m.ReadsSent.Load(),
		OperationsFailed: m.OperationsFailed.Load(),
	}
	if t, ok := m.LastOperationAt.Load().(time.Time); ok {
		s.LastOperationAt = t
	}
	return s
}
