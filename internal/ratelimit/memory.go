package ratelimit

import (
	"context"
	"sync"
	"time"
)

// UsageRecord is one call held by MemoryLog.
type UsageRecord struct {
	Toolkit   string
	SessionID string
	Timestamp time.Time
}

// MemoryLog is an in-process UsageLog.
type MemoryLog struct {
	mu      sync.RWMutex
	records map[string][]UsageRecord
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{records: make(map[string][]UsageRecord)}
}

func (m *MemoryLog) AppendUsage(_ context.Context, toolkit, sessionID string, ts time.Time) error {
	m.mu.Lock()
	m.records[toolkit] = append(m.records[toolkit], UsageRecord{Toolkit: toolkit, SessionID: sessionID, Timestamp: ts})
	m.mu.Unlock()
	return nil
}

func (m *MemoryLog) CountUsage(_ context.Context, toolkit string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records[toolkit] {
		if r.Timestamp.After(since) {
			n++
		}
	}
	return n, nil
}

// Records returns a copy of the records of toolkit in append order.
func (m *MemoryLog) Records(toolkit string) []UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]UsageRecord(nil), m.records[toolkit]...)
}

// Prune drops records older than before and returns how many were removed.
func (m *MemoryLog) Prune(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for toolkit, recs := range m.records {
		kept := recs[:0]
		for _, r := range recs {
			if r.Timestamp.Before(before) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(m.records, toolkit)
			continue
		}
		m.records[toolkit] = kept
	}
	return removed
}
