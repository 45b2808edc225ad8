package instance

import (
	"sync"
	"time"
)

// LogEntry is one cached console/network/performance log line.
type LogEntry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"` // "console", "network", "performance"
	Message string    `json:"message"`
}

// DomainStatsSnapshot is the JSON-friendly view of one domain's health
// counters, adapted from the teacher's per-domain request tracking into a
// per-instance "is this site currently hostile to us" cache (SPEC_FULL.md §6.3).
type DomainStatsSnapshot struct {
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
	BlockedCount int64     `json:"blocked_count"`
	LastSeen     time.Time `json:"last_seen"`
}

// Monitor is the Browser Instance's (C4) local cache of the driver's
// console/performance/network logs plus per-domain health counters. It is
// purely in-memory and bounded, never persisted.
type Monitor struct {
	mu      sync.Mutex
	logs    []LogEntry
	maxLogs int
	domains map[string]*domainCounter
}

type domainCounter struct {
	requests int64
	errors   int64
	blocked  int64
	lastSeen time.Time
}

func newMonitor() *Monitor {
	return &Monitor{maxLogs: 1000, domains: map[string]*domainCounter{}}
}

// Append records one log line, evicting the oldest entry once the cache is
// full (simple ring behavior, no LRU needed at this cache's size).
func (m *Monitor) Append(kind, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, LogEntry{At: time.Now(), Kind: kind, Message: message})
	if len(m.logs) > m.maxLogs {
		m.logs = m.logs[len(m.logs)-m.maxLogs:]
	}
}

// Snapshot returns up to limit most recent entries of the given kind
// ("" for all kinds).
func (m *Monitor) Snapshot(kind string, limit int) []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []LogEntry
	for i := len(m.logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if kind == "" || m.logs[i].Kind == kind {
			out = append(out, m.logs[i])
		}
	}
	return out
}

// RecordNavigation updates the per-domain counters after a navigation to
// host, marking it blocked when the rate-limit/block detector fired.
func (m *Monitor) RecordNavigation(host string, blocked bool, failed bool) {
	if host == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.domains[host]
	if !ok {
		c = &domainCounter{}
		m.domains[host] = c
	}
	c.requests++
	c.lastSeen = time.Now()
	if failed {
		c.errors++
	}
	if blocked {
		c.blocked++
	}
}

func (m *Monitor) snapshotDomains() map[string]DomainStatsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]DomainStatsSnapshot, len(m.domains))
	for host, c := range m.domains {
		out[host] = DomainStatsSnapshot{
			RequestCount: c.requests,
			ErrorCount:   c.errors,
			BlockedCount: c.blocked,
			LastSeen:     c.lastSeen,
		}
	}
	return out
}
