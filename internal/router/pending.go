package router

import (
	"sync"
	"time"
)

// ackTTL bounds how long a cloud acknowledgement reference stays
// resolvable. Replies arriving later are dropped silently.
const ackTTL = 300 * time.Second

type pendingEntry struct {
	ref       string
	expiresAt time.Time
}

// pendingAcks correlates outgoing JSON-RPC request ids with cloud
// acknowledgement references. Expired entries are pruned lazily on insert.
type pendingAcks struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]pendingEntry
}

func newPendingAcks(ttl time.Duration) *pendingAcks {
	return &pendingAcks{ttl: ttl, entries: map[int64]pendingEntry{}}
}

// Add stores the reference for a request id and drops every entry whose
// TTL has passed.
func (p *pendingAcks) Add(id int64, ref string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.entries {
		if now.After(e.expiresAt) {
			delete(p.entries, k)
		}
	}
	p.entries[id] = pendingEntry{ref: ref, expiresAt: now.Add(p.ttl)}
}

// Resolve pops the reference for a reply id. A second call with the same
// id, or a call past the entry's expiry, reports no match.
func (p *pendingAcks) Resolve(id int64, now time.Time) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return "", false
	}
	delete(p.entries, id)
	if now.After(e.expiresAt) {
		return "", false
	}
	return e.ref, true
}

func (p *pendingAcks) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
