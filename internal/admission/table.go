package admission

import (
	"strings"
	"sync"
	"time"
)

// Policy is the immutable admission configuration for one table.
type Policy struct {
	// Limit is the number of requests allowed per Window per client key.
	Limit int

	// Window is the sliding horizon over which requests are counted.
	Window time.Duration

	// ProtectedPrefixes lists the path prefixes the limiter applies to.
	// An empty list protects nothing.
	ProtectedPrefixes []string

	// TrustProxyHeaders enables X-Forwarded-For resolution; see
	// ResolveClientKey.
	TrustProxyHeaders bool

	// MaxEntries bounds the number of tracked client keys.
	MaxEntries int

	// CleanupInterval throttles the full-table sweep: at most one sweep
	// per interval, regardless of request volume.
	CleanupInterval time.Duration
}

// Outcome is the admission decision for one request.
type Outcome int

const (
	// OutcomeAllowed admits the request.
	OutcomeAllowed Outcome = iota

	// OutcomeLimited denies the request: the key's window is full.
	OutcomeLimited

	// OutcomeRejected denies the request: the table is at capacity, a
	// sweep is not yet due, and the key was previously unseen.
	OutcomeRejected
)

// Decision is the result of one Admit call.
type Decision struct {
	Outcome   Outcome
	Key       string
	Remaining int
}

// Table tracks recent request timestamps per client key under a Policy.
// It is an explicit object, not package state: the server owns one
// instance and tests construct their own.
//
// Every Admit is O(1) amortized; the only O(table) operation is the
// sweep, and that is throttled to once per CleanupInterval.
type Table struct {
	mu          sync.Mutex
	policy      Policy
	entries     map[string][]time.Time
	lastCleanup time.Time

	now func() time.Time
}

// NewTable creates a request table. Zero-valued capacity fields get
// defaults (10000 entries, 60s cleanup interval).
func NewTable(policy Policy) *Table {
	if policy.MaxEntries <= 0 {
		policy.MaxEntries = 10000
	}
	if policy.CleanupInterval <= 0 {
		policy.CleanupInterval = 60 * time.Second
	}
	t := &Table{
		policy:  policy,
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
	t.lastCleanup = t.now()
	return t
}

// Policy returns the table's configuration.
func (t *Table) Policy() Policy {
	return t.policy
}

// Protects reports whether path falls under a protected prefix.
func (t *Table) Protects(path string) bool {
	for _, prefix := range t.policy.ProtectedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Admit records a request attempt for key and decides whether it may
// proceed. Denied attempts are never recorded, so a client hammering a
// full window neither extends nor resets it.
func (t *Table) Admit(key string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.policy.Window)

	log, tracked := t.entries[key]
	log = pruneBefore(log, cutoff)

	if len(log) >= t.policy.Limit {
		if tracked {
			t.entries[key] = log
		}
		t.enforceCapacity(now, key, false)
		return Decision{Outcome: OutcomeLimited, Key: key}
	}

	t.entries[key] = append(log, now)
	wasNew := !tracked

	if t.enforceCapacity(now, key, wasNew) {
		return Decision{Outcome: OutcomeRejected, Key: key}
	}

	return Decision{
		Outcome:   OutcomeAllowed,
		Key:       key,
		Remaining: t.policy.Limit - len(log) - 1,
	}
}

// enforceCapacity runs after every admit. When the table is over
// capacity it either performs the throttled full sweep, or, if a sweep
// is not yet due, evicts the current request's own fresh insertion and
// reports true. Only the freshly inserted key is ever evicted: dropping
// established clients would discard their fairness state, and wiping
// the whole table would hand every currently limited abuser a reset.
//
// wasNew must come from the insert itself (was the key absent from the
// map), not be inferred from log length: a known client whose entries
// all just expired also has a log of length one.
func (t *Table) enforceCapacity(now time.Time, key string, wasNew bool) bool {
	if len(t.entries) <= t.policy.MaxEntries {
		return false
	}

	if now.Sub(t.lastCleanup) >= t.policy.CleanupInterval {
		t.sweep(now)
		t.lastCleanup = now
		return false
	}

	if wasNew {
		delete(t.entries, key)
		return true
	}
	return false
}

// sweep removes every key whose log is empty or fully outside the
// window. Callers hold t.mu.
func (t *Table) sweep(now time.Time) {
	cutoff := now.Add(-t.policy.Window)
	for key, log := range t.entries {
		if len(log) == 0 || log[len(log)-1].Before(cutoff) {
			delete(t.entries, key)
		}
	}
}

// Stats is a read-only view of the table for health reporting.
type Stats struct {
	TrackedKeys int
	LastCleanup time.Time
}

// Stats returns current table statistics.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{TrackedKeys: len(t.entries), LastCleanup: t.lastCleanup}
}

// pruneBefore drops leading entries older than cutoff. Logs are
// append-only in insertion order, so one scan from the front suffices.
func pruneBefore(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && log[i].Before(cutoff) {
		i++
	}
	return log[i:]
}
