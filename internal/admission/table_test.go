package admission

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a hand-advanced clock for deterministic window tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTable(policy Policy, clock *fakeClock) *Table {
	tbl := NewTable(policy)
	tbl.now = clock.now
	tbl.lastCleanup = clock.now()
	return tbl
}

func TestAdmitWithinLimit(t *testing.T) {
	clock := newFakeClock()
	tbl := newTestTable(Policy{Limit: 5, Window: 60 * time.Second}, clock)

	for i := 0; i < 5; i++ {
		d := tbl.Admit("client")
		require.Equal(t, OutcomeAllowed, d.Outcome, "request %d", i+1)
		assert.Equal(t, 5-i-1, d.Remaining)
	}
}

func TestAdmitOverLimitDeniedAndNotRecorded(t *testing.T) {
	clock := newFakeClock()
	tbl := newTestTable(Policy{Limit: 5, Window: 60 * time.Second}, clock)

	for i := 0; i < 5; i++ {
		require.Equal(t, OutcomeAllowed, tbl.Admit("client").Outcome)
	}

	// Denied attempts must not extend the window: hammer the limiter for
	// 30s, then wait out the original window and confirm full recovery.
	for i := 0; i < 30; i++ {
		clock.advance(time.Second)
		require.Equal(t, OutcomeLimited, tbl.Admit("client").Outcome)
	}

	clock.advance(31 * time.Second) // 61s past the first admit
	d := tbl.Admit("client")
	assert.Equal(t, OutcomeAllowed, d.Outcome)
	assert.Equal(t, 4, d.Remaining, "full quota regained after the window")
}

func TestAdmitWindowExpiryRestoresQuota(t *testing.T) {
	clock := newFakeClock()
	tbl := newTestTable(Policy{Limit: 5, Window: 60 * time.Second}, clock)

	for i := 0; i < 5; i++ {
		require.Equal(t, OutcomeAllowed, tbl.Admit("client").Outcome)
	}
	require.Equal(t, OutcomeLimited, tbl.Admit("client").Outcome)

	clock.advance(61 * time.Second)
	assert.Equal(t, OutcomeAllowed, tbl.Admit("client").Outcome)
}

func TestAdmitKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	tbl := newTestTable(Policy{Limit: 1, Window: 60 * time.Second}, clock)

	require.Equal(t, OutcomeAllowed, tbl.Admit("a").Outcome)
	require.Equal(t, OutcomeLimited, tbl.Admit("a").Outcome)
	assert.Equal(t, OutcomeAllowed, tbl.Admit("b").Outcome, "one client's window never affects another's")
}

func TestSweepRemovesStaleEntries(t *testing.T) {
	clock := newFakeClock()
	tbl := newTestTable(Policy{
		Limit:           5,
		Window:          60 * time.Second,
		MaxEntries:      10000,
		CleanupInterval: 60 * time.Second,
	}, clock)

	for i := 0; i < 10000; i++ {
		require.Equal(t, OutcomeAllowed, tbl.Admit(fmt.Sprintf("stale-%d", i)).Outcome)
	}
	require.Equal(t, 10000, tbl.Stats().TrackedKeys)

	// Age every entry past the window and make the sweep due.
	clock.advance(120 * time.Second)

	d := tbl.Admit("fresh")
	assert.Equal(t, OutcomeAllowed, d.Outcome)
	assert.Equal(t, 1, tbl.Stats().TrackedKeys, "sweep removes all stale keys, keeps the new client")
	assert.Equal(t, clock.now(), tbl.Stats().LastCleanup)
}

func TestCapacityRejectsFreshKeyWhenSweepNotDue(t *testing.T) {
	clock := newFakeClock()
	tbl := newTestTable(Policy{
		Limit:           5,
		Window:          60 * time.Second,
		MaxEntries:      10000,
		CleanupInterval: 60 * time.Second,
	}, clock)

	// Fill past capacity with fresh entries. The overdue sweep fires on
	// the 10001st insert, removes nothing (everything is fresh), and
	// resets lastCleanup, leaving the table transiently over capacity.
	tbl.lastCleanup = clock.now().Add(-2 * time.Minute)
	for i := 0; i < 10001; i++ {
		require.Equal(t, OutcomeAllowed, tbl.Admit(fmt.Sprintf("busy-%d", i)).Outcome)
	}
	require.Equal(t, 10001, tbl.Stats().TrackedKeys)

	clock.advance(time.Second) // sweep just ran, not due for another 59s

	d := tbl.Admit("newcomer")
	assert.Equal(t, OutcomeRejected, d.Outcome)
	assert.Equal(t, 10001, tbl.Stats().TrackedKeys, "rejected newcomer is not stored")
}

func TestCapacityNeverEvictsKnownClient(t *testing.T) {
	clock := newFakeClock()
	tbl := newTestTable(Policy{
		Limit:           5,
		Window:          60 * time.Second,
		MaxEntries:      10,
		CleanupInterval: 60 * time.Second,
	}, clock)

	// "veteran" is tracked, then its entries expire without a sweep
	// running. Its next admit looks like a length-one log, but it must
	// not be mistaken for a fresh insertion and evicted.
	require.Equal(t, OutcomeAllowed, tbl.Admit("veteran").Outcome)
	clock.advance(61 * time.Second)
	tbl.lastCleanup = clock.now() // sweep not due

	for i := 0; i < 10; i++ {
		tbl.Admit(fmt.Sprintf("flood-%d", i))
	}

	d := tbl.Admit("veteran")
	assert.Equal(t, OutcomeAllowed, d.Outcome, "previously tracked client survives capacity pressure")
}

func TestProtects(t *testing.T) {
	tbl := NewTable(Policy{Limit: 1, Window: time.Second, ProtectedPrefixes: []string{"/v1/", "/api/"}})

	assert.True(t, tbl.Protects("/v1/query"))
	assert.True(t, tbl.Protects("/api/anything"))
	assert.False(t, tbl.Protects("/healthz"))

	open := NewTable(Policy{Limit: 1, Window: time.Second})
	assert.False(t, open.Protects("/v1/query"), "empty prefix list protects nothing")
}

func TestAdmitConcurrent(t *testing.T) {
	tbl := NewTable(Policy{Limit: 1000, Window: time.Minute})

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				tbl.Admit(fmt.Sprintf("key-%d", g%4))
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	assert.Equal(t, 4, tbl.Stats().TrackedKeys)
}
