// Package pending implements the request-id -> waiting-ingress-response
// table (§4.E), with exactly-once completion semantics across the three
// ways an entry can resolve: a response frame, a timeout, or ingress
// cancellation.
package pending

import (
	"net/http"
	"sync"
	"time"
)

// Result is delivered to the ingress handler exactly once per entry.
type Result struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Entry is one in-flight request awaiting its client's response.
type Entry struct {
	ID    string
	Token string
	Alias string

	mu       sync.Mutex
	done     bool
	resultCh chan Result
	timer    *time.Timer
}

// deliver sends result on resultCh exactly once; subsequent calls are no-ops.
// Returns true if this call was the one that delivered.
func (e *Entry) deliver(result Result) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return false
	}
	e.done = true
	e.timer.Stop()
	e.resultCh <- result
	close(e.resultCh)
	return true
}

// markDone flags the entry resolved without sending a result (the cancel
// path); returns true if this call performed the transition.
func (e *Entry) markDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return false
	}
	e.done = true
	e.timer.Stop()
	close(e.resultCh)
	return true
}

// Table is the id -> *Entry map (§4.E). Safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New creates an empty Table.
func New() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Allocate inserts a new pending entry for id, owned by token (and alias, if
// the request arrived on an alias host). It starts a single-shot timer that
// fires 504 Gateway Timeout after timeout elapses. Callers read the final
// Result off the returned channel, which always receives exactly one value
// unless Cancel is called first.
func (t *Table) Allocate(id, token, alias string, timeout time.Duration) (*Entry, <-chan Result) {
	e := &Entry{
		ID:       id,
		Token:    token,
		Alias:    alias,
		resultCh: make(chan Result, 1),
	}
	e.timer = time.AfterFunc(timeout, func() {
		t.remove(id, e)
		e.deliver(Result{StatusCode: http.StatusGatewayTimeout})
	})

	t.mu.Lock()
	t.entries[id] = e
	t.mu.Unlock()

	return e, e.resultCh
}

// Complete resolves id with the given response, if id is still pending.
// Returns ok=false if id was unknown (already completed, timed out, or
// cancelled) — the caller should log and discard in that case. On success it
// also reports the entry's owning token/alias so the caller can update
// traffic counters without a second lookup.
func (t *Table) Complete(id string, statusCode int, headers http.Header, body []byte) (ok bool, token, alias string) {
	t.mu.Lock()
	e, found := t.entries[id]
	if found {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !found {
		return false, "", ""
	}
	delivered := e.deliver(Result{StatusCode: statusCode, Headers: headers, Body: body})
	return delivered, e.Token, e.Alias
}

// Cancel removes id without delivering a result, used when the ingress
// connection closes before a response arrives.
func (t *Table) Cancel(id string) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if ok {
		e.markDone()
	}
}

func (t *Table) remove(id string, expect *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.entries[id]; ok && current == expect {
		delete(t.entries, id)
	}
}

// Len reports the number of currently pending entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
