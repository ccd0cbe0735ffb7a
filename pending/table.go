// Package pending implements the handle → one-shot response slot table that
// correlates client requests with the frames the receive loop reads back.
package pending

import (
	"context"
	"log"
	"sync"

	"gbxremote/gbxerr"
	"gbxremote/xmlvalue"
)

// Result is what a pending slot ultimately yields: either the raw response
// payload (decoded by the caller, not the receive loop) or a
// transport/cancellation error, never both.
type Result struct {
	Payload []byte
	Err     error
}

// Table maps in-flight call handles to one-shot rendezvous channels. A
// handle is present in the table from the moment Register succeeds until
// either Complete delivers its reply or the entry is dropped by FailAll or
// a caller-side cancellation.
type Table struct {
	mu      sync.Mutex
	entries map[uint32]chan Result
}

// New creates an empty pending table.
func New() *Table {
	return &Table{entries: make(map[uint32]chan Result)}
}

// Register inserts a new slot for handle and returns the channel its result
// will arrive on. Fails with DuplicateHandle if handle is already pending —
// it never should be, given the allocator's monotonic counter, but the
// table defends against it anyway.
func (t *Table) Register(handle uint32) (<-chan Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[handle]; exists {
		return nil, &gbxerr.DuplicateHandle{Handle: handle}
	}
	ch := make(chan Result, 1)
	t.entries[handle] = ch
	return ch, nil
}

// Complete removes handle's entry and delivers the raw response payload to
// its waiting caller, undecoded — decoding happens on the caller's own
// goroutine in Await, not here, so the receive loop that called Complete
// never blocks on CPU-bound XML parsing. If no entry exists — a stale reply
// after the caller already timed out, cancelled, or the connection was torn
// down — the payload is dropped and logged, per spec §4.4.
func (t *Table) Complete(handle uint32, payload []byte) {
	t.mu.Lock()
	ch, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	t.mu.Unlock()

	if !ok {
		log.Printf("gbxremote: stale reply for handle %#08x, dropping", handle)
		return
	}
	ch <- Result{Payload: payload}
}

// FailAll drains the table and delivers err to every still-pending caller.
// Called once when the receive loop exits.
func (t *Table) FailAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint32]chan Result)
	t.mu.Unlock()

	for _, ch := range entries {
		ch <- Result{Err: err}
	}
}

// Drop removes handle's entry without delivering anything, so a reply that
// arrives afterward is treated as stale by Complete. Used both internally by
// Await on cancellation and by a caller that fails to write its request
// frame at all.
func (t *Table) Drop(handle uint32) {
	t.mu.Lock()
	delete(t.entries, handle)
	t.mu.Unlock()
}

// Await blocks until handle's result arrives on ch, ctx is done, or — per
// the caller's choice — forever. On ctx cancellation or deadline, the
// pending entry is dropped first so a subsequent late reply is discarded by
// Complete rather than racing this call. Decoding the payload happens here,
// on the awaiting goroutine, so a bad body only fails the one call: it never
// touches the receive loop that read the frame.
func (t *Table) Await(ctx context.Context, handle uint32, ch <-chan Result) (xmlvalue.Response, error) {
	select {
	case r := <-ch:
		return decode(r)
	case <-ctx.Done():
		t.Drop(handle)
		// A result may have raced in between the ctx firing and the lock
		// above; prefer it over a synthetic cancellation/timeout error.
		select {
		case r := <-ch:
			return decode(r)
		default:
		}
		if ctx.Err() == context.Canceled {
			return xmlvalue.Response{}, &gbxerr.Cancelled{}
		}
		return xmlvalue.Response{}, &gbxerr.Timeout{Op: "call"}
	}
}

func decode(r Result) (xmlvalue.Response, error) {
	if r.Err != nil {
		return xmlvalue.Response{}, r.Err
	}
	resp, err := xmlvalue.DecodeResponse(r.Payload)
	if err != nil {
		return xmlvalue.Response{}, &gbxerr.Decode{Detail: err.Error()}
	}
	return resp, nil
}
