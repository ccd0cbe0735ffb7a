// Package handle allocates the 31-bit client-assigned call handles that
// correlate a request frame with its response frame.
package handle

import "sync"

// firstHandle is the first value ever handed out. Values with the top bit
// set are request/response handles; the server echoes them verbatim on the
// matching reply. Callback frames use handles with the top bit clear,
// assigned by the server — this allocator never produces those.
const firstHandle uint32 = 0x8000_0001

// wrapTo is where the counter resets once incrementing it would reach
// 0xFFFF_FFFF.
const wrapTo uint32 = 0x8000_0000

// lastBeforeWrap is the last handle value ever handed out before the
// counter resets; 0xFFFF_FFFF itself is never allocated, so a handle's top
// bit being set is always sufficient to identify it as a request handle.
const lastBeforeWrap uint32 = 0xFFFF_FFFE

// Allocator hands out monotonically increasing handles, wrapping back to
// 0x8000_0000 once exhausted. A single Allocator belongs to one connection's
// lifetime; handles it produces are unique only within that lifetime.
type Allocator struct {
	mu   sync.Mutex
	next uint32
}

// New creates an allocator starting at the first request handle.
func New() *Allocator {
	return &Allocator{next: firstHandle}
}

// Next returns the next handle and advances the counter, wrapping per
// spec §4.3: once the counter would advance to 0xFFFF_FFFF, it resets to
// 0x8000_0000 instead.
func (a *Allocator) Next() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.next
	if h == lastBeforeWrap {
		a.next = wrapTo
	} else {
		a.next = h + 1
	}
	return h
}
