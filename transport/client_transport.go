// Package transport owns the socket: framing writes under a single writer
// lock and a dedicated receive loop that reads frames, routes them by
// handle, and tears down every pending caller exactly once when the
// connection dies.
//
//	Call(h=0x80000001) ──WriteFrame──┐
//	Call(h=0x80000002) ──WriteFrame──┼──→ single TCP conn ──→ GameBox server
//	                                  ┘
//
//	recvLoop:  ←── frame(h=0x80000001) → pending.Complete(h, body)
//	           ←── frame(h=0x00000012) → callback.Dispatch(method, params)
package transport

import (
	"log"
	"net"
	"sync"

	"gbxremote/callback"
	"gbxremote/gbxerr"
	"gbxremote/pending"
	"gbxremote/protocol"
	"gbxremote/xmlvalue"
)

// Transport owns one TCP connection for the lifetime of a single GameBox
// session. Writes are serialized through a mutex; reads happen only on the
// loop goroutine started by Start.
type Transport struct {
	conn  net.Conn
	codec *protocol.Codec

	writeMu sync.Mutex

	pending *pending.Table
	calls   *callback.Dispatcher

	closeOnce sync.Once
	done      chan struct{}
	onClosed  func(error)
}

// New wraps conn for framed read/write and wires the pending table and
// callback dispatcher the receive loop will drive. onClosed, if non-nil, is
// invoked exactly once when the loop exits, with the error that ended it.
func New(conn net.Conn, codec *protocol.Codec, pendingTable *pending.Table, calls *callback.Dispatcher, onClosed func(error)) *Transport {
	return &Transport{
		conn:     conn,
		codec:    codec,
		pending:  pendingTable,
		calls:    calls,
		done:     make(chan struct{}),
		onClosed: onClosed,
	}
}

// Start launches the receive loop in its own goroutine. The loop owns
// reading from conn for as long as the connection lives.
func (t *Transport) Start() {
	go t.recvLoop()
}

// WriteFrame serializes one outbound frame under the write lock, so
// concurrent callers never interleave another request's bytes into a
// frame already in flight.
func (t *Transport) WriteFrame(handle uint32, body []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.codec.WriteFrame(handle, body)
}

// Close closes the underlying connection, which unblocks the receive loop's
// current or next read and drives it through its shutdown path.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Done is closed once the receive loop has exited and every pending caller
// has been failed.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// recvLoop reads frames until the connection breaks, routing each one by
// handle: top bit set means it answers a call this client made, so its raw
// body goes straight to the pending table, which hands it to a buffered
// channel for the awaiting caller to decode on its own goroutine. Top bit
// clear means the server is invoking a callback, so it's decoded as a
// MethodCall and fanned out through the dispatcher. The loop itself never
// parses a response body and never blocks on a user handler —
// callback.Dispatcher detaches delivery onto its own goroutine, and
// pending.Table.Complete only hands a value to a buffered channel.
func (t *Transport) recvLoop() {
	var exitErr error
	for {
		handle, body, err := t.codec.ReadFrame()
		if err != nil {
			exitErr = err
			break
		}

		if protocol.IsCallback(handle) {
			call, derr := xmlvalue.DecodeMethodCall(body)
			if derr != nil {
				// A malformed callback frame doesn't tear down the
				// connection — it's logged and dropped, and the loop keeps
				// reading.
				log.Printf("gbxremote: dropping undecodable callback frame %#08x: %v", handle, derr)
				continue
			}
			t.calls.Dispatch(call.Name, call.Params)
			continue
		}

		t.pending.Complete(handle, body)
	}

	t.shutdown(exitErr)
}

func (t *Transport) shutdown(exitErr error) {
	t.closeOnce.Do(func() {
		t.conn.Close()
		t.pending.FailAll(&gbxerr.TransportClosed{Err: exitErr})
		close(t.done)
		if t.onClosed != nil {
			t.onClosed(exitErr)
		}
	})
}
