// Package gbxerr defines the error kinds surfaced by the transport and
// correlation engine, per the policy: terminal errors kill the connection
// and propagate to every pending call; non-terminal errors surface only to
// the call or callback they belong to.
package gbxerr

import "fmt"

// Io wraps a socket-level failure. Terminal for the connection.
type Io struct{ Err error }

func (e *Io) Error() string { return fmt.Sprintf("gbxremote: io error: %v", e.Err) }
func (e *Io) Unwrap() error { return e.Err }

// Closed indicates a clean EOF mid-operation. Terminal.
type Closed struct{}

func (e *Closed) Error() string { return "gbxremote: connection closed" }

// Timeout indicates a handshake or caller-imposed deadline elapsed.
type Timeout struct{ Op string }

func (e *Timeout) Error() string { return fmt.Sprintf("gbxremote: timeout during %s", e.Op) }

// InvalidProtocol indicates the connect banner did not equal "GBXRemote 2".
// Terminal; the socket is closed before Connect returns this error.
type InvalidProtocol struct{ Banner string }

func (e *InvalidProtocol) Error() string {
	return fmt.Sprintf("gbxremote: invalid protocol banner %q", e.Banner)
}

// TooLarge indicates a frame or banner exceeded its configured size ceiling.
// Terminal.
type TooLarge struct {
	What string
	Size uint32
	Max  uint32
}

func (e *TooLarge) Error() string {
	return fmt.Sprintf("gbxremote: %s size %d exceeds limit %d", e.What, e.Size, e.Max)
}

// Decode indicates the payload XML could not be parsed. Non-terminal —
// affects only the one call or callback whose body failed to decode.
type Decode struct{ Detail string }

func (e *Decode) Error() string { return fmt.Sprintf("gbxremote: decode error: %s", e.Detail) }

// Fault is a well-formed XML-RPC fault response. Non-terminal; surfaced as
// the result of the call that produced it.
type Fault struct {
	Code    int32
	Message string
}

func (e *Fault) Error() string { return fmt.Sprintf("gbxremote: fault %d: %s", e.Code, e.Message) }

// NotConnected indicates Call was issued while the client was not Connected.
type NotConnected struct{}

func (e *NotConnected) Error() string { return "gbxremote: not connected" }

// Cancelled indicates the caller dropped an awaiting call before it resolved.
type Cancelled struct{}

func (e *Cancelled) Error() string { return "gbxremote: call cancelled" }

// TransportClosed is delivered to every pending call when the receive loop
// exits; it wraps the terminal error that caused the exit.
type TransportClosed struct{ Err error }

func (e *TransportClosed) Error() string {
	return fmt.Sprintf("gbxremote: transport closed: %v", e.Err)
}
func (e *TransportClosed) Unwrap() error { return e.Err }

// DuplicateHandle indicates Pending.Register was called with a handle that
// is already registered. Should not occur given the allocator's monotonic
// counter; Client.CallContext answers it by allocating the next handle
// rather than failing the call.
type DuplicateHandle struct{ Handle uint32 }

func (e *DuplicateHandle) Error() string {
	return fmt.Sprintf("gbxremote: duplicate handle %#08x", e.Handle)
}

// RateLimited indicates a call was rejected by middleware.RateLimitMiddleware
// before it reached the transport at all.
type RateLimited struct{ Method string }

func (e *RateLimited) Error() string {
	return fmt.Sprintf("gbxremote: rate limit exceeded for %s", e.Method)
}
