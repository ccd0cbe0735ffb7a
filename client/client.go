// Package client is the public facade: Connect, Disconnect, Call, and event
// subscriptions over a handle allocator, a pending table, a callback
// dispatcher, and a transport, per the state machine
// Disconnected → Connecting → Handshaking → Connected → Disconnecting → Disconnected.
// Only Connected accepts new calls.
package client

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"gbxremote/callback"
	"gbxremote/gbxerr"
	"gbxremote/handle"
	"gbxremote/pending"
	"gbxremote/protocol"
	"gbxremote/transport"
	"gbxremote/xmlvalue"
)

// State is one position in the client's connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Client drives one GBXRemote connection at a time. A Client is reusable
// across reconnects: a successful Connect after a Disconnect (or after the
// transport died on its own) starts a fresh handle allocator, pending
// table, and transport — no in-flight call survives a reconnect.
type Client struct {
	cfg config

	mu        sync.Mutex
	state     State
	conn      net.Conn
	transport *transport.Transport
	handles   *handle.Allocator
	pending   *pending.Table
	calls     *callback.Dispatcher

	eventsMu     sync.Mutex
	onConnected  []func()
	onDisconnect []func(error)
	onCallback   []callback.Handler
}

// New creates a disconnected Client.
func New(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{cfg: cfg}
}

// State reports the client's current lifecycle position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect resolves addr, opens a TCP connection, performs the banner
// handshake under a handshake deadline, and starts the receive loop. On
// failure it retries up to retries additional times, sleeping backoff
// between attempts (or returning early if ctx is done first). It fires
// Connected exactly once, on the attempt that succeeds.
func (c *Client) Connect(ctx context.Context, addr string, retries int, backoff time.Duration) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return lastErr
			}
		}

		if err := c.connectOnce(ctx, addr); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (c *Client) connectOnce(ctx context.Context, addr string) error {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.cfg.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.setDisconnectedLocked()
		return &gbxerr.Io{Err: err}
	}

	c.mu.Lock()
	c.state = StateHandshaking
	c.mu.Unlock()

	banner, err := protocol.ReadBanner(conn, c.cfg.maxBannerSize, c.cfg.handshakeTimeout)
	if err != nil {
		// Per the invalid-banner open question: the socket is closed
		// before Connect returns the error, rather than leaving a
		// half-initialized connection around.
		conn.Close()
		c.setDisconnectedLocked()
		return err
	}
	if banner != protocol.ExpectedBanner {
		conn.Close()
		c.setDisconnectedLocked()
		return &gbxerr.InvalidProtocol{Banner: banner}
	}

	codec := protocol.NewCodec(conn).WithLimits(c.cfg.maxFrameSize, c.cfg.maxBannerSize)
	pendingTable := pending.New()
	calls := callback.New()

	// Seed the fresh dispatcher from the client-level handler list so
	// subscriptions made before this Connect (or before a prior reconnect)
	// are not lost — onCallback, unlike the per-connection dispatcher,
	// survives across connects.
	c.eventsMu.Lock()
	for _, h := range c.onCallback {
		calls.Subscribe(h)
	}
	c.eventsMu.Unlock()

	c.mu.Lock()
	c.conn = conn
	c.handles = handle.New()
	c.pending = pendingTable
	c.calls = calls
	c.transport = transport.New(conn, codec, pendingTable, calls, c.handleTransportClosed)
	c.state = StateConnected
	tr := c.transport
	c.mu.Unlock()

	tr.Start()
	c.fireConnected()
	return nil
}

func (c *Client) setDisconnectedLocked() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// handleTransportClosed is the transport's onClosed callback: it fires
// whether the connection died on its own (read error) or Disconnect closed
// it deliberately — exactly once either way, since Transport guards its
// shutdown path with sync.Once.
func (c *Client) handleTransportClosed(err error) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.fireDisconnected(err)
}

// Disconnect tears down the current connection: closes the socket, which
// unblocks the receive loop and drives it through its one-time shutdown
// path, then waits for that to finish before returning. It is idempotent —
// calling it while not Connected is a no-op, per the double-disconnect open
// question.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnecting
	tr := c.transport
	c.mu.Unlock()

	tr.Close()
	<-tr.Done()
	return nil
}

// Call is CallContext with context.Background().
func (c *Client) Call(method string, params []xmlvalue.Value) (xmlvalue.Response, error) {
	return c.CallContext(context.Background(), method, params)
}

// CallContext allocates a handle, serializes the request, writes the frame
// under the transport's write lock, and awaits the pending slot. Its
// signature matches middleware.CallFunc, so a Client's method value can be
// wrapped directly by middleware.Chain.
func (c *Client) CallContext(ctx context.Context, method string, params []xmlvalue.Value) (xmlvalue.Response, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return xmlvalue.Response{}, &gbxerr.NotConnected{}
	}
	handles := c.handles
	h := handles.Next()
	pendingTable := c.pending
	tr := c.transport
	c.mu.Unlock()

	body, err := xmlvalue.EncodeMethodCall(method, params)
	if err != nil {
		return xmlvalue.Response{}, err
	}

	// A handle still pending from before the allocator wrapped is skipped by
	// allocating the next one.
	ch, err := pendingTable.Register(h)
	for err != nil {
		if _, dup := err.(*gbxerr.DuplicateHandle); !dup {
			return xmlvalue.Response{}, err
		}
		h = handles.Next()
		ch, err = pendingTable.Register(h)
	}

	if err := tr.WriteFrame(h, body); err != nil {
		pendingTable.Drop(h)
		return xmlvalue.Response{}, err
	}

	return pendingTable.Await(ctx, h, ch)
}

// SubscribeCallback registers a handler for server-initiated callback
// frames, invoked in registration order on a goroutine detached from the
// receive loop. Like SubscribeConnected/SubscribeDisconnected, the handler
// list lives on the Client and survives reconnects: connectOnce seeds each
// new connection's dispatcher from it, so a handler registered before the
// first Connect (the natural subscribe-then-connect flow) is not silently
// dropped. If a connection is already live, the handler is also registered
// on its dispatcher immediately, so it starts receiving without waiting for
// a reconnect.
func (c *Client) SubscribeCallback(h callback.Handler) {
	c.eventsMu.Lock()
	c.onCallback = append(c.onCallback, h)
	c.eventsMu.Unlock()

	c.mu.Lock()
	calls := c.calls
	c.mu.Unlock()
	if calls != nil {
		calls.Subscribe(h)
	}
}

// SubscribeConnected registers a handler invoked once per successful
// Connect, in registration order. The list belongs to the Client, not to
// any one connection, so it survives across reconnects.
func (c *Client) SubscribeConnected(h func()) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.onConnected = append(c.onConnected, h)
}

// SubscribeDisconnected registers a handler invoked once per connection
// teardown (whether caused by Disconnect or a transport error), in
// registration order.
func (c *Client) SubscribeDisconnected(h func(error)) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.onDisconnect = append(c.onDisconnect, h)
}

func (c *Client) fireConnected() {
	c.eventsMu.Lock()
	handlers := make([]func(), len(c.onConnected))
	copy(handlers, c.onConnected)
	c.eventsMu.Unlock()

	go func() {
		for _, h := range handlers {
			invokeConnected(h)
		}
	}()
}

func (c *Client) fireDisconnected(err error) {
	c.eventsMu.Lock()
	handlers := make([]func(error), len(c.onDisconnect))
	copy(handlers, c.onDisconnect)
	c.eventsMu.Unlock()

	go func() {
		for _, h := range handlers {
			invokeDisconnected(h, err)
		}
	}()
}

func invokeConnected(h func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("gbxremote: on_connected handler panicked: %v", r)
		}
	}()
	h()
}

func invokeDisconnected(h func(error), err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("gbxremote: on_disconnected handler panicked: %v", r)
		}
	}()
	h(err)
}
