// Package callback fans out server-initiated methodCall frames to
// subscribed handlers, in registration order, detached from the receive
// loop that decoded them.
package callback

import (
	"log"
	"sync"

	"gbxremote/xmlvalue"
)

// Handler receives one decoded callback: the server's method name and its
// ordered parameters.
type Handler func(method string, params []xmlvalue.Value)

// Dispatcher holds an ordered list of subscribers and fans out each decoded
// callback to all of them on one detached goroutine per callback, so a
// handler that blocks indefinitely never delays the receive loop reading
// the next frame; it does delay the handlers registered after it for that
// same callback.
type Dispatcher struct {
	mu       sync.Mutex
	handlers []Handler
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a handler, appended after any already registered.
func (d *Dispatcher) Subscribe(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Dispatch decodes nothing itself — the receive loop already decoded the
// MethodCall — it spawns one detached goroutine that invokes every
// subscriber in registration order. Running on a single goroutine, separate
// from the receive loop, means a handler that blocks indefinitely stalls
// only the handlers registered after it, never the loop reading the next
// frame. Each handler is panic-recovered so one bad subscriber can't take
// down the others or the process.
func (d *Dispatcher) Dispatch(method string, params []xmlvalue.Value) {
	d.mu.Lock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	go func() {
		for _, h := range handlers {
			invokeHandler(h, method, params)
		}
	}()
}

func invokeHandler(h Handler, method string, params []xmlvalue.Value) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("gbxremote: callback handler for %s panicked: %v", method, r)
		}
	}()
	h(method, params)
}
