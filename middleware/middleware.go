// Package middleware implements the onion model middleware chain, retargeted
// from request handling to the client side: each layer wraps a client call
// instead of a server handler.
//
// Onion model execution order:
//
//	Chain(A, B, C)(call)  →  A(B(C(call)))
//
//	Request:   A.before → B.before → C.before → call
//	Response:  call → C.after → B.after → A.after
//
// Each middleware can:
//   - Do pre-processing (before invoking next)
//   - Invoke next(ctx, method, params) to pass the call further in
//   - Do post-processing (after next returns)
//   - Short-circuit by returning early without calling next (e.g., rate limiting)
package middleware

import (
	"context"

	"gbxremote/xmlvalue"
)

// CallFunc is the signature shared by client.Client.CallContext and every
// middleware-wrapped call.
type CallFunc func(ctx context.Context, method string, params []xmlvalue.Value) (xmlvalue.Response, error)

// Middleware takes a CallFunc and returns a new CallFunc that wraps it.
type Middleware func(next CallFunc) CallFunc

// Chain composes multiple middlewares into one. It builds the chain from
// right to left so the first middleware in the list is the outermost layer
// (executed first on the way in, last on the way out).
//
// Example:
//
//	chain := Chain(Logging, Timeout, RateLimit)
//	call := chain(client.CallContext)
//	// Execution: Logging → Timeout → RateLimit → CallContext → RateLimit → Timeout → Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next CallFunc) CallFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
