package middleware

import (
	"context"
	"time"

	"gbxremote/xmlvalue"
)

// TimeOutMiddleware enforces a maximum duration for each RPC call, on top of
// whatever deadline ctx already carries. Unlike a server-side timeout
// wrapper, next here is client.Client.CallContext, which already selects on
// ctx.Done() inside pending.Table.Await and drops the pending entry when the
// deadline fires — narrowing ctx here is enough, no separate goroutine race
// is needed, and the abandoned call is actually torn down rather than left
// running to completion in the background.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next CallFunc) CallFunc {
		return func(ctx context.Context, method string, params []xmlvalue.Value) (xmlvalue.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, method, params)
		}
	}
}
