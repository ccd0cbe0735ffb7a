package middleware

import (
	"context"
	"log"
	"time"

	"gbxremote/xmlvalue"
)

// LoggingMiddleware records the called method, duration, and any error or
// fault for each RPC call. It captures the start time before invoking next,
// and logs the elapsed time after next returns.
//
// Example output:
//
//	method: Server.PlayerChat, duration: 42µs
//	fault 1002: invalid login
func LoggingMiddleware() Middleware {
	return func(next CallFunc) CallFunc {
		return func(ctx context.Context, method string, params []xmlvalue.Value) (xmlvalue.Response, error) {
			start := time.Now()

			resp, err := next(ctx, method, params)

			duration := time.Since(start)
			log.Printf("method: %s, duration: %s", method, duration)
			if err != nil {
				log.Printf("error: %s", err)
			} else if resp.IsFault {
				log.Printf("fault %d: %s", resp.Fault.Code, resp.Fault.Message)
			}
			return resp, err
		}
	}
}
