package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"gbxremote/gbxerr"
	"gbxremote/xmlvalue"
)

// RateLimitMiddleware throttles outgoing calls using the token bucket
// algorithm.
//
// Token bucket: tokens are added at rate r per second, up to a burst size.
// Each call consumes one token. If the bucket is empty, the call is
// rejected. Unlike a leaky bucket (constant drain rate), token bucket
// allows short bursts — useful against a GameBox server that tolerates
// occasional spikes of dedimania/manialink calls but not sustained flooding.
//
// CRITICAL: the limiter is created in the OUTER closure (once per
// middleware creation), NOT inside the returned CallFunc. If created
// per-call, every call would get a fresh full bucket, defeating the entire
// purpose of rate limiting.
//
// Parameters:
//   - r: token refill rate (calls per second)
//   - burst: maximum bucket size (calls allowed in a burst)
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next CallFunc) CallFunc {
		return func(ctx context.Context, method string, params []xmlvalue.Value) (xmlvalue.Response, error) {
			if !limiter.Allow() {
				return xmlvalue.Response{}, &gbxerr.RateLimited{Method: method}
			}
			return next(ctx, method, params)
		}
	}
}
