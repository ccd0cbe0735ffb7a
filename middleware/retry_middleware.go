package middleware

import (
	"context"
	"errors"
	"log"
	"time"

	"gbxremote/gbxerr"
	"gbxremote/xmlvalue"
)

// RetryMiddleware retries a call that failed with a transient transport
// error — a timeout or a connection that closed mid-call — with exponential
// backoff. A fault response is never retried: it's the server answering the
// call successfully and saying no, not a transport failure.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next CallFunc) CallFunc {
		return func(ctx context.Context, method string, params []xmlvalue.Value) (xmlvalue.Response, error) {
			resp, err := next(ctx, method, params)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(err) {
					return resp, err
				}
				log.Printf("gbxremote: retry %d for %s after error: %v", i+1, method, err)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return resp, err
				}
				resp, err = next(ctx, method, params)
			}
			return resp, err
		}
	}
}

func retryable(err error) bool {
	var timeout *gbxerr.Timeout
	var closed *gbxerr.TransportClosed
	var io *gbxerr.Io
	return errors.As(err, &timeout) || errors.As(err, &closed) || errors.As(err, &io)
}
