package client

import (
	"context"
	"time"

	"gbxremote/endpoint"
)

// ConnectViaFleet resolves the current instances of fleet through resolver,
// picks one with balancer, and Connects to its address. Each retry attempt
// re-discovers and re-picks, so a reconnect after a dedicated server falls
// out of the fleet lands on a different live instance rather than repeating
// the dead address — spec's Non-goal excludes multiplexing across several
// connections, not picking which single one to dial next.
func (c *Client) ConnectViaFleet(ctx context.Context, resolver endpoint.Resolver, balancer endpoint.Balancer, fleet string, retries int, backoff time.Duration) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return lastErr
			}
		}

		instances, err := resolver.Discover(fleet)
		if err != nil {
			lastErr = err
			continue
		}
		instance, err := balancer.Pick(instances)
		if err != nil {
			lastErr = err
			continue
		}

		if err := c.connectOnce(ctx, instance.Addr); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
