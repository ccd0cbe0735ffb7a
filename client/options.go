package client

import (
	"time"

	"gbxremote/protocol"
)

// config holds the tunables a Client is built with. Unexported: callers
// configure a Client only through the Option functions below.
type config struct {
	maxFrameSize     uint32
	maxBannerSize    uint32
	handshakeTimeout time.Duration
	dialTimeout      time.Duration
}

func defaultConfig() config {
	return config{
		maxFrameSize:     protocol.DefaultMaxFrameSize,
		maxBannerSize:    protocol.DefaultMaxBannerSize,
		handshakeTimeout: time.Second,
		dialTimeout:      5 * time.Second,
	}
}

// Option configures a Client at construction time.
type Option func(*config)

// WithFrameSizeLimit overrides the per-frame body size ceiling (default 4 MiB).
func WithFrameSizeLimit(n uint32) Option {
	return func(c *config) { c.maxFrameSize = n }
}

// WithBannerSizeLimit overrides the connect banner size ceiling (default 64 bytes).
func WithBannerSizeLimit(n uint32) Option {
	return func(c *config) { c.maxBannerSize = n }
}

// WithHandshakeTimeout overrides the 1-second default deadline for reading
// the connect banner.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *config) { c.handshakeTimeout = d }
}

// WithDialTimeout overrides the TCP dial timeout for each connect attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) { c.dialTimeout = d }
}
