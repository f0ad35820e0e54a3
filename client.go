package osfinger

import (
	"net"
	"time"

	"go.uber.org/zap"
)

// Client is a finger stream client.
// It is safe for concurrent use; each Stream it hands out follows one
// logical stream with at most one open connection at a time.
//
// The default dialer uses:
//   - A 30s connect timeout
//   - TCP keep-alive every 30s, so half-dead connections are noticed
type Client struct {
	dialer         Dialer
	port           int
	idleTimeout    time.Duration
	bufferLimit    int
	readBufferSize int
	logger         *zap.Logger
	retryPolicy    RetryPolicy
}

// NewClient creates a new finger client.
//
// Example:
//
//	client := osfinger.NewClient(osfinger.WithLogger(logger))
//	stream := client.Stream("zuul.opendev.org", buildID)
func NewClient(opts ...ClientOption) *Client {
	cfg := &clientConfig{
		dialTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	dialer := cfg.dialer
	if dialer == nil {
		dialer = &net.Dialer{
			Timeout:   cfg.dialTimeout,
			KeepAlive: 30 * time.Second,
		}
	}

	port := cfg.port
	if port <= 0 {
		port = DefaultPort
	}

	bufferLimit := cfg.bufferLimit
	if bufferLimit <= 0 {
		bufferLimit = DefaultBufferLimit
	}

	readBufferSize := cfg.readBufferSize
	if readBufferSize <= 0 {
		readBufferSize = defaultReadBufferSize
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	retryPolicy := DefaultRetryPolicy()
	if cfg.retryPolicy != nil {
		retryPolicy = *cfg.retryPolicy
	}

	return &Client{
		dialer:         dialer,
		port:           port,
		idleTimeout:    cfg.idleTimeout,
		bufferLimit:    bufferLimit,
		readBufferSize: readBufferSize,
		logger:         logger,
		retryPolicy:    retryPolicy,
	}
}

// Stream returns a handle to the console stream of build on host.
// No connection is made until Attach or Follow is called.
func (c *Client) Stream(host, build string) *Stream {
	return &Stream{
		host:   host,
		build:  build,
		client: c,
	}
}

// Port returns the remote port used for every stream.
func (c *Client) Port() int {
	return c.port
}
