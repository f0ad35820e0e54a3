package osfinger

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
)

// DefaultPort is the well-known finger port.
const DefaultPort = 79

// DefaultBufferLimit bounds the bytes held back while waiting for the rest
// of a split multi-byte character.
const DefaultBufferLimit = 1024

const defaultReadBufferSize = 4096

// Dialer opens connections to the remote. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// =============================================================================
// Client Options
// =============================================================================

type clientConfig struct {
	dialer         Dialer
	port           int
	dialTimeout    time.Duration
	idleTimeout    time.Duration
	bufferLimit    int
	readBufferSize int
	logger         *zap.Logger
	retryPolicy    *RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithDialer sets a custom dialer.
// If not set, a net.Dialer with the configured dial timeout is used.
func WithDialer(d Dialer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialer = d
	}
}

// WithPort overrides the remote port. Default is DefaultPort.
func WithPort(port int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.port = port
	}
}

// WithDialTimeout sets the connect timeout of the default dialer.
// Default is 30s. Ignored when WithDialer is used.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialTimeout = d
	}
}

// WithIdleTimeout drops a connection that delivers nothing for d.
// The dropped session is resumed like any other disconnect.
// Default is zero (no idle timeout).
func WithIdleTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.idleTimeout = d
	}
}

// WithBufferLimit sets the capacity of the pending byte buffer used to
// reassemble characters split across reads. Default is DefaultBufferLimit.
func WithBufferLimit(n int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.bufferLimit = n
	}
}

// WithReadBufferSize sets the size of each socket read. Default is 4096.
func WithReadBufferSize(n int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.readBufferSize = n
	}
}

// WithLogger sets the logger for connection and resume diagnostics.
// Default is a no-op logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = l
	}
}

// WithRetryPolicy sets the reconnect policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(cfg *clientConfig) {
		cfg.retryPolicy = &p
	}
}

// =============================================================================
// Follow Options
// =============================================================================

type followConfig struct {
	start     Position
	stateHook func(DriverState, Position)
}

// FollowOption configures a Follow operation.
type FollowOption func(*followConfig)

// WithStartPosition treats the first n characters of the stream as
// already seen. Default is StartPosition.
func WithStartPosition(n Position) FollowOption {
	return func(cfg *followConfig) {
		cfg.start = n
	}
}

// WithStateHook registers a function called on every driver state change
// with the position carried at that moment. It runs on the Follow goroutine.
func WithStateHook(fn func(DriverState, Position)) FollowOption {
	return func(cfg *followConfig) {
		cfg.stateHook = fn
	}
}

// =============================================================================
// Session Options
// =============================================================================

type sessionConfig struct {
	bufferLimit int
	logger      *zap.Logger
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

// WithSessionBufferLimit sets the pending byte buffer capacity.
func WithSessionBufferLimit(n int) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.bufferLimit = n
	}
}

// WithSessionLogger sets the session's logger.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.logger = l
	}
}
