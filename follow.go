package osfinger

import (
	"context"
	"io"

	"go.uber.org/zap"
)

// DriverState is the state of the reconnect loop run by Follow.
type DriverState int

const (
	// DriverConnecting means a connection attempt is in progress.
	DriverConnecting DriverState = iota

	// DriverStreaming means a session is connected and relaying text.
	DriverStreaming

	// DriverReconnectPending means the last session dropped and the
	// next attempt is scheduled.
	DriverReconnectPending

	// DriverDone means Follow is returning.
	DriverDone
)

// String returns the state name.
func (s DriverState) String() string {
	switch s {
	case DriverConnecting:
		return "connecting"
	case DriverStreaming:
		return "streaming"
	case DriverReconnectPending:
		return "reconnect-pending"
	case DriverDone:
		return "done"
	default:
		return "unknown"
	}
}

// Follow relays the stream to sink until the remote reports it finished,
// reconnecting whenever a connection drops.
//
// Every connection replays the stream from the beginning; Follow carries
// the number of characters already written across reconnects so sink
// receives each character exactly once. Sessions run one at a time.
//
// Follow returns the final position and nil once the stream is finished.
// It returns ctx.Err() when ctx is cancelled, a *SessionError when sink
// fails, and ErrRetriesExhausted when the retry policy gives up.
//
// Example:
//
//	pos, err := stream.Follow(ctx, os.Stdout)
//	if errors.Is(err, context.Canceled) {
//	    // interrupted after pos characters
//	}
func (s *Stream) Follow(ctx context.Context, sink io.Writer, opts ...FollowOption) (Position, error) {
	cfg := &followConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	pos := cfg.start
	enter := func(state DriverState) {
		if cfg.stateHook != nil {
			cfg.stateHook(state, pos)
		}
	}

	if s.build == "" {
		enter(DriverDone)
		return pos, ErrEmptyBuild
	}

	logger := s.client.logger.With(zap.String("build", s.build))
	retry := newBackoff(s.client.retryPolicy)

	for {
		enter(DriverConnecting)
		out, err := s.attach(ctx, pos, sink, func() { enter(DriverStreaming) })

		progressed := out.Position > pos
		pos = pos.Max(out.Position)

		if err != nil {
			enter(DriverDone)
			return pos, err
		}
		if out.State == StateFinished {
			logger.Debug("stream finished", zap.Int64("position", int64(pos)))
			enter(DriverDone)
			return pos, nil
		}

		enter(DriverReconnectPending)
		if progressed {
			retry.reset()
		}
		wait, ok := retry.next()
		if !ok {
			logger.Warn("giving up reconnecting",
				zap.Int("max_retries", s.client.retryPolicy.MaxRetries),
				zap.Int64("position", int64(pos)))
			enter(DriverDone)
			return pos, ErrRetriesExhausted
		}

		logger.Debug("reconnecting",
			zap.Int64("position", int64(pos)),
			zap.Duration("delay", wait))
		if err := sleep(ctx, wait); err != nil {
			enter(DriverDone)
			return pos, err
		}
	}
}
