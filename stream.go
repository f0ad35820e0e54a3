package osfinger

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stream represents the console stream of one build.
// It is a lightweight, reusable object - not a persistent connection.
//
// Create a Stream using Client.Stream():
//
//	stream := client.Stream("zuul.opendev.org", "c0ffee...")
type Stream struct {
	host   string
	build  string
	client *Client
}

// Host returns the remote host name.
func (s *Stream) Host() string {
	return s.host
}

// Build returns the build identifier sent as the request.
func (s *Stream) Build() string {
	return s.build
}

// Addr returns the remote address in host:port form.
func (s *Stream) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.client.port))
}

// Attach runs a single session: it connects, requests the build, and
// writes every character past start to sink until the connection ends.
//
// A failed connect resolves as StateDisconnected at start. The returned
// error is non-nil only when ctx is done or sink fails; transport errors
// are part of the outcome, not errors.
func (s *Stream) Attach(ctx context.Context, start Position, sink io.Writer) (Outcome, error) {
	return s.attach(ctx, start, sink, nil)
}

func (s *Stream) attach(ctx context.Context, start Position, sink io.Writer, connected func()) (Outcome, error) {
	dropped := Outcome{State: StateDisconnected, Position: start}
	if err := ctx.Err(); err != nil {
		return dropped, err
	}

	logger := s.client.logger.With(
		zap.String("build", s.build),
		zap.String("session", uuid.NewString()),
	)
	sess := NewSession(s.build, start,
		WithSessionBufferLimit(s.client.bufferLimit),
		WithSessionLogger(logger),
	)

	logger.Debug("connecting", zap.String("addr", s.Addr()))
	conn, err := s.client.dialer.DialContext(ctx, "tcp", s.Addr())
	if err != nil {
		if ctx.Err() != nil {
			return dropped, ctx.Err()
		}
		logger.Debug("connect failed", zap.Error(newSessionError("dial", s, err)))
		return dropped, nil
	}
	defer conn.Close()

	// Unblocks the read below when the run is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if connected != nil {
		connected()
	}

	logger.Debug("connected - sending build")
	if _, err := conn.Write(sess.Request()); err != nil {
		if ctx.Err() != nil {
			return dropped, ctx.Err()
		}
		logger.Debug("request failed", zap.Error(newSessionError("request", s, err)))
		return dropped, nil
	}

	buf := make([]byte, s.client.readBufferSize)
	for {
		if s.client.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.client.idleTimeout)); err != nil {
				if ctx.Err() != nil {
					sess.ConnectionLost()
					out, _ := sess.Outcome()
					return out, ctx.Err()
				}
				logger.Debug("set read deadline failed", zap.Error(newSessionError("read", s, err)))
				sess.ConnectionLost()
				break
			}
		}
		n, rerr := conn.Read(buf)

		if n > 0 {
			if ctx.Err() != nil {
				sess.ConnectionLost()
				out, _ := sess.Outcome()
				return out, ctx.Err()
			}
			text, err := sess.Feed(buf[:n])
			if err != nil {
				break
			}
			if text != "" {
				if _, err := io.WriteString(sink, text); err != nil {
					sess.ConnectionLost()
					out, _ := sess.Outcome()
					return out, newSessionError("sink", s, err)
				}
			}
			if sess.Finished() {
				break
			}
		}

		if rerr != nil {
			if ctx.Err() != nil {
				sess.ConnectionLost()
				out, _ := sess.Outcome()
				return out, ctx.Err()
			}
			if !errors.Is(rerr, io.EOF) {
				logger.Debug("read failed", zap.Error(newSessionError("read", s, rerr)))
			}
			sess.ConnectionLost()
			break
		}
	}

	out, _ := sess.Outcome()
	return out, nil
}
