package osfinger

import (
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/durable-streams/osfinger/internal/textdecode"
)

// NotFoundMarker is the complete first message the remote sends when the
// requested build does not exist or has ended.
const NotFoundMarker = "Build not found"

// State is the resolution state of a Session.
type State int

const (
	// StateStreaming means the session has not resolved yet.
	StateStreaming State = iota

	// StateFinished means the remote reported the stream is over.
	// No reconnect should follow.
	StateFinished

	// StateDisconnected means the connection ended for any other reason.
	// The outcome's Position is where the next session resumes.
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateFinished:
		return "finished"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one Session.
type Outcome struct {
	State State

	// Position is the number of characters seen during the session.
	Position Position
}

// Session is the state of a single connection to the remote: it decodes
// incoming bytes, recognizes the end-of-stream marker, and filters out the
// part of the replay that was already seen by earlier sessions.
//
// Session does no I/O. The owner feeds it bytes in arrival order and
// reports when the connection closes. It is not safe for concurrent use.
type Session struct {
	build   string
	start   Position
	chars   Position
	decoder *textdecode.Decoder
	logger  *zap.Logger
	outcome Outcome
}

// NewSession creates a session for build that treats the first start
// characters of the replay as already seen.
func NewSession(build string, start Position, opts ...SessionOption) *Session {
	cfg := &sessionConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.bufferLimit
	if limit <= 0 {
		limit = DefaultBufferLimit
	}

	return &Session{
		build:   build,
		start:   start,
		decoder: textdecode.New(limit),
		logger:  logger,
	}
}

// Request returns the bytes to send once the connection is established.
func (s *Session) Request() []byte {
	return []byte(s.build + "\r\n")
}

// Feed processes one chunk of raw bytes and returns the text that has not
// been seen before. The returned text may be empty.
//
// After the session resolves, Feed returns ErrSessionClosed.
func (s *Session) Feed(p []byte) (string, error) {
	if s.outcome.State != StateStreaming {
		return "", ErrSessionClosed
	}

	text, status := s.decoder.Decode(p)
	switch status {
	case textdecode.Buffered:
		s.logger.Debug("buffering chunk to complete a split character",
			zap.Int("pending", s.decoder.Pending()))
		return "", nil
	case textdecode.Dropped:
		s.logger.Error("failed to resolve decode error with buffer",
			zap.Int("limit", s.decoder.Limit()),
			zap.Int("chunk", len(p)))
		return "", nil
	}

	if s.chars == 0 && text == NotFoundMarker {
		s.logger.Info("build not found or ended")
		s.outcome = Outcome{State: StateFinished, Position: s.chars}
		return "", nil
	}

	before := s.chars
	s.chars += Position(utf8.RuneCountInString(text))

	switch {
	case s.chars <= s.start:
		s.logger.Debug("skipping replayed text",
			zap.Int64("seen", int64(s.chars)),
			zap.Int64("start", int64(s.start)))
		return "", nil
	case before < s.start:
		offset := int(s.start - before)
		s.logger.Debug("truncating partially replayed chunk",
			zap.Int("skip", offset),
			zap.Int64("start", int64(s.start)),
			zap.Int64("seen", int64(s.chars)))
		return dropRunes(text, offset), nil
	default:
		return text, nil
	}
}

// ConnectionLost resolves the session as disconnected at the current
// position. It does nothing if the session already resolved.
func (s *Session) ConnectionLost() {
	if s.outcome.State != StateStreaming {
		return
	}
	s.logger.Debug("connection lost unexpectedly",
		zap.Int64("position", int64(s.chars)))
	s.outcome = Outcome{State: StateDisconnected, Position: s.chars}
}

// Outcome returns the session outcome and whether it has resolved.
func (s *Session) Outcome() (Outcome, bool) {
	return s.outcome, s.outcome.State != StateStreaming
}

// Finished reports whether the remote signaled the end of the stream.
func (s *Session) Finished() bool {
	return s.outcome.State == StateFinished
}

// Position returns the number of characters seen in this session so far.
func (s *Session) Position() Position {
	return s.chars
}

// Start returns the position the session was seeded with.
func (s *Session) Start() Position {
	return s.start
}

// dropRunes returns text without its first n runes.
func dropRunes(text string, n int) string {
	for i := range text {
		if n == 0 {
			return text[i:]
		}
		n--
	}
	return ""
}
