// Package osfinger provides a resumable client for Zuul's finger-based
// console streams.
//
// The remote replays a build's whole console on every connection and has no
// way to start at an offset. Connections drop; this client reconnects and
// counts the characters it has already written so the sink sees the console
// exactly once, with nothing repeated and nothing missing.
//
// # Basic Usage
//
// Create a client and stream handle:
//
//	client := osfinger.NewClient()
//	stream := client.Stream("zuul.opendev.org", buildID)
//
// Follow the console until the build ends:
//
//	pos, err := stream.Follow(ctx, os.Stdout)
//	if errors.Is(err, context.Canceled) {
//	    // Interrupted after pos characters.
//	}
//
// Or range over the text (Go 1.23+):
//
//	for text, err := range stream.Text(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(text)
//	}
//
// # Sessions
//
// Each connection is a Session: a state object that is fed raw bytes and
// returns only the text past its start position. Session does no I/O, so it
// can be driven by any read loop:
//
//	s := osfinger.NewSession(buildID, pos)
//	conn.Write(s.Request())
//	for {
//	    n, err := conn.Read(buf)
//	    text, _ := s.Feed(buf[:n])
//	    io.WriteString(w, text)
//	    if s.Finished() || err != nil {
//	        break
//	    }
//	}
//	s.ConnectionLost()
//	outcome, _ := s.Outcome()
//
// # Error Handling
//
// Transport failures are never returned; they end a session and Follow
// reconnects. Follow returns ctx.Err() on cancellation, ErrRetriesExhausted
// when a bounded RetryPolicy gives up, and a *SessionError when the sink
// fails:
//
//	var se *osfinger.SessionError
//	if errors.As(err, &se) {
//	    fmt.Println("failed op:", se.Op)
//	}
package osfinger
