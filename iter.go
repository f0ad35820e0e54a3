package osfinger

import (
	"context"
	"errors"
	"iter"
)

// Text returns an iterator over the text Follow would write to a sink.
// Use with Go 1.23+ for range syntax:
//
//	for text, err := range stream.Text(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(text)
//	}
//
// The iterator automatically handles:
//   - Reconnection after dropped connections
//   - Suppression of text replayed by the remote
//   - Characters split across reads
//
// Breaking out of the loop closes the connection. The loop ends without
// an error once the remote reports the stream finished.
func (s *Stream) Text(ctx context.Context, opts ...FollowOption) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sink := yieldWriter(func(p []byte) bool {
			return yield(string(p), nil)
		})

		_, err := s.Follow(ctx, sink, opts...)
		if err == nil || errors.Is(err, errStopped) {
			return
		}
		yield("", err)
	}
}

// yieldWriter adapts a yield function to io.Writer.
type yieldWriter func([]byte) bool

func (w yieldWriter) Write(p []byte) (int, error) {
	if !w(p) {
		return 0, errStopped
	}
	return len(p), nil
}
