// Package textdecode turns a chunked byte stream into UTF-8 text.
//
// Network reads split the stream at arbitrary byte boundaries, so a
// multi-byte character can arrive in two pieces. The Decoder returns the
// complete text of each chunk and holds back an incomplete trailing
// character until the next chunk completes it.
//
// Bytes that are not valid UTF-8 at all are held too, in case more input
// makes sense of them. The held bytes are bounded: once the pending buffer
// has reached the limit and the bytes still do not decode, everything held
// is dropped and decoding starts over with the next chunk.
package textdecode

import "unicode/utf8"

// DefaultLimit is the pending buffer capacity used when none is given.
const DefaultLimit = 1024

// Status reports what Decode did with a chunk.
type Status int

const (
	// Decoded means text was produced. An incomplete character at the end
	// of the chunk may still be pending.
	Decoded Status = iota

	// Buffered means nothing decoded yet and the bytes were kept for the
	// next call.
	Buffered

	// Dropped means the bytes did not decode and the pending buffer was
	// already at capacity, so everything held was discarded.
	Dropped
)

// String returns a short name for the status.
func (s Status) String() string {
	switch s {
	case Decoded:
		return "decoded"
	case Buffered:
		return "buffered"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Decoder decodes successive chunks of a UTF-8 byte stream.
// It is not safe for concurrent use.
type Decoder struct {
	limit   int
	pending []byte
}

// New returns a Decoder whose pending buffer holds at most limit bytes.
// A limit of zero or less selects DefaultLimit.
func New(limit int) *Decoder {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Decoder{limit: limit}
}

// Decode appends chunk to any pending bytes and decodes as much as
// possible. The returned text is only meaningful when the status is Decoded.
func (d *Decoder) Decode(chunk []byte) (string, Status) {
	combined := chunk
	if len(d.pending) > 0 {
		combined = make([]byte, 0, len(d.pending)+len(chunk))
		combined = append(combined, d.pending...)
		combined = append(combined, chunk...)
	}

	body, tail := splitIncomplete(combined)
	if utf8.Valid(body) {
		// chunk may alias the caller's read buffer
		d.pending = append([]byte(nil), tail...)
		if len(body) == 0 && len(tail) > 0 {
			return "", Buffered
		}
		return string(body), Decoded
	}

	// Capacity is judged on what was already held, not on the new chunk.
	if len(d.pending) < d.limit {
		d.pending = append([]byte(nil), combined...)
		return "", Buffered
	}

	d.pending = nil
	return "", Dropped
}

// splitIncomplete separates a trailing partial character from b.
// tail is at most utf8.UTFMax-1 bytes long.
func splitIncomplete(b []byte) (body, tail []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-(utf8.UTFMax-1); i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i], b[i:]
			}
			break
		}
	}
	return b, nil
}

// Pending returns the number of bytes waiting for more input.
func (d *Decoder) Pending() int {
	return len(d.pending)
}

// Limit returns the pending buffer capacity.
func (d *Decoder) Limit() int {
	return d.limit
}
