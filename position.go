package osfinger

import "strconv"

// Position is a count of decoded characters (Unicode code points) already
// seen on a logical stream.
//
// Positions are:
//   - Character based: multi-byte characters count once
//   - Connection independent: they span every reconnect of one run
//   - Ephemeral: they are not valid across separate runs
//
// Use StartPosition to read from the beginning of a stream.
type Position int64

const (
	// StartPosition represents the beginning of a stream.
	StartPosition Position = 0
)

// String returns the position in decimal.
func (p Position) String() string {
	return strconv.FormatInt(int64(p), 10)
}

// IsStart returns true if nothing has been seen yet.
func (p Position) IsStart() bool {
	return p <= StartPosition
}

// Max returns the larger of p and o.
func (p Position) Max(o Position) Position {
	if o > p {
		return o
	}
	return p
}
