// Package protocol implements the line protocol spoken over the host link:
// gcode lines, control lines and chunked replies.
package protocol

// Version is the firmware version reported by the version control command
const Version = "0.1.0"

// Wire constants
const (
	// ControlPrefix marks a control line (^X). Control lines bypass the
	// gcode parser and are executed immediately.
	ControlPrefix = 0x18

	// MaxReplyPayload is the largest chunk a reply is split into
	MaxReplyPayload = 32

	// MaxLineLength bounds an incoming line; longer lines are discarded
	MaxLineLength = 256

	// OutputBufferSize is the size of the pending reply FIFO
	OutputBufferSize = 1024
)

// Fixed replies
const (
	ReplyOK        = "ok\n"
	ReplyNoHandler = "ok - nohandler\n"
	Banner         = "Welcome to stepcore\r\nok\r\n"
)

// IsControl reports whether line is a control line
func IsControl(line []byte) bool {
	return len(line) > 0 && line[0] == ControlPrefix
}

// Chunk splits data into pieces of at most max bytes and passes each to fn
// in order. It stops at the first error fn returns.
func Chunk(data []byte, max int, fn func([]byte) error) error {
	if max <= 0 {
		max = MaxReplyPayload
	}
	for len(data) > 0 {
		n := len(data)
		if n > max {
			n = max
		}
		if err := fn(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
