// Package stream sends G-code to a controller over a serial link, one line
// at a time, waiting for the acknowledgement of every command on it.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stepcore/protocol"
	"stepcore/standalone/gcode"
)

// ErrRejected wraps an "error:" reply from the controller
var ErrRejected = errors.New("controller rejected line")

// Reply is the controller's answer to one line
type Reply struct {
	Lines     []string // Output before the acknowledgement
	Unhandled bool     // Acknowledged with "ok - nohandler"
}

// Streamer talks to one controller
type Streamer struct {
	port    io.ReadWriter
	r       *bufio.Reader
	limiter *rate.Limiter
	parser  *gcode.Parser
	partial strings.Builder

	// Timeout bounds the wait for each acknowledgement
	Timeout time.Duration

	// Unsolicited receives lines read while no reply was expected, such
	// as the startup banner. May be nil.
	Unsolicited func(string)
}

// New creates a streamer on port sending at most linesPerSec lines per
// second with a burst of one (unlimited if zero).
func New(port io.ReadWriter, linesPerSec float64) *Streamer {
	limit := rate.Inf
	if linesPerSec > 0 {
		limit = rate.Limit(linesPerSec)
	}
	return &Streamer{
		port:    port,
		r:       bufio.NewReader(port),
		limiter: rate.NewLimiter(limit, 1),
		parser:  gcode.NewParser(),
		Timeout: 10 * time.Second,
	}
}

// Send writes one G-code line and waits for its acknowledgements. The
// controller answers every command on the line separately; a rejected
// command is reported once all of them were answered.
func (s *Streamer) Send(ctx context.Context, line string) (Reply, error) {
	line = strings.TrimSpace(line)
	if err := s.limiter.Wait(ctx); err != nil {
		return Reply{}, err
	}
	if err := s.write(line); err != nil {
		return Reply{}, err
	}
	return s.await(ctx, false, s.replies(line))
}

// replies returns how many acknowledgements the controller sends for line
func (s *Streamer) replies(line string) int {
	n := 0
	cmds := s.parser.Parse(line)
	for i := range cmds {
		if !cmds[i].IsEmpty() {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// Control runs an internal command such as "run", "hold" or "stats"
func (s *Streamer) Control(ctx context.Context, cmd string) (Reply, error) {
	if err := s.write(string(rune(protocol.ControlPrefix)) + strings.TrimSpace(cmd)); err != nil {
		return Reply{}, err
	}
	return s.await(ctx, true, 1)
}

// Stream sends every non-blank line of r. fn, if set, sees each line with
// its reply. Rejected lines stop the stream.
func (s *Streamer) Stream(ctx context.Context, r io.Reader, fn func(line string, reply Reply)) (int, error) {
	sc := bufio.NewScanner(r)
	sent := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == ';' {
			continue
		}
		reply, err := s.Send(ctx, line)
		if err != nil {
			return sent, fmt.Errorf("line %q: %w", line, err)
		}
		sent++
		if fn != nil {
			fn(line, reply)
		}
	}
	return sent, sc.Err()
}

func (s *Streamer) write(line string) error {
	if len(line)+1 > protocol.MaxLineLength {
		return fmt.Errorf("line longer than %d bytes", protocol.MaxLineLength)
	}
	_, err := io.WriteString(s.port, line+"\n")
	return err
}

// await reads reply lines up to the n-th acknowledgement. An ok, a
// nohandler and a rejection each acknowledge one command.
func (s *Streamer) await(ctx context.Context, control bool, n int) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var reply Reply
	var rejected error
	reject := func(msg string) {
		if rejected == nil {
			rejected = fmt.Errorf("%w: %s", ErrRejected, msg)
		}
		n--
	}
	for n > 0 {
		line, err := s.readLine(ctx)
		if err != nil {
			return reply, err
		}
		switch {
		case line == "":
		case line == "ok":
			n--
		case line == strings.TrimSpace(protocol.ReplyNoHandler):
			reply.Unhandled = true
			n--
		case strings.HasPrefix(line, "error:"):
			reject(strings.TrimPrefix(line, "error:"))
		case control && strings.HasPrefix(line, "Unknown command:"):
			reject(line)
		case line == "stepcore ready" && s.Unsolicited != nil:
			s.Unsolicited(line)
		default:
			reply.Lines = append(reply.Lines, line)
		}
	}
	return reply, rejected
}

// readLine returns the next line without its terminator. A port with a
// read timeout returns no data while idle; reading resumes until ctx ends.
func (s *Streamer) readLine(ctx context.Context) (string, error) {
	for {
		chunk, err := s.r.ReadString('\n')
		s.partial.WriteString(chunk)
		if err == nil {
			line := strings.TrimRight(s.partial.String(), "\r\n")
			s.partial.Reset()
			return line, nil
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrNoProgress) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
