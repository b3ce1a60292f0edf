package sciclops

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
)

// The crane speaks a line-oriented ASCII protocol. Every command is a
// verb plus optional arguments terminated by CRLF; the device echoes
// the command verbatim and then emits a status line of the form
// "NNNN <message>", where code 0000 means success. The echo line is
// what correlates a status line with the command that produced it.

const (
	frameTerminator = "\r\n"
	successCode     = "0000"
)

var cmdSeq atomic.Uint64

// Command is one frame bound for the device. The unexported fields
// carry enough intent for the state tracker to apply the effect of a
// successful acknowledgement without re-parsing the argument text.
type Command struct {
	Seq  uint64
	Op   string
	Args string

	target  *Point
	jogAxis AxisID
	jogDist float64
	speed   int
}

func newCommand(op, args string) Command {
	return Command{Seq: cmdSeq.Add(1), Op: op, Args: args}
}

// text is the frame as the device will echo it back, without the terminator.
func (c Command) text() string {
	if c.Args == "" {
		return c.Op
	}
	return c.Op + " " + c.Args
}

// Encode renders the frame ready for the wire.
func (c Command) Encode() []byte {
	return []byte(c.text() + frameTerminator)
}

func (c Command) String() string {
	return fmt.Sprintf("#%d %s", c.Seq, c.text())
}

func cmdHome() Command   { return newCommand("HOME", "") }
func cmdOpen() Command   { return newCommand("OPEN", "") }
func cmdClose() Command  { return newCommand("CLOSE", "") }
func cmdReset() Command  { return newCommand("RESET", "") }
func cmdGetPos() Command { return newCommand("GETPOS", "") }

func cmdSetSpeed(percent int) Command {
	c := newCommand("SETSPEED", strconv.Itoa(percent))
	c.speed = percent
	return c
}

func cmdJog(axis AxisID, dist float64) Command {
	c := newCommand("JOG", fmt.Sprintf("%s,%g", axis, dist))
	c.jogAxis = axis
	c.jogDist = dist
	return c
}

func cmdLimp(enable bool) Command {
	if enable {
		return newCommand("LIMP", "TRUE")
	}
	return newCommand("LIMP", "FALSE")
}

// Absolute moves are a three-frame dance: stage a named point, move to
// it, then delete it so the point table never fills up.
func cmdLoadPoint(pt Point) Command {
	return newCommand("LOADPOINT", fmt.Sprintf("R:%.4f, Z:%.4f, P:%.4f, Y:%.4f", pt.R, pt.Z, pt.P, pt.Y))
}

func cmdMove(pt Point) Command {
	c := newCommand("MOVE", fmt.Sprintf("R:%.4f", pt.R))
	c.target = &pt
	return c
}

func cmdDeletePoint(pt Point) Command {
	return newCommand("DELETEPOINT", fmt.Sprintf("R:%.4f", pt.R))
}

// Response is one decoded status line.
type Response struct {
	Code    string
	Message string
}

func (r Response) OK() bool { return r.Code == successCode }

// MalformedResponseError reports a line the decoder could not place:
// neither the expected echo nor a well-formed status line.
type MalformedResponseError struct {
	Line string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response line %q", e.Line)
}

// errNeedMore tells the caller the buffered bytes do not yet hold a
// complete line; feed more and try again.
var errNeedMore = fmt.Errorf("incomplete response frame")

var statusRe = regexp.MustCompile(`^(\d{4})\s*(.*)$`)

// responseDecoder consumes the byte stream for a single in-flight
// command: first the echo of the command, then the status line. It is
// incremental so a status line split across serial reads is handled.
type responseDecoder struct {
	buf    bytes.Buffer
	want   string
	echoed bool
}

func (d *responseDecoder) reset(cmd Command) {
	d.buf.Reset()
	d.want = cmd.text()
	d.echoed = false
}

func (d *responseDecoder) feed(p []byte) {
	d.buf.Write(p)
}

func (d *responseDecoder) takeLine() (string, bool) {
	raw := d.buf.Bytes()
	i := bytes.IndexByte(raw, '\n')
	if i < 0 {
		return "", false
	}
	line := string(raw[:i])
	d.buf.Next(i + 1)
	return strings.TrimRight(line, "\r"), true
}

// next returns the decoded status line, errNeedMore when the stream is
// still short, or a *MalformedResponseError on junk.
func (d *responseDecoder) next() (Response, error) {
	for {
		line, ok := d.takeLine()
		if !ok {
			return Response{}, errNeedMore
		}
		if line == "" {
			continue
		}
		if !d.echoed {
			if line != d.want {
				return Response{}, &MalformedResponseError{Line: line}
			}
			d.echoed = true
			continue
		}
		m := statusRe.FindStringSubmatch(line)
		if m == nil {
			return Response{}, &MalformedResponseError{Line: line}
		}
		return Response{Code: m[1], Message: strings.TrimSpace(m[2])}, nil
	}
}

var posRe = regexp.MustCompile(`Z:([-\d.]+), R:([-\d.]+), Y:([-\d.]+), P:([-\d.]+)`)

// parsePositions decodes the payload of a GETPOS acknowledgement.
func parsePositions(msg string) (Point, error) {
	m := posRe.FindStringSubmatch(msg)
	if m == nil {
		return Point{}, &MalformedResponseError{Line: msg}
	}
	var pt Point
	for i, dst := range []*float64{&pt.Z, &pt.R, &pt.Y, &pt.P} {
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return Point{}, &MalformedResponseError{Line: msg}
		}
		*dst = v
	}
	return pt, nil
}
