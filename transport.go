package sciclops

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Link is the byte transport to the plate crane. The production
// implementation wraps the USB-serial bridge; tests substitute a fake.
type Link interface {
	// Write sends a fully framed command to the device.
	Write(p []byte, timeout time.Duration) error
	// Read fills p with whatever bytes are available, blocking up to
	// timeout. A timeout surfaces as a *LinkError with Timeout set,
	// never as (0, nil).
	Read(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// LinkError wraps transport failures so the executor can tell a stalled
// device apart from a dead one.
type LinkError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *LinkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("serial %s timed out", e.Op)
	}
	return fmt.Sprintf("serial %s failed: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

type serialLink struct {
	port serial.Port
	path string
}

// OpenSerialLink opens the crane's USB-serial bridge at path.
func OpenSerialLink(path string, baudRate int) (Link, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, &LinkError{Op: "open " + path, Err: err}
	}
	return &serialLink{port: port, path: path}, nil
}

func (l *serialLink) Write(p []byte, timeout time.Duration) error {
	if _, err := l.port.Write(p); err != nil {
		return &LinkError{Op: "write", Err: err}
	}
	return nil
}

func (l *serialLink) Read(p []byte, timeout time.Duration) (int, error) {
	if err := l.port.SetReadTimeout(timeout); err != nil {
		return 0, &LinkError{Op: "read", Err: err}
	}
	n, err := l.port.Read(p)
	if err != nil {
		return 0, &LinkError{Op: "read", Err: err}
	}
	// go.bug.st/serial reports an expired read timeout as (0, nil).
	if n == 0 {
		return 0, &LinkError{Op: "read", Timeout: true}
	}
	return n, nil
}

func (l *serialLink) Close() error {
	if err := l.port.Close(); err != nil {
		return &LinkError{Op: "close", Err: err}
	}
	return nil
}
