package sciclops

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
)

// fakeLink scripts the device end of the wire: every accepted write is
// answered with an echo plus a status line, with optional injected
// timeouts, garbage, and device error codes.
type fakeLink struct {
	mu      sync.Mutex
	writes  []string // command texts, in wire order
	pending bytes.Buffer

	failWrites int               // inject write timeouts for the next n writes
	failReads  int               // inject read timeouts for the next n reads
	garbage    map[string]int    // op -> junk status lines to emit before behaving
	deviceErr  map[string]string // op -> error status code
	onWrite    func(op string)   // fires after a write is accepted
	chunk      int               // max bytes per read, 0 = unlimited
	closed     bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		garbage:   make(map[string]int),
		deviceErr: make(map[string]string),
	}
}

func (f *fakeLink) Write(p []byte, _ time.Duration) error {
	f.mu.Lock()
	if f.failWrites > 0 {
		f.failWrites--
		f.mu.Unlock()
		return &LinkError{Op: "write", Timeout: true}
	}
	text := strings.TrimSuffix(string(p), frameTerminator)
	f.writes = append(f.writes, text)
	op := strings.Fields(text)[0]

	f.pending.WriteString(text + frameTerminator)
	switch {
	case f.garbage[op] > 0:
		f.garbage[op]--
		f.pending.WriteString("@@#!" + frameTerminator)
	case f.deviceErr[op] != "":
		f.pending.WriteString(f.deviceErr[op] + " Device fault" + frameTerminator)
	default:
		f.pending.WriteString(f.replyFor(op) + frameTerminator)
	}
	hook := f.onWrite
	f.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	return nil
}

func (f *fakeLink) replyFor(op string) string {
	switch op {
	case "GETPOS":
		return successCode + " Z:23.5188, R:109.2741, Y:32.7484, P:98.2955"
	case "VERSION":
		return successCode + " SCICLOPS 3.0"
	case "GETPLATEPRESENT":
		return successCode + " TRUE"
	default:
		return successCode + " SUCCESS"
	}
}

func (f *fakeLink) Read(p []byte, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads > 0 {
		f.failReads--
		return 0, &LinkError{Op: "read", Timeout: true}
	}
	if f.pending.Len() == 0 {
		return 0, &LinkError{Op: "read", Timeout: true}
	}
	n := len(p)
	if f.chunk > 0 && f.chunk < n {
		n = f.chunk
	}
	return f.pending.Read(p[:n])
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) setOnWrite(hook func(op string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWrite = hook
}

func (f *fakeLink) wroteOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.writes))
	for i, w := range f.writes {
		ops[i] = strings.Fields(w)[0]
	}
	return ops
}

func (f *fakeLink) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func countOp(ops []string, op string) int {
	n := 0
	for _, o := range ops {
		if o == op {
			n++
		}
	}
	return n
}

func testDriverConfig() *Config {
	return &Config{
		Port:         "/dev/null",
		Baudrate:     defaultBaudrate,
		ReadTimeout:  50 * time.Millisecond,
		ActionBudget: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		DefaultSpeed: 100,
	}
}

func newTestDriver(t *testing.T, link Link) *Driver {
	t.Helper()
	logger := logging.NewTestLogger(t)
	driver := newDriverWithLink(testDriverConfig(), link, logger)
	t.Cleanup(func() { _ = driver.Close() })
	return driver
}

// stockDeck pre-loads plates so transfer tests have inventory to move.
func stockDeck(d *Driver, towerPlates ...int) {
	d.m.commit(func(m *machine) {
		for i, n := range towerPlates {
			if i < towerCount {
				m.deck.Towers[i].Count = n
			}
		}
	})
}
