package sciclops

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// executor serializes all device traffic. Actions queue in arrival
// order, exactly one runs at a time, and the run goroutine is the sole
// writer of machine state. Stop bypasses the queue via an abort flag
// sampled between frames.
type executor struct {
	link   Link
	m      *machine
	cfg    *Config
	logger logging.Logger

	jobs    chan *job
	abort   atomic.Bool
	closed  chan struct{}
	closing sync.Once
	done    sync.WaitGroup

	dec responseDecoder
}

type job struct {
	req    ActionRequest
	result string
	err    error
	ready  chan struct{}
}

func newExecutor(link Link, m *machine, cfg *Config, logger logging.Logger) *executor {
	e := &executor{
		link:   link,
		m:      m,
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan *job, 16),
		closed: make(chan struct{}),
	}
	e.done.Add(1)
	go e.run()
	return e
}

func (e *executor) close() {
	e.closing.Do(func() { close(e.closed) })
	e.done.Wait()
}

// submit queues a request and waits for its completion. A queued
// action always executes; cancelling ctx after enqueue does not pull
// it back out, it only stops the caller from waiting.
func (e *executor) submit(ctx context.Context, req ActionRequest) (string, error) {
	j := &job{req: req, ready: make(chan struct{})}
	select {
	case e.jobs <- j:
	case <-e.closed:
		return "", errors.New("executor closed")
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case <-j.ready:
		return j.result, j.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *executor) run() {
	defer e.done.Done()
	for {
		select {
		case j := <-e.jobs:
			j.result, j.err = e.execute(j.req)
			close(j.ready)
		case <-e.closed:
			// Fail anything still queued rather than leaving callers hung.
			for {
				select {
				case j := <-e.jobs:
					j.err = errors.New("executor closed")
					close(j.ready)
				default:
					return
				}
			}
		}
	}
}

// requestStop arms the abort flag when work is in flight. The flag is
// cleared when the next action starts.
func (e *executor) requestStop() {
	if e.m.phaseNow().busy() {
		e.abort.Store(true)
		e.logger.Warn("stop requested, discarding remaining motion frames")
	}
}

func (e *executor) execute(req ActionRequest) (string, error) {
	e.abort.Store(false)

	// Plan against a consistent snapshot; rejections cost zero wire traffic.
	pl, err := planAction(req, e.m.Snapshot(), e.m.deck)
	if err != nil {
		e.logger.Debugf("%s rejected: %v", req, err)
		return "", err
	}
	if len(pl.steps) == 0 {
		return "", nil
	}

	prior := e.m.phaseNow()
	if pl.phase != "" {
		if err := e.m.transition(pl.phase); err != nil {
			return "", err
		}
	}
	e.logger.Debugf("%s: %d frames", req, len(pl.steps))

	deadline := time.Now().Add(e.cfg.ActionBudget)
	var result string
	for _, cmd := range pl.steps {
		if e.abort.Load() {
			e.settle(pl.phase, prior)
			return "", ErrStopped
		}
		resp, fault := e.exchange(cmd, deadline)
		if fault != nil {
			e.logger.Errorf("%s failed at %s: %v", req, cmd, fault)
			e.m.fail(fault)
			return "", fault
		}
		e.m.applyCommand(cmd, resp)
		result = resp.Message
	}

	if pl.finish != nil {
		e.m.commit(pl.finish)
	}
	e.settle(pl.phase, prior)
	return result, nil
}

// settle returns the crane to a resting phase after a plan ran (or was
// stopped). Plans that never declared a phase leave it untouched.
func (e *executor) settle(planned, prior Phase) {
	if planned == "" {
		return
	}
	if err := e.m.transition(PhaseIdle); err != nil {
		// Uninitialized -> Moving never happens; prior is only ever a
		// resting phase, so this is unreachable outside of bugs.
		e.logger.Errorf("could not settle from %s (was %s): %v", planned, prior, err)
	}
}

// exchange sends one frame and decodes its acknowledgement, applying
// the retry policy:
//   - timeouts and I/O failures retry with exponential backoff, up to
//     MaxRetries, all inside the action budget
//   - a malformed response is retried exactly once, then treated as a
//     lost link
//   - a device error status is never retried
func (e *executor) exchange(cmd Command, deadline time.Time) (Response, *Fault) {
	retriedMalformed := false
	for attempt := 0; ; attempt++ {
		if !time.Now().Before(deadline) {
			return Response{}, &Fault{Kind: FaultTimeout, Diagnostic: fmt.Sprintf("action budget exhausted before %s", cmd)}
		}
		resp, err := e.sendOnce(cmd, deadline)
		if err == nil {
			if !resp.OK() {
				return Response{}, &Fault{Kind: FaultDeviceError, Code: resp.Code, Diagnostic: resp.Message}
			}
			return resp, nil
		}

		var malformed *MalformedResponseError
		var linkErr *LinkError
		switch {
		case errors.As(err, &malformed):
			if retriedMalformed {
				return Response{}, &Fault{Kind: FaultLinkLost, Diagnostic: fmt.Sprintf("stream desynchronized at %s: %v", cmd, err)}
			}
			retriedMalformed = true
			e.logger.Warnf("%s: %v, resending once", cmd, err)
		case errors.As(err, &linkErr):
			if attempt >= e.cfg.MaxRetries {
				kind := FaultLinkLost
				if linkErr.Timeout {
					kind = FaultTimeout
				}
				return Response{}, &Fault{Kind: kind, Diagnostic: fmt.Sprintf("%s failed after %d attempts: %v", cmd, attempt+1, err)}
			}
			backoff := e.cfg.RetryBackoff << uint(attempt)
			e.logger.Warnf("%s: %v, retrying in %s", cmd, err, backoff)
			if !goutils.SelectContextOrWait(context.Background(), backoff) {
				return Response{}, &Fault{Kind: FaultLinkLost, Diagnostic: "interrupted during retry backoff"}
			}
		default:
			return Response{}, &Fault{Kind: FaultLinkLost, Diagnostic: err.Error()}
		}
	}
}

// sendOnce performs a single write/read-until-acknowledged round trip.
func (e *executor) sendOnce(cmd Command, deadline time.Time) (Response, error) {
	e.dec.reset(cmd)
	if err := e.link.Write(cmd.Encode(), e.cfg.ReadTimeout); err != nil {
		return Response{}, err
	}
	buf := make([]byte, 256)
	for {
		resp, err := e.dec.next()
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, errNeedMore) {
			return Response{}, err
		}
		timeout := e.cfg.ReadTimeout
		if remain := time.Until(deadline); remain < timeout {
			if remain <= 0 {
				return Response{}, &LinkError{Op: "read", Timeout: true}
			}
			timeout = remain
		}
		n, err := e.link.Read(buf, timeout)
		if err != nil {
			return Response{}, err
		}
		e.dec.feed(buf[:n])
	}
}
