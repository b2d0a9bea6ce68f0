package usecases

import (
	"errors"
	"fmt"
	"time"

	"github.com/samirrijal/fleetmap/internal/core/domain"
)

// SessionOptions bounds how long a session may wait for the remote handshake.
type SessionOptions struct {
	// MaxPending caps commands buffered before Ready. 0 = unbounded.
	MaxPending int
	// HandshakeTimeout forces dispose if Ready has not arrived. 0 = wait forever.
	HandshakeTimeout time.Duration
}

// Session gates command delivery on the remote handshake:
// Booting → Ready (once) → Disposed (terminal, from either state).
//
// Session is not safe for concurrent use; MapBridge serializes access.
type Session struct {
	state    domain.SessionState
	queue    *CommandQueue
	transmit func(domain.Command) error
	opts     SessionOptions
	seq      uint64

	timer    *time.Timer
	openedAt time.Time
	readyAt  time.Time
	cause    error
}

// NewSession creates a Booting session delivering commands through transmit.
func NewSession(transmit func(domain.Command) error, opts SessionOptions) *Session {
	s := &Session{
		state:    domain.SessionBooting,
		transmit: transmit,
		opts:     opts,
	}
	s.queue = NewCommandQueue(s.deliver, opts.MaxPending)
	return s
}

// Open starts the handshake clock. onExpire runs on its own goroutine when the
// handshake timeout elapses; it should take the owner's lock and call Expire.
func (s *Session) Open(onExpire func()) {
	s.openedAt = time.Now()
	if s.opts.HandshakeTimeout > 0 && onExpire != nil && s.state == domain.SessionBooting {
		s.timer = time.AfterFunc(s.opts.HandshakeTimeout, onExpire)
	}
}

// State returns the current handshake state.
func (s *Session) State() domain.SessionState { return s.state }

// Pending returns the number of commands waiting for Ready.
func (s *Session) Pending() int { return s.queue.Len() }

// Cause returns why the session was disposed, if it was forced.
func (s *Session) Cause() error { return s.cause }

// HandshakeDuration returns the time between Open and Ready.
func (s *Session) HandshakeDuration() time.Duration {
	if s.readyAt.IsZero() {
		return 0
	}
	return s.readyAt.Sub(s.openedAt)
}

// Send delivers cmd when Ready and buffers it while Booting.
// A Booting session whose buffer overflows is disposed with ErrSessionTimedOut.
func (s *Session) Send(cmd domain.Command) error {
	if s.state == domain.SessionDisposed {
		return domain.ErrSessionClosed
	}
	err := s.queue.Enqueue(cmd)
	if errors.Is(err, errQueueFull) {
		s.fail(fmt.Errorf("%w: more than %d commands pending before ready", domain.ErrSessionTimedOut, s.opts.MaxPending))
		return s.cause
	}
	return err
}

// MarkReady transitions Booting → Ready. The prelude is transmitted first,
// then the pending queue in FIFO order, so the overlay replay precedes every
// queued command regardless of the order the host issued them. Returns false
// if the session was not Booting, in which case nothing is sent.
func (s *Session) MarkReady(prelude []domain.Command) (bool, error) {
	if s.state != domain.SessionBooting {
		return false, nil
	}
	s.state = domain.SessionReady
	s.readyAt = time.Now()
	s.stopTimer()

	var first error
	for _, cmd := range prelude {
		if err := s.deliver(cmd); err != nil && first == nil {
			first = err
		}
	}
	if err := s.queue.Flush(); err != nil && first == nil {
		first = err
	}
	return true, first
}

// Expire disposes a still-Booting session with ErrSessionTimedOut.
func (s *Session) Expire() bool {
	if s.state != domain.SessionBooting {
		return false
	}
	s.fail(fmt.Errorf("%w: no ready event within %s", domain.ErrSessionTimedOut, s.opts.HandshakeTimeout))
	return true
}

// Dispose moves to the terminal state and drops pending commands.
// It reports whether this call performed the transition.
func (s *Session) Dispose() bool {
	if s.state == domain.SessionDisposed {
		return false
	}
	s.state = domain.SessionDisposed
	s.stopTimer()
	s.queue.Discard()
	return true
}

// deliver stamps the next sequence number, so Seq increases in delivery order.
func (s *Session) deliver(cmd domain.Command) error {
	s.seq++
	cmd.Seq = s.seq
	return s.transmit(cmd)
}

// Delivered returns how many commands have been handed to the channel.
func (s *Session) Delivered() uint64 { return s.seq }

func (s *Session) fail(cause error) {
	s.cause = cause
	s.Dispose()
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
