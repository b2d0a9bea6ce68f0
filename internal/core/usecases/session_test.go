package usecases

import (
	"errors"
	"testing"
	"time"

	"github.com/samirrijal/fleetmap/internal/core/domain"
)

type sentLog struct {
	cmds []domain.Command
}

func (l *sentLog) transmit(c domain.Command) error {
	l.cmds = append(l.cmds, c)
	return nil
}

func TestSession_PreludeBeforePending(t *testing.T) {
	var log sentLog
	s := NewSession(log.transmit, SessionOptions{})
	s.Open(nil)

	_ = s.Send(domain.SetStyle(domain.StyleSatellite))
	if s.Pending() != 1 || len(log.cmds) != 0 {
		t.Fatalf("command should wait for ready")
	}

	ok, err := s.MarkReady([]domain.Command{domain.AddOverlay(marker("a", 19))})
	if !ok || err != nil {
		t.Fatalf("MarkReady() = %v, %v", ok, err)
	}
	if len(log.cmds) != 2 || log.cmds[0].Type != domain.CmdAddOverlay || log.cmds[1].Type != domain.CmdSetStyle {
		t.Fatalf("unexpected delivery order %+v", log.cmds)
	}
	for i, c := range log.cmds {
		if c.Seq != uint64(i+1) {
			t.Errorf("cmds[%d].Seq = %d, want %d", i, c.Seq, i+1)
		}
	}

	if ok, _ := s.MarkReady(nil); ok {
		t.Error("second ready must be ignored")
	}
	_ = s.Send(domain.Clear())
	if got := log.cmds[len(log.cmds)-1]; got.Type != domain.CmdClear || got.Seq != 3 {
		t.Errorf("ready session should transmit directly, got %+v", got)
	}
	if s.Delivered() != 3 {
		t.Errorf("Delivered() = %d, want 3", s.Delivered())
	}
}

func TestSession_DisposeIsTerminalAndIdempotent(t *testing.T) {
	var log sentLog
	s := NewSession(log.transmit, SessionOptions{})
	_ = s.Send(domain.Clear())

	if !s.Dispose() {
		t.Fatal("first dispose should transition")
	}
	if s.Dispose() {
		t.Error("second dispose should be a no-op")
	}
	if err := s.Send(domain.Clear()); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("Send after dispose = %v, want ErrSessionClosed", err)
	}
	if ok, _ := s.MarkReady(nil); ok {
		t.Error("disposed session cannot become ready")
	}
	if len(log.cmds) != 0 || s.Pending() != 0 {
		t.Error("pending commands must be dropped, never sent")
	}
}

func TestSession_OverflowTimesOut(t *testing.T) {
	var log sentLog
	s := NewSession(log.transmit, SessionOptions{MaxPending: 1})
	_ = s.Send(domain.Clear())

	err := s.Send(domain.Clear())
	if !errors.Is(err, domain.ErrSessionTimedOut) {
		t.Fatalf("expected ErrSessionTimedOut, got %v", err)
	}
	if s.State() != domain.SessionDisposed {
		t.Errorf("state = %s, want disposed", s.State())
	}
	if !errors.Is(s.Cause(), domain.ErrSessionTimedOut) {
		t.Errorf("cause = %v", s.Cause())
	}
}

func TestSession_HandshakeTimeout(t *testing.T) {
	var log sentLog
	s := NewSession(log.transmit, SessionOptions{HandshakeTimeout: 10 * time.Millisecond})
	fired := make(chan struct{})
	s.Open(func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("handshake timer never fired")
	}
	if !s.Expire() {
		t.Fatal("Expire should dispose a booting session")
	}
	if s.Expire() {
		t.Error("Expire on a disposed session should be a no-op")
	}
	if !errors.Is(s.Cause(), domain.ErrSessionTimedOut) {
		t.Errorf("cause = %v", s.Cause())
	}
}

func TestSession_ReadyStopsTimer(t *testing.T) {
	var log sentLog
	s := NewSession(log.transmit, SessionOptions{HandshakeTimeout: time.Hour})
	s.Open(func() {})
	_, _ = s.MarkReady(nil)
	if s.timer != nil {
		t.Error("timer should be stopped on ready")
	}
	if s.Expire() {
		t.Error("ready session must not expire")
	}
	if s.HandshakeDuration() < 0 {
		t.Error("handshake duration should not be negative")
	}
}
