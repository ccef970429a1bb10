package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHandle struct {
	id     string
	alive  atomic.Bool
	closed atomic.Int32
}

func (h *fakeHandle) ID() string   { return h.id }
func (h *fakeHandle) Alive() bool  { return h.alive.Load() }
func (h *fakeHandle) Close() error { h.closed.Add(1); h.alive.Store(false); return nil }

type fakeLauncher struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (l *fakeLauncher) Launch(ctx context.Context) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls <= l.failures {
		return nil, fmt.Errorf("browser did not start (call %d)", l.calls)
	}
	h := &fakeHandle{id: fmt.Sprintf("s%d", l.calls)}
	h.alive.Store(true)
	return h, nil
}

func TestAcquireRetriesThenSucceeds(t *testing.T) {
	launcher := &fakeLauncher{failures: 2}
	m := NewManager(launcher, Options{Limit: 1, InitAttempts: 3, InitBackoff: time.Millisecond})

	s, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if launcher.calls != 3 {
		t.Fatalf("expected 3 launch calls, got %d", launcher.calls)
	}
	if s.State() != StateReady || !s.Usable() {
		t.Fatalf("expected ready session, got %s", s.State())
	}
	if m.Live() != 1 {
		t.Fatalf("expected one live session, got %d", m.Live())
	}
	if err := m.Dispose(s); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if m.Live() != 0 {
		t.Fatalf("expected zero live sessions after dispose, got %d", m.Live())
	}
}

func TestAcquireSurfacesInitFailedAfterBound(t *testing.T) {
	launcher := &fakeLauncher{failures: 100}
	m := NewManager(launcher, Options{Limit: 1, InitAttempts: 3, InitBackoff: time.Millisecond})

	_, err := m.Acquire(context.Background())
	if !errors.Is(err, ErrInitFailed) {
		t.Fatalf("expected ErrInitFailed, got %v", err)
	}
	var se *SessionError
	if !errors.As(err, &se) || se.Attempts != 3 {
		t.Fatalf("expected SessionError with 3 attempts, got %#v", err)
	}
	if launcher.calls != 3 {
		t.Fatalf("expected exactly 3 launch calls, got %d", launcher.calls)
	}

	// the slot must have been returned
	launcher.failures = 0
	s, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after failure: %v", err)
	}
	_ = m.Dispose(s)
}

func TestAcquireBlocksAtLimit(t *testing.T) {
	m := NewManager(&fakeLauncher{}, Options{Limit: 2, InitBackoff: time.Millisecond})
	a, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected third acquire to block until deadline, got %v", err)
	}

	_ = m.Dispose(a)
	c, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after dispose: %v", err)
	}
	_ = m.Dispose(b)
	_ = m.Dispose(c)
	if m.Peak() != 2 {
		t.Fatalf("expected peak 2, got %d", m.Peak())
	}
}

func TestDisposeIsIdempotentAndBrokenIsNotUsable(t *testing.T) {
	m := NewManager(&fakeLauncher{}, Options{Limit: 1})
	s, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.MarkBroken()
	if s.Usable() {
		t.Fatalf("broken session must not be usable")
	}
	h := s.Handle().(*fakeHandle)
	if err := m.Dispose(s); err != nil {
		t.Fatal(err)
	}
	if err := m.Dispose(s); err != nil {
		t.Fatal(err)
	}
	if h.closed.Load() != 1 {
		t.Fatalf("expected handle closed once, got %d", h.closed.Load())
	}
	if m.Live() != 0 {
		t.Fatalf("double dispose corrupted live count: %d", m.Live())
	}
}

func TestUsableDetectsDeadHandle(t *testing.T) {
	m := NewManager(&fakeLauncher{}, Options{Limit: 1})
	s, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Dispose(s)

	s.Handle().(*fakeHandle).alive.Store(false)
	if s.Usable() {
		t.Fatalf("dead handle must not be usable")
	}
	if s.State() != StateBroken {
		t.Fatalf("expected broken state, got %s", s.State())
	}
}
