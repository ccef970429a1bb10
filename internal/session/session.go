package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateBroken        State = "broken"
)

// Handle is the opaque execution context behind a session, typically one
// browser driver process.
type Handle interface {
	ID() string
	Alive() bool
	Close() error
}

// Launcher starts a fresh execution context. The returned handle must outlive
// ctx; ctx only bounds startup.
type Launcher interface {
	Launch(ctx context.Context) (Handle, error)
}

var ErrInitFailed = errors.New("session initialization failed")

// SessionError reports that startup failed after every allowed attempt.
type SessionError struct {
	Attempts int
	Err      error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", ErrInitFailed, e.Attempts, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func (e *SessionError) Is(target error) bool {
	return target == ErrInitFailed
}

// Session binds one handle to the worker that acquired it. Only that worker
// may use it; a broken session is never handed out again.
type Session struct {
	mu        sync.Mutex
	id        string
	handle    Handle
	state     State
	jobs      int
	disposed  bool
	createdAt time.Time
}

func newSession(h Handle) *Session {
	return &Session{
		id:        h.ID(),
		handle:    h,
		state:     StateReady,
		createdAt: time.Now(),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Handle() Handle {
	return s.handle
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) MarkBroken() {
	s.mu.Lock()
	s.state = StateBroken
	s.mu.Unlock()
}

// Usable reports whether the session may run another job.
func (s *Session) Usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.state != StateReady {
		return false
	}
	if !s.handle.Alive() {
		s.state = StateBroken
		return false
	}
	return true
}

// NoteJob counts a job executed on this session and returns the new total.
func (s *Session) NoteJob() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs++
	return s.jobs
}

func (s *Session) Age() time.Duration {
	return time.Since(s.createdAt)
}
