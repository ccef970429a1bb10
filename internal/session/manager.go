package session

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"translation-gt/internal/logger"
)

const (
	DefaultInitAttempts = 3
	DefaultInitBackoff  = 5 * time.Second
	DefaultInitTimeout  = 30 * time.Second
)

type Options struct {
	// Limit bounds the number of live sessions.
	Limit        int
	InitAttempts int
	InitBackoff  time.Duration
	InitTimeout  time.Duration
	Log          *logger.Logger
}

// Manager launches and disposes sessions and caps how many exist at once.
type Manager struct {
	launcher Launcher
	opts     Options
	sem      *semaphore.Weighted
	log      *logger.Logger

	live atomic.Int64
	peak atomic.Int64
}

func NewManager(launcher Launcher, opts Options) *Manager {
	if opts.Limit <= 0 {
		opts.Limit = 1
	}
	if opts.InitAttempts <= 0 {
		opts.InitAttempts = DefaultInitAttempts
	}
	if opts.InitBackoff < 0 {
		opts.InitBackoff = 0
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		launcher: launcher,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.Limit)),
		log:      log,
	}
}

// Acquire blocks for a free slot, then launches a session, retrying startup
// with a fixed backoff. On exhaustion it returns a *SessionError matching
// ErrInitFailed.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= m.opts.InitAttempts; attempt++ {
		launchCtx, cancel := context.WithTimeout(ctx, m.opts.InitTimeout)
		h, err := m.launcher.Launch(launchCtx)
		cancel()
		if err == nil {
			s := newSession(h)
			n := m.live.Add(1)
			for {
				p := m.peak.Load()
				if n <= p || m.peak.CompareAndSwap(p, n) {
					break
				}
			}
			m.log.Debug("session ready", "session_id", s.ID(), "attempt", attempt, "live", n)
			return s, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			m.sem.Release(1)
			return nil, ctx.Err()
		}
		m.log.Warn("session launch failed", "attempt", attempt, "max_attempts", m.opts.InitAttempts, "error", err)
		if attempt == m.opts.InitAttempts {
			break
		}
		if err := sleepCtx(ctx, m.opts.InitBackoff); err != nil {
			m.sem.Release(1)
			return nil, err
		}
	}

	m.sem.Release(1)
	return nil, &SessionError{Attempts: m.opts.InitAttempts, Err: lastErr}
}

// Dispose releases the session's handle and its slot. Disposing twice is a
// no-op.
func (m *Manager) Dispose(s *Session) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	final := s.state
	jobs := s.jobs
	if s.state == StateReady {
		s.state = StateUninitialized
	}
	s.mu.Unlock()

	err := s.handle.Close()
	live := m.live.Add(-1)
	m.sem.Release(1)
	if err != nil {
		m.log.Warn("session close failed", "session_id", s.ID(), "error", err)
	}
	m.log.Debug("session disposed", "session_id", s.ID(), "state", final, "jobs", jobs, "age", s.Age().Round(time.Millisecond), "live", live)
	return err
}

// Live is the number of sessions currently acquired and not disposed.
func (m *Manager) Live() int {
	return int(m.live.Load())
}

// Peak is the highest Live value observed.
func (m *Manager) Peak() int {
	return int(m.peak.Load())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
