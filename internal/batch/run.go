package batch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"translation-gt/internal/logger"
	"translation-gt/internal/model"
	"translation-gt/internal/runstore"
	"translation-gt/internal/session"
)

const (
	DefaultRetryDelay         = 2 * time.Second
	DefaultMaxSessionFailures = 5
)

// ErrSessionPoolExhausted aborts a run when sessions keep failing to start
// across the whole pool.
var ErrSessionPoolExhausted = errors.New("session pool exhausted")

// Executor performs the remote operation for one job on a ready session.
type Executor interface {
	Execute(ctx context.Context, s *session.Session, job model.Job) (model.Artifact, error)
}

// Sessions hands out and takes back execution sessions.
type Sessions interface {
	Acquire(ctx context.Context) (*session.Session, error)
	Dispose(s *session.Session) error
}

type RunOptions struct {
	RunID string
	// RunDir receives the manifest checkpoint; empty disables it.
	RunDir     string
	TargetLang string
	WorkRoot   string
	OutputRoot string

	Concurrency        int
	Policy             model.RetryPolicy
	RetryDelay         time.Duration
	MaxSessionFailures int
	ReuseSessions      bool
	MaxJobs            int
	// CheckpointInterval bounds manifest rewrites; 0 means
	// DefaultCheckpointInterval.
	CheckpointInterval time.Duration

	Quarantine *runstore.QuarantineLog
	Executor   Executor
	Sessions   Sessions
	Log        *logger.Logger
	// OnEvent is called for every job transition, never concurrently.
	OnEvent func(Event)
}

type RunResult struct {
	RunID          string `json:"run_id"`
	Dispatched     int    `json:"dispatched"`
	Attempts       int    `json:"attempts"`
	Succeeded      int    `json:"succeeded"`
	Quarantined    int    `json:"quarantined"`
	Retried        int    `json:"retried"`
	Remaining      int    `json:"remaining"`
	MaxInFlight    int    `json:"max_in_flight"`
	Interrupted    bool   `json:"interrupted"`
	ManifestPath   string `json:"manifest_path,omitempty"`
	QuarantinePath string `json:"quarantine_path,omitempty"`
}

type runner struct {
	opts  RunOptions
	q     *queue
	track *tracker
	log   *logger.Logger

	eventMu sync.Mutex

	attempts        atomic.Int64
	retried         atomic.Int64
	executing       atomic.Int64
	maxExecuting    atomic.Int64
	sessionFailures atomic.Int64
}

// Run drives every job from jobs to a terminal state with at most
// Concurrency jobs in flight. Per-job failures never escape; Run returns an
// error only for ErrSessionPoolExhausted, discovery errors and state
// persistence errors. Cancelling ctx stops dispatch and reports the run as
// interrupted.
func Run(ctx context.Context, jobs iter.Seq2[model.Job, error], opts RunOptions) (RunResult, error) {
	if opts.Executor == nil || opts.Sessions == nil {
		return RunResult{}, errors.New("executor and sessions are required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.MaxSessionFailures <= 0 {
		opts.MaxSessionFailures = DefaultMaxSessionFailures
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}

	r := &runner{
		opts:  opts,
		q:     newQueue(jobs, opts.MaxJobs),
		track: newTracker(opts),
		log:   log.With("run_id", opts.RunID),
	}
	if err := r.track.checkpoint(); err != nil {
		return RunResult{}, err
	}

	r.log.Info("run started", "concurrency", opts.Concurrency, "max_attempts", opts.Policy.Max(), "reuse_sessions", opts.ReuseSessions)

	stopFlush := r.flushEvery(r.track.every)

	g, gctx := errgroup.WithContext(ctx)
	for w := 1; w <= opts.Concurrency; w++ {
		g.Go(func() error {
			return r.work(gctx, w)
		})
	}
	runErr := g.Wait()
	stopFlush()
	r.q.close()

	interrupted := ctx.Err() != nil
	if err := r.track.close(interrupted || runErr != nil); err != nil && runErr == nil {
		runErr = err
	}

	c := r.track.counts()
	res := RunResult{
		RunID:       opts.RunID,
		Dispatched:  c.Total,
		Attempts:    int(r.attempts.Load()),
		Succeeded:   c.Succeeded,
		Quarantined: c.Quarantined,
		Retried:     int(r.retried.Load()),
		Remaining:   c.Pending + c.InFlight + c.Failed,
		MaxInFlight: int(r.maxExecuting.Load()),
		Interrupted: interrupted,
	}
	if opts.RunDir != "" {
		res.ManifestPath = runstore.ManifestPath(opts.RunDir)
	}
	if opts.Quarantine != nil {
		res.QuarantinePath = opts.Quarantine.Path()
	}

	r.log.Info("run finished",
		"succeeded", res.Succeeded,
		"quarantined", res.Quarantined,
		"remaining", res.Remaining,
		"attempts", res.Attempts,
		"interrupted", res.Interrupted,
	)
	return res, runErr
}

func (r *runner) work(ctx context.Context, worker int) error {
	log := r.log.With("worker", worker)
	var held *session.Session
	release := func() {
		if held != nil {
			_ = r.opts.Sessions.Dispose(held)
			held = nil
		}
	}
	defer release()

	for {
		job, ok, err := r.q.pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("discover jobs: %w", err)
		}
		if !ok {
			return nil
		}

		if held == nil {
			s, err := r.opts.Sessions.Acquire(ctx)
			if err != nil {
				if ctx.Err() != nil {
					r.q.done()
					return nil
				}
				n := r.sessionFailures.Add(1)
				log.Warn("session unavailable, requeueing job", "job_id", job.ID, "consecutive_failures", n, "error", err)
				r.q.retry(job, r.opts.RetryDelay)
				if n >= int64(r.opts.MaxSessionFailures) {
					return fmt.Errorf("%w: %d consecutive session failures: %v", ErrSessionPoolExhausted, n, err)
				}
				continue
			}
			r.sessionFailures.Store(0)
			held = s
		}

		current, err := r.track.begin(job)
		if err != nil {
			r.q.done()
			return err
		}
		r.attempts.Add(1)
		r.emit(Event{Kind: EventStarted, Worker: worker, JobID: current.ID, Attempt: current.Attempts})
		log.Info("job started", "job_id", current.ID, "attempt", current.Attempts, "session_id", held.ID())

		execErr := r.execute(ctx, held, current)

		if execErr == nil {
			done, err := r.track.succeed(current.ID)
			r.q.done()
			if err != nil {
				return err
			}
			sessionJobs := held.NoteJob()
			sessionAge := held.Age()
			if !r.opts.ReuseSessions || !held.Usable() {
				release()
			}
			log.Info("job succeeded", "job_id", done.ID, "attempts", done.Attempts, "session_jobs", sessionJobs, "session_age", sessionAge.Round(time.Millisecond))
			r.emit(Event{Kind: EventSucceeded, Worker: worker, JobID: done.ID, Attempt: done.Attempts})
			continue
		}

		// a failed attempt never leaves its session in use
		if model.IsSessionBroken(execErr) {
			held.MarkBroken()
		}
		log.Debug("dropping session after failed attempt", "session_id", held.ID(), "state", held.State(), "job_id", current.ID)
		release()

		if ctx.Err() != nil {
			err := r.track.abandon(current.ID)
			r.q.done()
			log.Warn("job interrupted", "job_id", current.ID, "attempt", current.Attempts)
			r.emit(Event{Kind: EventInterrupted, Worker: worker, JobID: current.ID, Attempt: current.Attempts})
			return err
		}

		if r.opts.Policy.ShouldRetry(current) {
			failed, err := r.track.fail(current.ID, execErr)
			if err != nil {
				r.q.done()
				return err
			}
			r.retried.Add(1)
			r.q.retry(job, r.opts.RetryDelay)
			log.Warn("job failed, will retry", "job_id", failed.ID, "attempt", failed.Attempts, "kind", model.KindOf(execErr), "error", execErr)
			r.emit(Event{Kind: EventRetrying, Worker: worker, JobID: failed.ID, Attempt: failed.Attempts, Err: execErr})
			continue
		}

		quarantined, err := r.track.quarantine(current.ID, execErr)
		r.q.done()
		if err != nil {
			return err
		}
		if r.opts.Quarantine != nil {
			entry := model.QuarantineEntry{
				JobID:    quarantined.ID,
				Attempts: quarantined.Attempts,
				Reason:   execErr.Error(),
			}
			if err := r.opts.Quarantine.Append(entry); err != nil {
				return err
			}
		}
		log.Error("job quarantined", "job_id", quarantined.ID, "attempts", quarantined.Attempts, "error", execErr)
		r.emit(Event{Kind: EventQuarantined, Worker: worker, JobID: quarantined.ID, Attempt: quarantined.Attempts, Err: execErr})
	}
}

// execute runs one attempt and materializes its artifact at the job's
// output path.
func (r *runner) execute(ctx context.Context, s *session.Session, job model.Job) error {
	n := r.executing.Add(1)
	for {
		m := r.maxExecuting.Load()
		if n <= m || r.maxExecuting.CompareAndSwap(m, n) {
			break
		}
	}
	defer r.executing.Add(-1)

	art, err := r.opts.Executor.Execute(ctx, s, job)
	if err != nil {
		return err
	}
	if _, err := runstore.MaterializeFile(art.Path, job.OutputPath); err != nil {
		return model.Transient("materialize", err)
	}
	return nil
}

// flushEvery writes pending manifest changes on a ticker so a quiet period
// never leaves the checkpoint behind. The returned func stops it.
func (r *runner) flushEvery(d time.Duration) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if err := r.track.flush(); err != nil {
					r.log.Warn("manifest checkpoint failed", "error", err)
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func (r *runner) emit(ev Event) {
	if r.opts.OnEvent == nil {
		return
	}
	r.eventMu.Lock()
	defer r.eventMu.Unlock()
	c := r.track.counts()
	ev.Succeeded = c.Succeeded
	ev.Quarantined = c.Quarantined
	ev.InFlight = c.InFlight
	ev.Waiting = r.q.waiting()
	ev.Discovered = c.Total
	r.opts.OnEvent(ev)
}
