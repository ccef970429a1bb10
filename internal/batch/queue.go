package batch

import (
	"context"
	"iter"
	"sync"
	"time"

	"translation-gt/internal/model"
)

type retryItem struct {
	job     model.Job
	readyAt time.Time
}

// queue hands out jobs pulled lazily from discovery plus delayed retries.
// It is exhausted once discovery is drained, no retry is waiting and no job
// is in flight, since an in-flight job may still come back as a retry.
type queue struct {
	mu       sync.Mutex
	next     func() (model.Job, error, bool)
	stop     func()
	drained  bool
	maxJobs  int
	taken    int
	retries  []retryItem
	inFlight int
	wake     chan struct{}
}

func newQueue(src iter.Seq2[model.Job, error], maxJobs int) *queue {
	next, stop := iter.Pull2(src)
	return &queue{
		next:    next,
		stop:    stop,
		maxJobs: maxJobs,
		wake:    make(chan struct{}),
	}
}

// pop blocks until a job is available or the queue is exhausted (ok=false).
func (q *queue) pop(ctx context.Context) (model.Job, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.Job{}, false, err
		}

		q.mu.Lock()
		now := time.Now()
		if i := q.readyRetry(now); i >= 0 {
			job := q.retries[i].job
			q.retries = append(q.retries[:i], q.retries[i+1:]...)
			q.inFlight++
			q.mu.Unlock()
			return job, true, nil
		}

		if !q.drained && q.maxJobs > 0 && q.taken >= q.maxJobs {
			q.drained = true
		}
		if !q.drained {
			job, err, ok := q.next()
			switch {
			case !ok:
				q.drained = true
			case err != nil:
				q.drained = true
				q.broadcast()
				q.mu.Unlock()
				return model.Job{}, false, err
			default:
				q.taken++
				q.inFlight++
				q.mu.Unlock()
				return job, true, nil
			}
		}

		if len(q.retries) == 0 && q.inFlight == 0 {
			q.broadcast()
			q.mu.Unlock()
			return model.Job{}, false, nil
		}

		wake := q.wake
		var timer *time.Timer
		var timerC <-chan time.Time
		if at, ok := q.earliestRetry(); ok {
			timer = time.NewTimer(time.Until(at))
			timerC = timer.C
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
		case <-wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// retry puts an in-flight job back, runnable after delay.
func (q *queue) retry(job model.Job, delay time.Duration) {
	q.mu.Lock()
	q.inFlight--
	q.retries = append(q.retries, retryItem{job: job, readyAt: time.Now().Add(delay)})
	q.broadcast()
	q.mu.Unlock()
}

// done marks an in-flight job as finished for this run.
func (q *queue) done() {
	q.mu.Lock()
	q.inFlight--
	q.broadcast()
	q.mu.Unlock()
}

func (q *queue) waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.retries)
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stop()
}

func (q *queue) readyRetry(now time.Time) int {
	best := -1
	for i, r := range q.retries {
		if r.readyAt.After(now) {
			continue
		}
		if best < 0 || r.readyAt.Before(q.retries[best].readyAt) {
			best = i
		}
	}
	return best
}

func (q *queue) earliestRetry() (time.Time, bool) {
	if len(q.retries) == 0 {
		return time.Time{}, false
	}
	at := q.retries[0].readyAt
	for _, r := range q.retries[1:] {
		if r.readyAt.Before(at) {
			at = r.readyAt
		}
	}
	return at, true
}

func (q *queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}
