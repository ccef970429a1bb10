package batch

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"translation-gt/internal/model"
	"translation-gt/internal/runstore"
)

// DefaultCheckpointInterval bounds how often the run manifest is rewritten
// while jobs are moving. Outputs on disk stay the resume truth in between.
const DefaultCheckpointInterval = time.Second

// tracker owns the authoritative job records of one run and checkpoints
// them to the run manifest at most once per interval, plus at start and
// close.
type tracker struct {
	mu    sync.Mutex
	mf    model.RunManifest
	index map[string]int
	path  string

	every     time.Duration
	lastWrite time.Time
	dirty     bool
	writes    int
}

func newTracker(opts RunOptions) *tracker {
	now := time.Now().UTC().Format(time.RFC3339)
	t := &tracker{
		mf: model.RunManifest{
			SchemaVersion: 1,
			GeneratedAt:   now,
			RunID:         opts.RunID,
			TargetLang:    opts.TargetLang,
			WorkRoot:      opts.WorkRoot,
			OutputRoot:    opts.OutputRoot,
			Jobs:          []model.Job{},
		},
		index: map[string]int{},
		every: opts.CheckpointInterval,
	}
	if t.every <= 0 {
		t.every = DefaultCheckpointInterval
	}
	if opts.RunDir != "" {
		t.path = runstore.ManifestPath(opts.RunDir)
	}
	return t
}

// begin records a new attempt of job and returns the updated record.
func (t *tracker) begin(job model.Job) (model.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[job.ID]
	if !ok {
		i = len(t.mf.Jobs)
		t.index[job.ID] = i
		job.Status = model.StatusPending
		t.mf.Jobs = append(t.mf.Jobs, job)
		t.mf.Total++
		bump(&t.mf, model.StatusPending, 1)
	}
	j := &t.mf.Jobs[i]
	if err := t.transitionLocked(j, model.StatusInFlight, ""); err != nil {
		return model.Job{}, err
	}
	j.Attempts++
	j.LastAttemptAt = time.Now().UTC().Format(time.RFC3339)
	return *j, t.persistLocked()
}

func (t *tracker) succeed(id string) (model.Job, error) {
	return t.finish(id, model.StatusSucceeded, "", nil)
}

func (t *tracker) fail(id string, cause error) (model.Job, error) {
	return t.finish(id, model.StatusFailed, string(model.KindOf(cause)), cause)
}

func (t *tracker) quarantine(id string, cause error) (model.Job, error) {
	return t.finish(id, model.StatusQuarantined, "retries_exhausted", cause)
}

// abandon returns an attempt cut short by shutdown to pending.
func (t *tracker) abandon(id string) error {
	_, err := t.finish(id, model.StatusPending, "interrupted", nil)
	return err
}

func (t *tracker) finish(id, status, reason string, cause error) (model.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[id]
	if !ok {
		return model.Job{}, fmt.Errorf("unknown job %s", id)
	}
	j := &t.mf.Jobs[i]
	if err := t.transitionLocked(j, status, reason); err != nil {
		return model.Job{}, err
	}
	if cause != nil {
		j.LastError = truncate(cause.Error(), 1200)
	}
	if status == model.StatusSucceeded {
		j.LastError = ""
		j.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return *j, t.persistLocked()
}

func (t *tracker) transitionLocked(j *model.Job, status, reason string) error {
	from := j.Status
	if err := model.TransitionJobStatus(j, status, reason); err != nil {
		return err
	}
	bump(&t.mf, from, -1)
	bump(&t.mf, status, 1)
	return nil
}

// checkpoint writes the manifest now.
func (t *tracker) checkpoint() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked()
}

// flush writes the manifest if a transition is still unwritten.
func (t *tracker) flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}
	return t.writeLocked()
}

// close stamps the final run outcome into the manifest.
func (t *tracker) close(interrupted bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mf.Interrupted = interrupted
	t.mf.Finished = !interrupted
	return t.writeLocked()
}

func (t *tracker) counts() model.RunManifest {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.mf
	c.Jobs = nil
	return c
}

// persistLocked records a transition; the write itself waits for the next
// interval so per-job cost does not grow with the manifest.
func (t *tracker) persistLocked() error {
	t.dirty = true
	if time.Since(t.lastWrite) < t.every {
		return nil
	}
	return t.writeLocked()
}

func (t *tracker) writeLocked() error {
	t.dirty = false
	if t.path == "" {
		return nil
	}
	now := time.Now()
	t.mf.UpdatedAt = now.UTC().Format(time.RFC3339)
	if err := runstore.WriteJSON(t.path, t.mf); err != nil {
		t.dirty = true
		return fmt.Errorf("persist run manifest: %w", err)
	}
	t.lastWrite = now
	t.writes++
	return nil
}

func bump(mf *model.RunManifest, status string, d int) {
	switch status {
	case model.StatusPending:
		mf.Pending += d
	case model.StatusInFlight:
		mf.InFlight += d
	case model.StatusSucceeded:
		mf.Succeeded += d
	case model.StatusFailed:
		mf.Failed += d
	case model.StatusQuarantined:
		mf.Quarantined += d
	}
}

func recomputeCounts(mf *model.RunManifest) {
	pending := 0
	inFlight := 0
	succeeded := 0
	failed := 0
	quarantined := 0

	for _, j := range mf.Jobs {
		switch j.Status {
		case model.StatusPending:
			pending++
		case model.StatusInFlight:
			inFlight++
		case model.StatusSucceeded:
			succeeded++
		case model.StatusFailed:
			failed++
		case model.StatusQuarantined:
			quarantined++
		}
	}

	mf.Total = len(mf.Jobs)
	mf.Pending = pending
	mf.InFlight = inFlight
	mf.Succeeded = succeeded
	mf.Failed = failed
	mf.Quarantined = quarantined
}

// ResetStaleInFlight marks jobs left in_flight by a crashed run as pending,
// so a manifest read after the fact reports them as interrupted.
func ResetStaleInFlight(mf *model.RunManifest) int {
	n := 0
	for i := range mf.Jobs {
		if mf.Jobs[i].Status != model.StatusInFlight {
			continue
		}
		_ = model.TransitionJobStatus(&mf.Jobs[i], model.StatusPending, "interrupted_previous_run")
		if mf.Jobs[i].LastError == "" {
			mf.Jobs[i].LastError = "previous run stopped while this job was in flight"
		}
		n++
	}
	if n > 0 {
		recomputeCounts(mf)
	}
	return n
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
