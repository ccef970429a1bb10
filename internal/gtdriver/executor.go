package gtdriver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"translation-gt/internal/logger"
	"translation-gt/internal/model"
	"translation-gt/internal/session"
)

type ExecutorOptions struct {
	// SubmitTimeout bounds the wait for the driver's reply to one request.
	SubmitTimeout time.Duration
	// WaitTimeout bounds the wait for the translated file to land.
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Log          *logger.Logger
}

// Executor translates one document per call on a Browser session.
type Executor struct {
	opts ExecutorOptions
	log  *logger.Logger
}

func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 60 * time.Second
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 2 * opts.WaitTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{opts: opts, log: log}
}

// Execute submits job's input to the driver, waits for its verdict, then
// waits for the translated file in the session's download directory.
func (e *Executor) Execute(ctx context.Context, s *session.Session, job model.Job) (model.Artifact, error) {
	b, ok := s.Handle().(*Browser)
	if !ok {
		return model.Artifact{}, model.SessionBroken("execute", fmt.Errorf("unsupported session handle %T", s.Handle()))
	}
	if !b.Alive() {
		return model.Artifact{}, model.SessionBroken("execute", fmt.Errorf("driver exited: %v", b.exitErr()))
	}

	input, err := filepath.Abs(job.InputPath)
	if err != nil {
		return model.Artifact{}, model.Transient("execute", fmt.Errorf("resolve input %s: %w", job.InputPath, err))
	}
	if _, err := os.Stat(input); err != nil {
		return model.Artifact{}, model.Transient("execute", fmt.Errorf("input not readable: %w", err))
	}
	target := filepath.Join(b.DownloadDir(), filepath.Base(input))
	_ = os.Remove(target)

	b.drain()
	if err := b.send("translate\t" + input); err != nil {
		return model.Artifact{}, model.SessionBroken("submit", err)
	}
	if err := e.awaitReply(ctx, s, b); err != nil {
		return model.Artifact{}, err
	}
	return e.awaitArtifact(ctx, b, target)
}

func (e *Executor) awaitReply(ctx context.Context, s *session.Session, b *Browser) error {
	timer := time.NewTimer(e.opts.SubmitTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.MarkBroken()
			return ctx.Err()
		case <-timer.C:
			// a late reply would be read as the answer to the next request
			s.MarkBroken()
			return model.Timeout("submit", fmt.Errorf("no driver reply within %s", e.opts.SubmitTimeout))
		case line, ok := <-b.lines:
			if !ok {
				return model.SessionBroken("submit", fmt.Errorf("driver exited: %v", b.exitErr()))
			}
			done, err := parseReply(line)
			if done {
				return err
			}
			b.log.Debug("driver output", "line", line)
		}
	}
}

// parseReply reports whether line is a verdict and, if so, the error it carries.
func parseReply(line string) (bool, error) {
	if line == "ok" {
		return true, nil
	}
	rest, found := strings.CutPrefix(line, "error")
	if !found || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
		return false, nil
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return true, model.Transient("translate", errors.New("driver reported an error"))
	}
	msg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), fields[0]))
	if msg == "" {
		msg = "driver reported an error"
	}
	return true, &model.ExecError{Kind: model.ParseErrorKind(fields[0]), Op: "translate", Err: errors.New(msg)}
}

func (e *Executor) awaitArtifact(ctx context.Context, b *Browser, target string) (model.Artifact, error) {
	deadline := time.NewTimer(e.opts.WaitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(e.opts.PollInterval)
	defer tick.Stop()

	for {
		if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return model.Artifact{Path: target, Size: info.Size()}, nil
		}
		if !b.Alive() {
			return model.Artifact{}, model.SessionBroken("download", fmt.Errorf("driver exited: %v", b.exitErr()))
		}
		select {
		case <-ctx.Done():
			return model.Artifact{}, ctx.Err()
		case <-deadline.C:
			return model.Artifact{}, model.Timeout("download", fmt.Errorf("%s not observed within %s", filepath.Base(target), e.opts.WaitTimeout))
		case <-tick.C:
		}
	}
}

type DependencyReport struct {
	DriverFound bool   `json:"driver_found"`
	DriverPath  string `json:"driver_path,omitempty"`
}

func DependencyStatus(driver string) DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath(driver); err == nil {
		report.DriverFound = true
		report.DriverPath = path
	}
	return report
}

func CheckDependencies(driver string) error {
	if !DependencyStatus(driver).DriverFound {
		return fmt.Errorf("missing dependency: driver %q is not installed or not on PATH", driver)
	}
	return nil
}
