package gtdriver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"translation-gt/internal/logger"
	"translation-gt/internal/model"
	"translation-gt/internal/runstore"
	"translation-gt/internal/session"
)

const readyLine = "ready"

// stopGrace is how long a driver may take to close its browser after stdin
// closes before the whole process group is killed.
const stopGrace = 3 * time.Second

type LaunchOptions struct {
	Driver       string
	Args         []string
	ServiceURL   string
	Headless     bool
	DownloadRoot string
	Log          *logger.Logger
}

// Launcher starts one driver helper process per session.
type Launcher struct {
	opts LaunchOptions
	log  *logger.Logger
}

func NewLauncher(opts LaunchOptions) *Launcher {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Launcher{opts: opts, log: log}
}

// Browser is a running driver helper with its private download directory.
type Browser struct {
	id  string
	dir string
	cmd *exec.Cmd
	log *logger.Logger

	stdin  io.WriteCloser
	stdout *os.File
	lines  chan string
	exited chan struct{}
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	waitErr   error
	// ready is set once the driver announced itself; only a ready driver
	// gets a grace period on Close.
	ready bool
}

func (l *Launcher) Launch(ctx context.Context) (session.Handle, error) {
	driver := strings.TrimSpace(l.opts.Driver)
	if driver == "" {
		return nil, errors.New("driver path is required")
	}
	id := uuid.NewString()
	dir := filepath.Join(l.opts.DownloadRoot, id)
	if err := runstore.Mkdir(dir); err != nil {
		return nil, err
	}

	args := append([]string{}, l.opts.Args...)
	args = append(args, "serve", "--download-dir", dir)
	if strings.TrimSpace(l.opts.ServiceURL) != "" {
		args = append(args, "--url", l.opts.ServiceURL)
	}
	if l.opts.Headless {
		args = append(args, "--headless")
	}

	b, err := start(driver, args, id, dir, l.log.With("session_id", id))
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			_ = b.Close()
			return nil, model.Timeout("launch", fmt.Errorf("driver not ready: %w", ctx.Err()))
		case line, ok := <-b.lines:
			if !ok {
				_ = b.Close()
				return nil, fmt.Errorf("driver exited before ready: %v", b.exitErr())
			}
			if line == readyLine {
				b.ready = true
				return b, nil
			}
			b.log.Debug("driver output before ready", "line", line)
		}
	}
}

func start(driver string, args []string, id, dir string, log *logger.Logger) (*Browser, error) {
	cmd := exec.Command(driver, args...)
	cmd.WaitDelay = 2 * time.Second
	// the browser the driver spawns joins this group and dies with it
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stdin pipe: %w", err)
	}
	// A raw pipe instead of StdoutPipe so reads never race cmd.Wait.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("setup stdout pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = &lineLogger{log: log}

	if err := cmd.Start(); err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, fmt.Errorf("start driver %s: %w", driver, err)
	}
	_ = outW.Close()

	b := &Browser{
		id:     id,
		dir:    dir,
		cmd:    cmd,
		log:    log,
		stdin:  stdin,
		stdout: outR,
		lines:  make(chan string, 16),
		exited: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(b.lines)
		scanner := bufio.NewScanner(outR)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case b.lines <- line:
			case <-b.done:
				return
			}
		}
	}()
	go func() {
		b.waitErr = cmd.Wait()
		close(b.exited)
	}()

	log.Debug("driver started", "pid", cmd.Process.Pid, "download_dir", dir)
	return b, nil
}

func (b *Browser) ID() string {
	return b.id
}

func (b *Browser) DownloadDir() string {
	return b.dir
}

func (b *Browser) Alive() bool {
	select {
	case <-b.exited:
		return false
	default:
		return true
	}
}

// Close asks the driver to stop by closing its stdin, then kills its whole
// process group, and removes the download directory.
func (b *Browser) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		b.writeMu.Lock()
		_ = b.stdin.Close()
		b.writeMu.Unlock()

		if b.ready {
			grace := time.NewTimer(stopGrace)
			select {
			case <-b.exited:
			case <-grace.C:
				b.log.Warn("driver did not exit after stdin closed, killing it", "grace", stopGrace)
			}
			grace.Stop()
		}
		if b.cmd.Process != nil {
			killProcessGroup(b.cmd.Process)
		}
		<-b.exited
		_ = b.stdout.Close()
		if rmErr := os.RemoveAll(b.dir); rmErr != nil {
			err = fmt.Errorf("remove download dir %s: %w", b.dir, rmErr)
		}
		b.log.Debug("driver stopped", "exit", b.exitErr())
	})
	return err
}

func (b *Browser) send(line string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if !b.Alive() {
		return fmt.Errorf("driver exited: %v", b.exitErr())
	}
	_, err := io.WriteString(b.stdin, line+"\n")
	return err
}

// drain discards replies left over from an earlier, abandoned request.
func (b *Browser) drain() {
	for {
		select {
		case line, ok := <-b.lines:
			if !ok {
				return
			}
			b.log.Debug("discarding stale driver output", "line", line)
		default:
			return
		}
	}
}

func (b *Browser) exitErr() error {
	select {
	case <-b.exited:
		return b.waitErr
	default:
		return nil
	}
}

// lineLogger forwards driver stderr into the structured log line by line.
type lineLogger struct {
	log *logger.Logger
	buf []byte
	mu  sync.Mutex
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(w.buf[:i])); line != "" {
			w.log.Debug("driver stderr", "line", line)
		}
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > 64*1024 {
		w.buf = w.buf[:0]
	}
	return len(p), nil
}
