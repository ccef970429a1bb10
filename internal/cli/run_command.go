package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"translation-gt/internal/batch"
	"translation-gt/internal/discovery"
	"translation-gt/internal/gtdriver"
	"translation-gt/internal/logger"
	"translation-gt/internal/model"
	"translation-gt/internal/runstore"
	"translation-gt/internal/session"
)

const logFileName = "translation-gt.log"

const (
	progressAuto      = "auto"
	progressDashboard = "dashboard"
	progressLog       = "log"
)

func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	pf := registerPathFlags(fs)
	rf := registerRunFlags(fs)
	maxJobs := fs.Int("max-jobs", 0, "stop handing out new jobs after N (0 = all)")
	retryQuarantined := fs.Bool("retry-quarantined", false, "include jobs quarantined by earlier runs")
	progress := fs.String("progress", progressAuto, "progress display: auto|dashboard|log")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := resolveSettings(fs, pf, rf)
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := gtdriver.CheckDependencies(s.Driver); err != nil {
		return err
	}
	mode, err := resolveProgressMode(*progress, *jsonOut)
	if err != nil {
		return err
	}

	stateDir := runstore.StateDir(s.OutputRoot)
	runID := newRunID(time.Now())
	lock, err := runstore.AcquireRunLock(stateDir, runID)
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release()
	}()

	// Download directories of an earlier run can only hold stale files.
	downloads := runstore.DownloadsDir(stateDir)
	if err := os.RemoveAll(downloads); err != nil {
		return fmt.Errorf("clean %s: %w", downloads, err)
	}

	log, err := logger.New(logger.Options{
		Mode:     s.LogMode,
		FilePath: filepath.Join(runstore.LogsDir(stateDir), logFileName),
		Quiet:    mode == progressDashboard,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	qpath := runstore.QuarantinePath(stateDir)
	exclude := map[string]bool{}
	if !*retryQuarantined {
		exclude, err = runstore.QuarantinedIDs(qpath)
		if err != nil {
			return err
		}
	}
	jobs, err := discovery.Discover(discovery.Options{
		WorkRoot:   s.WorkRoot,
		OutputRoot: s.OutputRoot,
		Ext:        s.InputExt,
		Exclude:    exclude,
	})
	if err != nil {
		return err
	}
	qlog, err := runstore.OpenQuarantineLog(qpath)
	if err != nil {
		return err
	}

	launcher := gtdriver.NewLauncher(gtdriver.LaunchOptions{
		Driver:       s.Driver,
		Args:         s.DriverArgs,
		ServiceURL:   s.ResolvedServiceURL(),
		Headless:     s.Headless,
		DownloadRoot: downloads,
		Log:          log,
	})
	sessions := session.NewManager(launcher, session.Options{
		Limit:        s.Concurrency,
		InitAttempts: s.InitAttempts,
		InitBackoff:  s.InitBackoff,
		InitTimeout:  s.InitTimeout,
		Log:          log,
	})
	executor := gtdriver.NewExecutor(gtdriver.ExecutorOptions{
		SubmitTimeout: s.SubmitTimeout,
		WaitTimeout:   s.WaitTimeout,
		PollInterval:  s.PollInterval,
		Log:           log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := batch.RunOptions{
		RunID:              runID,
		RunDir:             runstore.RunDir(stateDir, runID),
		TargetLang:         s.TargetLang,
		WorkRoot:           s.WorkRoot,
		OutputRoot:         s.OutputRoot,
		Concurrency:        s.Concurrency,
		Policy:             model.RetryPolicy{MaxAttempts: s.MaxAttempts},
		RetryDelay:         s.RetryDelay,
		MaxSessionFailures: s.MaxSessionFailures,
		ReuseSessions:      s.ReuseSessions,
		MaxJobs:            *maxJobs,
		Quarantine:         qlog,
		Executor:           executor,
		Sessions:           sessions,
		Log:                log,
	}

	var dash *runDashboard
	if mode == progressDashboard {
		dash = startRunDashboard(runID, s.Concurrency)
		opts.OnEvent = dash.Send
	}
	res, runErr := batch.Run(ctx, jobs, opts)
	if dash != nil {
		dash.Stop()
	}
	log.Info("session pool drained", "peak_live", sessions.Peak(), "live", sessions.Live())

	if *jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
		return runErr
	}
	printRunSummary(res)
	if runErr != nil {
		return runErr
	}
	if res.Interrupted {
		return errors.New("run interrupted; rerun to resume")
	}
	return nil
}

// newRunID sorts by start time; the suffix keeps two runs in the same
// second apart.
func newRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

func resolveProgressMode(v string, jsonOut bool) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", progressAuto:
		if !jsonOut && stderrIsTTY() {
			return progressDashboard, nil
		}
		return progressLog, nil
	case progressDashboard:
		if jsonOut {
			return "", errors.New("--progress dashboard cannot be combined with --json")
		}
		return progressDashboard, nil
	case progressLog:
		return progressLog, nil
	default:
		return "", fmt.Errorf("invalid --progress %q (expected auto|dashboard|log)", v)
	}
}

func printRunSummary(res batch.RunResult) {
	fmt.Printf("run_id: %s\n", res.RunID)
	fmt.Printf("dispatched: %d\n", res.Dispatched)
	fmt.Printf("succeeded: %d\n", res.Succeeded)
	fmt.Printf("quarantined: %d\n", res.Quarantined)
	fmt.Printf("remaining: %d\n", res.Remaining)
	fmt.Printf("attempts: %d (retried %d)\n", res.Attempts, res.Retried)
	fmt.Printf("max_in_flight: %d\n", res.MaxInFlight)
	if res.ManifestPath != "" {
		fmt.Printf("manifest: %s\n", res.ManifestPath)
	}
	if res.Quarantined > 0 && res.QuarantinePath != "" {
		fmt.Printf("quarantine_log: %s\n", res.QuarantinePath)
	}
	if res.Interrupted {
		fmt.Println("status: interrupted")
	}
}
