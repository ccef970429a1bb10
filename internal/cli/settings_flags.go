package cli

import (
	"flag"
	"strings"
	"time"

	"translation-gt/internal/config"
)

// pathFlags are accepted by every command that looks at the workspace.
type pathFlags struct {
	config     *string
	workRoot   *string
	outputRoot *string
	ext        *string
	driver     *string
}

// runFlags tune the batch run itself.
type runFlags struct {
	targetLang    *string
	sourceLang    *string
	workers       *int
	maxAttempts   *int
	timeout       *time.Duration
	submitTimeout *time.Duration
	pollInterval  *time.Duration
	initTimeout   *time.Duration
	retryDelay    *time.Duration
	reuseSessions *bool
	headless      *bool
	logMode       *string
}

func registerPathFlags(fs *flag.FlagSet) *pathFlags {
	return &pathFlags{
		config:     fs.String("config", config.DefaultPath, "config file path (missing file = defaults)"),
		workRoot:   fs.String("work-root", "", "directory holding the chunk files"),
		outputRoot: fs.String("output-root", "", "directory receiving translated files"),
		ext:        fs.String("ext", "", "input file extension"),
		driver:     fs.String("driver", "", "browser driver helper executable"),
	}
}

func registerRunFlags(fs *flag.FlagSet) *runFlags {
	return &runFlags{
		targetLang:    fs.String("target-lang", "", "target language code"),
		sourceLang:    fs.String("source-lang", "", "source language code (auto = detect)"),
		workers:       fs.Int("workers", 0, "parallel browser sessions"),
		maxAttempts:   fs.Int("max-attempts", 0, "attempts per job before quarantine"),
		timeout:       fs.Duration("timeout", 0, "wait for a translated file to land"),
		submitTimeout: fs.Duration("submit-timeout", 0, "wait for the driver to answer a request"),
		pollInterval:  fs.Duration("poll-interval", 0, "download directory poll interval"),
		initTimeout:   fs.Duration("init-timeout", 0, "wait for a browser session to become ready"),
		retryDelay:    fs.Duration("retry-delay", 0, "pause before a failed job runs again"),
		reuseSessions: fs.Bool("reuse-sessions", false, "keep a healthy session for the worker's next job"),
		headless:      fs.Bool("headless", true, "run the browser headless"),
		logMode:       fs.String("log-mode", "", "log format: dev|prod"),
	}
}

// resolveSettings layers explicitly set flags over the config file over
// built-in defaults. rf may be nil for commands without run tuning.
func resolveSettings(fs *flag.FlagSet, pf *pathFlags, rf *runFlags) (config.Settings, error) {
	s, _, err := config.Load(strings.TrimSpace(*pf.config))
	if err != nil {
		return config.Settings{}, err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	if set["work-root"] {
		s.WorkRoot = *pf.workRoot
	}
	if set["output-root"] {
		s.OutputRoot = *pf.outputRoot
	}
	if set["ext"] {
		s.InputExt = *pf.ext
	}
	if set["driver"] {
		s.Driver = *pf.driver
	}

	if rf != nil {
		if set["target-lang"] {
			s.TargetLang = *rf.targetLang
		}
		if set["source-lang"] {
			s.SourceLang = *rf.sourceLang
		}
		if set["workers"] {
			s.Concurrency = *rf.workers
		}
		if set["max-attempts"] {
			s.MaxAttempts = *rf.maxAttempts
		}
		if set["timeout"] {
			s.WaitTimeout = *rf.timeout
		}
		if set["submit-timeout"] {
			s.SubmitTimeout = *rf.submitTimeout
		}
		if set["poll-interval"] {
			s.PollInterval = *rf.pollInterval
		}
		if set["init-timeout"] {
			s.InitTimeout = *rf.initTimeout
		}
		if set["retry-delay"] {
			s.RetryDelay = *rf.retryDelay
		}
		if set["reuse-sessions"] {
			s.ReuseSessions = *rf.reuseSessions
		}
		if set["headless"] {
			s.Headless = *rf.headless
		}
		if set["log-mode"] {
			s.LogMode = *rf.logMode
		}
	}

	s.Normalize()
	return s, nil
}
