package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "translation-gt.yaml"

	DefaultServiceURL = "https://translate.google.com/?sl={source}&tl={target}&op=docs"
)

const defaultConfigYAML = `# translation-gt configuration
# Values set here are overridden by command-line flags.

# Language the documents are translated into (required).
target_lang: ""
source_lang: auto

# Parallel browser sessions; every in-flight job owns one.
concurrency: 4

# Attempts per job before it is quarantined.
max_attempts: 5

# How long the driver may take to answer one translate request.
submit_timeout: 120s

# How long to wait for the translated file to land, and how often to look.
wait_timeout: 60s
poll_interval: 1s

# Browser session startup.
init_timeout: 30s
init_attempts: 3
init_backoff: 5s

# Pause before a failed job is handed out again.
retry_delay: 2s

# Consecutive session startup failures across the pool that abort the run.
max_session_failures: 5

# Keep a healthy session for the worker's next job instead of relaunching.
reuse_sessions: false

work_root: chunks
output_root: translated
input_ext: .xlsx

# Browser driver helper. It must speak the translation-gt line protocol.
driver: gt-driver
driver_args: []
service_url: "https://translate.google.com/?sl={source}&tl={target}&op=docs"
headless: true

# dev (console) or prod (JSON)
log_mode: dev
`

// Settings is the resolved runtime configuration.
type Settings struct {
	TargetLang         string        `yaml:"target_lang"`
	SourceLang         string        `yaml:"source_lang"`
	Concurrency        int           `yaml:"concurrency"`
	MaxAttempts        int           `yaml:"max_attempts"`
	SubmitTimeout      time.Duration `yaml:"submit_timeout"`
	WaitTimeout        time.Duration `yaml:"wait_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	InitTimeout        time.Duration `yaml:"init_timeout"`
	InitAttempts       int           `yaml:"init_attempts"`
	InitBackoff        time.Duration `yaml:"init_backoff"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	MaxSessionFailures int           `yaml:"max_session_failures"`
	ReuseSessions      bool          `yaml:"reuse_sessions"`
	WorkRoot           string        `yaml:"work_root"`
	OutputRoot         string        `yaml:"output_root"`
	InputExt           string        `yaml:"input_ext"`
	Driver             string        `yaml:"driver"`
	DriverArgs         []string      `yaml:"driver_args"`
	ServiceURL         string        `yaml:"service_url"`
	Headless           bool          `yaml:"headless"`
	LogMode            string        `yaml:"log_mode"`
}

func Default() Settings {
	return Settings{
		SourceLang:         "auto",
		Concurrency:        4,
		MaxAttempts:        5,
		SubmitTimeout:      120 * time.Second,
		WaitTimeout:        60 * time.Second,
		PollInterval:       time.Second,
		InitTimeout:        30 * time.Second,
		InitAttempts:       3,
		InitBackoff:        5 * time.Second,
		RetryDelay:         2 * time.Second,
		MaxSessionFailures: 5,
		WorkRoot:           "chunks",
		OutputRoot:         "translated",
		InputExt:           ".xlsx",
		Driver:             "gt-driver",
		DriverArgs:         []string{},
		ServiceURL:         DefaultServiceURL,
		Headless:           true,
		LogMode:            "dev",
	}
}

// Load reads path over the defaults. A missing file yields the defaults and
// found=false.
func Load(path string) (Settings, bool, error) {
	s := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return s, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, false, nil
		}
		return Settings{}, false, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	s.Normalize()
	return s, true, nil
}

// WriteDefault creates a commented default config at path. An existing file
// is left untouched unless force is set.
func WriteDefault(path string, force bool) (bool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create config directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return false, fmt.Errorf("write config %s: %w", path, err)
	}
	return true, nil
}

// Marshal renders s as YAML.
func (s Settings) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// Normalize fills blank fields with defaults and tidies user input.
func (s *Settings) Normalize() {
	def := Default()
	s.TargetLang = strings.TrimSpace(s.TargetLang)
	s.SourceLang = firstNonEmpty(s.SourceLang, def.SourceLang)
	s.WorkRoot = firstNonEmpty(s.WorkRoot, def.WorkRoot)
	s.OutputRoot = firstNonEmpty(s.OutputRoot, def.OutputRoot)
	s.Driver = firstNonEmpty(s.Driver, def.Driver)
	s.ServiceURL = firstNonEmpty(s.ServiceURL, def.ServiceURL)
	s.LogMode = strings.ToLower(firstNonEmpty(s.LogMode, def.LogMode))
	s.InputExt = firstNonEmpty(s.InputExt, def.InputExt)
	if !strings.HasPrefix(s.InputExt, ".") {
		s.InputExt = "." + s.InputExt
	}
	if s.DriverArgs == nil {
		s.DriverArgs = []string{}
	}
}

func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.TargetLang) == "" {
		errs = append(errs, errors.New("target_lang is required"))
	}
	if s.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", s.Concurrency))
	}
	if s.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max_attempts must be positive, got %d", s.MaxAttempts))
	}
	if s.InitAttempts <= 0 {
		errs = append(errs, fmt.Errorf("init_attempts must be positive, got %d", s.InitAttempts))
	}
	if s.MaxSessionFailures <= 0 {
		errs = append(errs, fmt.Errorf("max_session_failures must be positive, got %d", s.MaxSessionFailures))
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"submit_timeout", s.SubmitTimeout},
		{"wait_timeout", s.WaitTimeout},
		{"poll_interval", s.PollInterval},
		{"init_timeout", s.InitTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.d))
		}
	}
	if s.RetryDelay < 0 || s.InitBackoff < 0 {
		errs = append(errs, errors.New("retry_delay and init_backoff must not be negative"))
	}
	if s.PollInterval > 0 && s.WaitTimeout > 0 && s.PollInterval > s.WaitTimeout {
		errs = append(errs, fmt.Errorf("poll_interval %s exceeds wait_timeout %s", s.PollInterval, s.WaitTimeout))
	}
	if filepath.Clean(s.WorkRoot) == filepath.Clean(s.OutputRoot) {
		errs = append(errs, fmt.Errorf("work_root and output_root must differ (%s)", s.WorkRoot))
	}
	switch s.LogMode {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Errorf("log_mode must be dev or prod, got %q", s.LogMode))
	}
	return errors.Join(errs...)
}

// ResolvedServiceURL fills the language placeholders of ServiceURL.
func (s Settings) ResolvedServiceURL() string {
	return strings.NewReplacer(
		"{source}", firstNonEmpty(s.SourceLang, "auto"),
		"{target}", s.TargetLang,
	).Replace(s.ServiceURL)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
