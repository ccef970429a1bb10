package cli

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"translation-gt/internal/config"
	"translation-gt/internal/model"
	"translation-gt/internal/runstore"
)

const fakeDriverScript = `#!/usr/bin/env bash
set -u
dir=""
while [ $# -gt 0 ]; do
  case "$1" in
    --download-dir) dir="$2"; shift 2 ;;
    *) shift ;;
  esac
done
echo ready
while IFS=$'\t' read -r cmd path; do
  [ "$cmd" = "translate" ] || continue
  name=$(basename "$path")
  case "$name" in
    *fail*) echo "error transient translate button missing" ;;
    *) cp "$path" "$dir/$name"; echo ok ;;
  esac
done
`

type harness struct {
	dir    string
	driver string
	work   string
	out    string
	config string
}

func newHarness(t *testing.T, inputs ...string) harness {
	t.Helper()
	tmp := t.TempDir()
	h := harness{
		dir:    tmp,
		driver: filepath.Join(tmp, "bin", "gt-driver"),
		work:   filepath.Join(tmp, "chunks"),
		out:    filepath.Join(tmp, "translated"),
		config: filepath.Join(tmp, "translation-gt.yaml"),
	}
	if err := os.MkdirAll(filepath.Dir(h.driver), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(h.driver, []byte(fakeDriverScript), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range inputs {
		path := filepath.Join(h.work, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("cells of "+name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return h
}

func (h harness) args(cmd string, extra ...string) []string {
	args := []string{cmd,
		"--config", h.config,
		"--work-root", h.work,
		"--output-root", h.out,
		"--driver", h.driver,
	}
	return append(args, extra...)
}

func (h harness) runArgs() []string {
	return h.args("run",
		"--target-lang", "kk",
		"--workers", "2",
		"--max-attempts", "2",
		"--retry-delay", "0s",
		"--poll-interval", "20ms",
		"--timeout", "5s",
		"--init-timeout", "5s",
		"--progress", "log",
		"--log-mode", "prod",
	)
}

func TestHarnessRunTranslatesAndQuarantines(t *testing.T) {
	h := newHarness(t,
		"report_chunk_1.xlsx",
		"report_chunk_2.xlsx",
		"q3/broken_fail_chunk_1.xlsx",
	)

	if err := Run(h.runArgs()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	for _, id := range []string{"report_chunk_1.xlsx", "report_chunk_2.xlsx"} {
		data, err := os.ReadFile(filepath.Join(h.out, id))
		if err != nil {
			t.Fatalf("expected output for %s: %v", id, err)
		}
		if string(data) != "cells of "+id {
			t.Fatalf("unexpected output content for %s: %q", id, data)
		}
	}
	if _, err := os.Stat(filepath.Join(h.out, "q3", "broken_fail_chunk_1.xlsx")); !os.IsNotExist(err) {
		t.Fatalf("quarantined job must not produce output, stat err=%v", err)
	}

	stateDir := runstore.StateDir(h.out)
	ids, err := runstore.QuarantinedIDs(runstore.QuarantinePath(stateDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || !ids["q3/broken_fail_chunk_1.xlsx"] {
		t.Fatalf("unexpected quarantine set: %v", ids)
	}
	if runstore.IsLocked(stateDir) {
		t.Fatalf("run lock must be released after the run")
	}

	dirs, err := runstore.ListRunDirs(runstore.RunsDir(stateDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 {
		t.Fatalf("expected one run dir, got %d", len(dirs))
	}
	var mf model.RunManifest
	if err := runstore.ReadJSON(runstore.ManifestPath(dirs[0]), &mf); err != nil {
		t.Fatal(err)
	}
	if !mf.Finished || mf.Total != 3 || mf.Succeeded != 2 || mf.Quarantined != 1 {
		t.Fatalf("unexpected manifest: finished=%t total=%d succeeded=%d quarantined=%d", mf.Finished, mf.Total, mf.Succeeded, mf.Quarantined)
	}
	for _, j := range mf.Jobs {
		if j.Status == model.StatusQuarantined && j.Attempts != 2 {
			t.Fatalf("quarantined job should have used all attempts, got %d", j.Attempts)
		}
	}

	// second pass finds nothing left to do
	if err := Run(h.runArgs()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	after, err := runstore.ListRunDirs(runstore.RunsDir(stateDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 {
		t.Fatalf("expected two run dirs, got %d", len(after))
	}
	second := after[0]
	if slices.Contains(dirs, second) {
		second = after[1]
	}
	var mf2 model.RunManifest
	if err := runstore.ReadJSON(runstore.ManifestPath(second), &mf2); err != nil {
		t.Fatal(err)
	}
	if mf2.Total != 0 {
		t.Fatalf("second run should dispatch nothing, got %d jobs", mf2.Total)
	}

	for _, cmd := range []string{"status", "quarantine", "discover"} {
		if err := Run(h.args(cmd, "--json")); err != nil {
			t.Fatalf("%s failed: %v", cmd, err)
		}
	}
}

func TestHarnessRetryQuarantinedReincludesJobs(t *testing.T) {
	h := newHarness(t, "memo_fail_chunk_1.xlsx")

	if err := Run(h.runArgs()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := Run(append(h.runArgs(), "--retry-quarantined")); err != nil {
		t.Fatalf("retry run failed: %v", err)
	}

	entries, err := runstore.ReadQuarantine(runstore.QuarantinePath(runstore.StateDir(h.out)))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected the job to be quarantined once per run, got %d entries", len(entries))
	}
}

func TestHarnessRunRejectsMissingTargetLang(t *testing.T) {
	h := newHarness(t, "a_chunk_1.xlsx")
	err := Run(h.args("run", "--progress", "log"))
	if err == nil {
		t.Fatalf("expected validation error without target language")
	}
	if _, statErr := os.Stat(runstore.StateDir(h.out)); !os.IsNotExist(statErr) {
		t.Fatalf("a rejected run must not create state, stat err=%v", statErr)
	}
}

func TestHarnessRunRefusesLockedOutputRoot(t *testing.T) {
	h := newHarness(t, "a_chunk_1.xlsx")
	lock, err := runstore.AcquireRunLock(runstore.StateDir(h.out), "other")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = lock.Release()
	}()

	if err := Run(h.runArgs()); err == nil {
		t.Fatalf("expected lock conflict")
	}
	if _, err := os.Stat(filepath.Join(h.out, "a_chunk_1.xlsx")); !os.IsNotExist(err) {
		t.Fatalf("locked run must not translate anything, stat err=%v", err)
	}
}

func TestHarnessInitWritesConfig(t *testing.T) {
	h := newHarness(t)
	if err := Run(h.args("init")); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	s, found, err := config.Load(h.config)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatalf("expected config file at %s", h.config)
	}
	if s.Concurrency != config.Default().Concurrency {
		t.Fatalf("unexpected concurrency in written config: %d", s.Concurrency)
	}
	for _, dir := range []string{h.work, h.out} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", dir, err)
		}
	}

	if err := Run(h.args("init")); err != nil {
		t.Fatalf("second init should keep the existing config: %v", err)
	}
	show := h.args("show")
	if err := Run(append([]string{"config"}, show...)); err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	// flags without a subcommand default to show
	if err := Run(append([]string{"config"}, show[1:]...)); err != nil {
		t.Fatalf("config with flags only failed: %v", err)
	}
	if err := Run([]string{"config", "dump"}); err == nil {
		t.Fatalf("expected unknown config subcommand error")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if err := Run([]string{"translate-everything"}); err == nil {
		t.Fatalf("expected unknown command error")
	}
}
