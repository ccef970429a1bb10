package runstore

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMaterializeFileLeavesNoTempFiles(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "downloads", "train_chunk_1.xlsx")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("translated"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(tmp, "out", "train", "train_chunk_1.xlsx")
	n, err := MaterializeFile(src, dst)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if n != int64(len("translated")) {
		t.Fatalf("unexpected byte count %d", n)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "translated" {
		t.Fatalf("unexpected content %q", data)
	}

	entries, err := os.ReadDir(filepath.Dir(dst))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if IsTempName(e.Name()) {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestMaterializeFileMissingSourceKeepsDestinationAbsent(t *testing.T) {
	tmp := t.TempDir()
	dst := filepath.Join(tmp, "out", "a.xlsx")
	if _, err := MaterializeFile(filepath.Join(tmp, "missing.xlsx"), dst); err == nil {
		t.Fatalf("expected error for missing source")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("destination should not exist, stat err=%v", err)
	}
}

// slowReader hands out data in small pieces with a pause before each one.
type slowReader struct {
	data  []byte
	step  int
	pause time.Duration
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	time.Sleep(r.pause)
	n := min(len(p), r.step, len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestMaterializeNeverExposesPartialOutput(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out", "train_chunk_1.xlsx")
	first := bytes.Repeat([]byte("a"), 256*1024)
	second := bytes.Repeat([]byte("b"), 320*1024)

	var (
		stop     atomic.Bool
		wg       sync.WaitGroup
		seen     atomic.Int64
		mu       sync.Mutex
		problems []string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			data, err := os.ReadFile(dst)
			switch {
			case errors.Is(err, os.ErrNotExist):
			case err != nil:
				mu.Lock()
				problems = append(problems, err.Error())
				mu.Unlock()
			case bytes.Equal(data, first) || bytes.Equal(data, second):
				seen.Add(1)
			default:
				mu.Lock()
				problems = append(problems, "partial read of "+strconv.Itoa(len(data))+" bytes")
				mu.Unlock()
			}
		}
	}()

	for _, content := range [][]byte{first, second} {
		n, err := Materialize(&slowReader{data: content, step: 8 * 1024, pause: time.Millisecond}, dst)
		if err != nil {
			t.Fatalf("materialize: %v", err)
		}
		if n != int64(len(content)) {
			t.Fatalf("unexpected byte count %d", n)
		}
	}
	// let the reader observe the final file at least once
	deadline := time.Now().Add(2 * time.Second)
	for seen.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stop.Store(true)
	wg.Wait()

	if len(problems) > 0 {
		t.Fatalf("reader saw incomplete output: %v", problems)
	}
	if seen.Load() == 0 {
		t.Fatalf("reader never observed the output")
	}
	data, err := os.ReadFile(dst)
	if err != nil || !bytes.Equal(data, second) {
		t.Fatalf("final content should be the second write, err=%v len=%d", err, len(data))
	}
}

func TestHasArtifact(t *testing.T) {
	tmp := t.TempDir()
	empty := filepath.Join(tmp, "empty.xlsx")
	full := filepath.Join(tmp, "full.xlsx")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if HasArtifact(empty) {
		t.Fatalf("zero-size file must not count as an artifact")
	}
	if !HasArtifact(full) {
		t.Fatalf("expected non-empty file to count as an artifact")
	}
	if HasArtifact(tmp) {
		t.Fatalf("directory must not count as an artifact")
	}
	if HasArtifact(filepath.Join(tmp, "nope.xlsx")) {
		t.Fatalf("missing file must not count as an artifact")
	}
}

func TestLatestRunDir(t *testing.T) {
	runsDir := t.TempDir()
	for _, id := range []string{"20260101T000000Z-aaaa", "20260301T000000Z-bbbb", "20260201T000000Z-cccc"} {
		if err := Mkdir(filepath.Join(runsDir, id)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := LatestRunDir(runsDir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "20260301T000000Z-bbbb" {
		t.Fatalf("unexpected latest run dir %s", got)
	}

	if _, err := LatestRunDir(filepath.Join(runsDir, "missing")); err == nil {
		t.Fatalf("expected error when no runs exist")
	}
}
