package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "translation-gt.log")
	log, err := New(Options{Mode: "prod", FilePath: path, Quiet: true})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.With("run_id", "r1").Info("job succeeded", "job_id", "train/train_chunk_1.xlsx")
	log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, `"job_id":"train/train_chunk_1.xlsx"`) || !strings.Contains(text, `"run_id":"r1"`) {
		t.Fatalf("expected structured fields in log, got %s", text)
	}
}

func TestQuietWithoutFileIsNop(t *testing.T) {
	log, err := New(Options{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("dropped")
}
