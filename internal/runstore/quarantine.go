package runstore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"translation-gt/internal/model"
)

// QuarantineLog is the append-only record of jobs that exhausted retries.
// Line format: <RFC3339>\t<job id>\tattempts=<n>\t<reason>
type QuarantineLog struct {
	path string
	mu   sync.Mutex
}

func OpenQuarantineLog(path string) (*QuarantineLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("quarantine log path is required")
	}
	if err := Mkdir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &QuarantineLog{path: path}, nil
}

func (q *QuarantineLog) Path() string {
	return q.path
}

// Append writes one line with a single write call on an O_APPEND handle.
func (q *QuarantineLog) Append(entry model.QuarantineEntry) error {
	if strings.TrimSpace(entry.At) == "" {
		entry.At = time.Now().UTC().Format(time.RFC3339)
	}
	line := fmt.Sprintf("%s\t%s\tattempts=%d\t%s\n", entry.At, oneLine(entry.JobID), entry.Attempts, oneLine(entry.Reason))

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open quarantine log %s: %w", q.path, err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append quarantine log %s: %w", q.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close quarantine log %s: %w", q.path, err)
	}
	return nil
}

// ReadQuarantine parses every entry in path. A missing file is an empty log;
// malformed lines are skipped.
func ReadQuarantine(path string) ([]model.QuarantineEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.QuarantineEntry{}, nil
		}
		return nil, fmt.Errorf("read quarantine log %s: %w", path, err)
	}
	defer f.Close()

	entries := make([]model.QuarantineEntry, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry, ok := parseQuarantineLine(scanner.Text())
		if ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan quarantine log %s: %w", path, err)
	}
	return entries, nil
}

// QuarantinedIDs returns the set of job ids present in the log at path.
func QuarantinedIDs(path string) (map[string]bool, error) {
	entries, err := ReadQuarantine(path)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(entries))
	for _, e := range entries {
		ids[e.JobID] = true
	}
	return ids, nil
}

func parseQuarantineLine(line string) (model.QuarantineEntry, bool) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), "\t", 4)
	if len(parts) < 3 || strings.TrimSpace(parts[1]) == "" {
		return model.QuarantineEntry{}, false
	}
	attempts, err := strconv.Atoi(strings.TrimPrefix(parts[2], "attempts="))
	if err != nil {
		return model.QuarantineEntry{}, false
	}
	entry := model.QuarantineEntry{
		At:       parts[0],
		JobID:    parts[1],
		Attempts: attempts,
	}
	if len(parts) == 4 {
		entry.Reason = parts[3]
	}
	return entry, true
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("\t", " ", "\r", " ", "\n", " ").Replace(s)
}
