package model

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

var chunkNamePattern = regexp.MustCompile(`^(.+)_chunk_(\d+)(\.[^.]+)?$`)

// ParseChunkName splits "<base>_chunk_<n>.<ext>" into base and index.
// Names without a chunk suffix are treated as a single chunk with index 0.
func ParseChunkName(name string) (string, int, bool) {
	m := chunkNamePattern.FindStringSubmatch(name)
	if len(m) < 3 {
		return strings.TrimSuffix(name, path.Ext(name)), 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return strings.TrimSuffix(name, path.Ext(name)), 0, false
	}
	return m[1], n, true
}

// NewJob derives a pending job from the slash path relative to the work root.
func NewJob(id, inputPath, outputPath string) Job {
	group := ""
	if i := strings.Index(id, "/"); i >= 0 {
		group = id[:i]
	}
	base, idx, _ := ParseChunkName(path.Base(id))
	return Job{
		ID:         id,
		Group:      group,
		Base:       base,
		ChunkIndex: idx,
		InputPath:  inputPath,
		OutputPath: outputPath,
		Status:     StatusPending,
	}
}

// CompareJobs orders jobs in merge order: group, base, then chunk index.
func CompareJobs(a, b Job) int {
	if c := strings.Compare(a.Group, b.Group); c != 0 {
		return c
	}
	if c := strings.Compare(a.Base, b.Base); c != 0 {
		return c
	}
	if a.ChunkIndex != b.ChunkIndex {
		if a.ChunkIndex < b.ChunkIndex {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}
