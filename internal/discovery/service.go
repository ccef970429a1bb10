package discovery

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"translation-gt/internal/model"
	"translation-gt/internal/runstore"
)

const DefaultInputExt = ".xlsx"

type Options struct {
	WorkRoot   string
	OutputRoot string
	Ext        string
	// Exclude holds job ids to leave out, e.g. quarantined ones.
	Exclude map[string]bool
}

// Discover returns the jobs under the work root whose output does not exist
// yet. The sequence walks the tree afresh on every range and never writes.
func Discover(opts Options) (iter.Seq2[model.Job, error], error) {
	sc, err := newScanner(opts)
	if err != nil {
		return nil, err
	}
	return func(yield func(model.Job, error) bool) {
		sc.walk(func(job model.Job, done bool, err error) bool {
			if err != nil {
				return yield(model.Job{}, err)
			}
			if done || opts.Exclude[job.ID] {
				return true
			}
			return yield(job, nil)
		})
	}, nil
}

// Pending collects Discover into a slice in merge order.
func Pending(opts Options) ([]model.Job, error) {
	seq, err := Discover(opts)
	if err != nil {
		return nil, err
	}
	jobs := make([]model.Job, 0)
	for job, err := range seq {
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Batches groups jobs by source document.
func Batches(jobs []model.Job) []model.WorkBatch {
	sorted := slices.Clone(jobs)
	slices.SortFunc(sorted, model.CompareJobs)

	batches := make([]model.WorkBatch, 0)
	for _, job := range sorted {
		n := len(batches)
		if n > 0 && batches[n-1].Group == job.Group && batches[n-1].Base == job.Base {
			batches[n-1].Jobs = append(batches[n-1].Jobs, job)
			continue
		}
		batches = append(batches, model.WorkBatch{Group: job.Group, Base: job.Base, Jobs: []model.Job{job}})
	}
	return batches
}

type scanner struct {
	root    string
	outRoot string
	outAbs  string
	ext     string
}

func newScanner(opts Options) (*scanner, error) {
	root := strings.TrimSpace(opts.WorkRoot)
	if root == "" {
		return nil, errors.New("work root is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("work root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("work root %s is not a directory", root)
	}
	outRoot := strings.TrimSpace(opts.OutputRoot)
	if outRoot == "" {
		return nil, errors.New("output root is required")
	}
	outAbs, err := filepath.Abs(outRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve output root %s: %w", outRoot, err)
	}
	ext := strings.ToLower(strings.TrimSpace(opts.Ext))
	if ext == "" {
		ext = DefaultInputExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &scanner{root: root, outRoot: outRoot, outAbs: outAbs, ext: ext}, nil
}

// walk visits every candidate input: files of a directory in chunk order,
// then its subdirectories by name. done reports whether the output exists.
func (s *scanner) walk(visit func(job model.Job, done bool, err error) bool) {
	s.walkDir(s.root, "", visit)
}

func (s *scanner) walkDir(dir, rel string, visit func(model.Job, bool, error) bool) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return visit(model.Job{}, false, fmt.Errorf("read directory %s: %w", dir, err))
	}

	files := make([]model.Job, 0, len(entries))
	subdirs := make([]string, 0)
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || runstore.IsTempName(name) {
			continue
		}
		if e.IsDir() {
			subdirs = append(subdirs, name)
			continue
		}
		if !e.Type().IsRegular() || strings.ToLower(filepath.Ext(name)) != s.ext {
			continue
		}
		id := path.Join(rel, name)
		files = append(files, model.NewJob(id, filepath.Join(dir, name), filepath.Join(s.outRoot, filepath.FromSlash(id))))
	}
	slices.SortFunc(files, model.CompareJobs)
	slices.Sort(subdirs)

	for _, job := range files {
		if !visit(job, runstore.HasArtifact(job.OutputPath), nil) {
			return false
		}
	}
	for _, name := range subdirs {
		full := filepath.Join(dir, name)
		if abs, err := filepath.Abs(full); err == nil && abs == s.outAbs {
			continue
		}
		if !s.walkDir(full, path.Join(rel, name), visit) {
			return false
		}
	}
	return true
}
