// Package mover consolidates duplicate files: it plans move tasks from
// duplicate groups or a dupeguru CSV export and executes them with
// copy-verify-delete semantics.
package mover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harishkarthiktk/dupFinder/internal/dupes"
	"github.com/harishkarthiktk/dupFinder/internal/hash"
)

// KeepPolicy selects which member of a duplicate group stays in place.
type KeepPolicy int

const (
	// KeepShortestPath keeps the member with the shortest absolute path,
	// ties broken lexicographically.
	KeepShortestPath KeepPolicy = iota
	// KeepLongestPath keeps the member with the longest absolute path.
	KeepLongestPath
)

// ParseKeepPolicy maps a flag value to a KeepPolicy. An empty string
// selects the default.
func ParseKeepPolicy(s string) (KeepPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shortest":
		return KeepShortestPath, nil
	case "longest":
		return KeepLongestPath, nil
	default:
		return 0, fmt.Errorf("unknown keep policy %q (want shortest or longest)", s)
	}
}

// Task is one planned move.
type Task struct {
	Group  string // label for logs: group hash or CSV group id
	Source string
	Dest   string
}

// Options control Execute.
type Options struct {
	// Workers bounds move concurrency. Zero or negative selects
	// min(NumCPU, number of tasks).
	Workers int
	// DryRun logs the plan without touching the filesystem.
	DryRun bool
	// Hasher compares sources against already-present destination
	// files. Nil selects sha256.
	Hasher *hash.Hasher
}

// Result aggregates the outcome of an Execute run.
type Result struct {
	Planned     int64 `json:"planned"`
	Moved       int64 `json:"moved"`
	Deduped     int64 `json:"deduped"`
	Conflicts   int64 `json:"conflicts"`
	Skipped     int64 `json:"skipped"`
	Errors      int64 `json:"errors"`
	BytesMoved  int64 `json:"bytes_moved"`
	CleanedDirs int64 `json:"cleaned_dirs"`
}

// PlanFromGroups turns duplicate groups into move tasks: one member of
// each group stays where it is, the rest go under destDir with their
// original tree preserved (minus the volume and root separator).
func PlanFromGroups(groups []dupes.Group, keep KeepPolicy, destDir string) []Task {
	var tasks []Task
	for _, g := range groups {
		if len(g.Paths) < 2 {
			continue
		}
		members := append([]string(nil), g.Paths...)
		sort.Slice(members, func(i, j int) bool {
			li, lj := len(members[i]), len(members[j])
			if li != lj {
				if keep == KeepLongestPath {
					return li > lj
				}
				return li < lj
			}
			return members[i] < members[j]
		})
		for _, src := range members[1:] {
			tasks = append(tasks, Task{
				Group:  g.Hash,
				Source: src,
				Dest:   filepath.Join(destDir, relativeTree(src)),
			})
		}
	}
	return tasks
}

// relativeTree strips the volume name and leading separator so a path
// can be re-rooted under another directory.
func relativeTree(p string) string {
	p = p[len(filepath.VolumeName(p)):]
	return strings.TrimPrefix(p, string(filepath.Separator))
}

// Execute runs the plan with bounded concurrency. Per-task failures are
// logged and counted, never fatal to the batch; the returned error is
// only ever the context's.
func Execute(ctx context.Context, tasks []Task, opts Options) (Result, error) {
	if opts.DryRun {
		for _, t := range tasks {
			slog.Info("dry run: would move", "group", t.Group, "source", t.Source, "dest", t.Dest)
		}
		return Result{Planned: int64(len(tasks))}, nil
	}

	hasher := opts.Hasher
	if hasher == nil {
		h, err := hash.New(hash.SHA256, 0)
		if err != nil {
			return Result{}, err
		}
		hasher = h
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, max(len(tasks), 1))

	e := &executor{hasher: hasher, vacated: make(map[string]struct{})}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, t := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e.moveOne(t)
			return nil
		})
	}
	err := g.Wait()

	e.cleanupDirs()

	return Result{
		Planned:     int64(len(tasks)),
		Moved:       e.moved.Load(),
		Deduped:     e.deduped.Load(),
		Conflicts:   e.conflicts.Load(),
		Skipped:     e.skipped.Load(),
		Errors:      e.errs.Load(),
		BytesMoved:  e.bytesMoved.Load(),
		CleanedDirs: e.cleaned.Load(),
	}, err
}

type executor struct {
	hasher *hash.Hasher

	mu      sync.Mutex
	vacated map[string]struct{}

	moved      atomic.Int64
	deduped    atomic.Int64
	conflicts  atomic.Int64
	skipped    atomic.Int64
	errs       atomic.Int64
	bytesMoved atomic.Int64
	cleaned    atomic.Int64
}

func (e *executor) moveOne(t Task) {
	info, err := os.Stat(t.Source)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("source not found", "group", t.Group, "path", t.Source)
		e.skipped.Add(1)
		return
	}
	if err != nil {
		slog.Error("stat source", "group", t.Group, "path", t.Source, "error", err)
		e.errs.Add(1)
		return
	}

	dest := t.Dest
	if _, statErr := os.Stat(dest); statErr == nil {
		same, cmpErr := e.sameContent(t.Source, dest)
		if cmpErr != nil {
			slog.Error("compare with destination", "group", t.Group, "dest", dest, "error", cmpErr)
			e.errs.Add(1)
			return
		}
		if same {
			if rmErr := os.Remove(t.Source); rmErr != nil {
				slog.Error("remove consolidated source", "group", t.Group, "path", t.Source, "error", rmErr)
				e.errs.Add(1)
				return
			}
			slog.Info("identical file already at destination, source removed",
				"group", t.Group, "path", t.Source)
			e.deduped.Add(1)
			e.markVacated(t.Source)
			return
		}
		ext := filepath.Ext(dest)
		dest = strings.TrimSuffix(dest, ext) + "_conflict" + ext
		slog.Warn("destination content differs, renaming",
			"group", t.Group, "source", t.Source, "dest", dest)
		e.conflicts.Add(1)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		slog.Error("create destination dir", "group", t.Group, "dest", dest, "error", err)
		e.errs.Add(1)
		return
	}
	if err := copyVerified(t.Source, dest, info); err != nil {
		slog.Error("move failed", "group", t.Group, "source", t.Source, "dest", dest, "error", err)
		e.errs.Add(1)
		return
	}
	if err := os.Remove(t.Source); err != nil {
		slog.Error("remove source after copy", "group", t.Group, "path", t.Source, "error", err)
		e.errs.Add(1)
		return
	}

	slog.Info("moved", "group", t.Group, "source", t.Source, "dest", dest)
	e.moved.Add(1)
	e.bytesMoved.Add(info.Size())
	e.markVacated(t.Source)
}

func (e *executor) sameContent(a, b string) (bool, error) {
	ha, err := e.hasher.Full(a)
	if err != nil {
		return false, err
	}
	hb, err := e.hasher.Full(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func (e *executor) markVacated(src string) {
	e.mu.Lock()
	e.vacated[filepath.Dir(src)] = struct{}{}
	e.mu.Unlock()
}

// cleanupDirs removes now-empty source directories, deepest paths
// first. Directories that still hold files simply fail the Remove and
// stay.
func (e *executor) cleanupDirs() {
	dirs := make([]string, 0, len(e.vacated))
	for d := range e.vacated {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		if err := os.Remove(d); err == nil {
			slog.Info("removed empty directory", "path", d)
			e.cleaned.Add(1)
		}
	}
}

// copyVerified copies src into place through a hidden temp name in the
// destination directory: write, size check, fsync, rename. The temp
// file is removed on any failure, and the destination keeps the
// source's permissions and mtime.
func copyVerified(src, dest string, srcInfo os.FileInfo) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(dest), "."+uuid.NewString()+".tmp")
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	written, err := io.Copy(out, in)
	if err != nil {
		return err
	}
	if written != srcInfo.Size() {
		return fmt.Errorf("short copy: wrote %d of %d bytes", written, srcInfo.Size())
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	if err = os.Chtimes(tmp, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
