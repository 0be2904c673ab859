package scan

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo is a filesystem entry emitted by the walker.
type FileInfo struct {
	Path  string
	Size  int64
	MTime time.Time
}

// walkRules bundles the exclusion configuration. Name and extension
// matching is case-insensitive; path prefixes match whole components.
type walkRules struct {
	prefixes []string
	names    map[string]struct{}
	exts     map[string]struct{}
}

func newWalkRules(excludePaths, excludeNames, excludeExts []string) walkRules {
	r := walkRules{
		names: make(map[string]struct{}, len(excludeNames)),
		exts:  make(map[string]struct{}, len(excludeExts)),
	}
	for _, p := range excludePaths {
		if abs, err := filepath.Abs(p); err == nil {
			r.prefixes = append(r.prefixes, abs)
		}
	}
	for _, n := range excludeNames {
		r.names[strings.ToLower(n)] = struct{}{}
	}
	for _, e := range excludeExts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		r.exts[e] = struct{}{}
	}
	return r
}

// underPath reports whether path is p itself or lies inside it.
func underPath(path, p string) bool {
	if path == p {
		return true
	}
	return strings.HasPrefix(path, p+string(filepath.Separator))
}

func (r walkRules) excluded(path, name string, isDir bool) bool {
	if _, ok := r.names[strings.ToLower(name)]; ok {
		return true
	}
	if !isDir {
		if _, ok := r.exts[strings.ToLower(filepath.Ext(name))]; ok {
			return true
		}
	}
	for _, p := range r.prefixes {
		if underPath(path, p) {
			return true
		}
	}
	return false
}

// walk traverses root sequentially and calls fn for every regular file
// that passes the rules. Directory read errors are reported and the
// walk continues past them; symlinks are not followed. root may name a
// single file. Stops early when ctx is cancelled or fn returns an
// error.
func walk(ctx context.Context, root string, rules walkRules, report ErrorReporter, fn func(FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			report(path, "walk", err.Error())
			return nil
		}
		if d.IsDir() {
			if path != root && rules.excluded(path, d.Name(), true) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if rules.excluded(path, d.Name(), false) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			report(path, "walk", err.Error())
			return nil
		}
		return fn(FileInfo{Path: path, Size: info.Size(), MTime: info.ModTime()})
	})
}
