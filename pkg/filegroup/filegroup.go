// Package filegroup enumerates FITS files on disk and slices them by
// header keyword, the first step of every reduction run.
package filegroup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mkendrick/ccdred/pkg/framedata"
)

// A Group is an ordered set of FITS file paths plus a cached header
// index. Filtering returns new subsets; a Group is never mutated after
// construction.
type Group struct {
	paths   []string
	headers map[string]*framedata.Header
}

// New builds a Group from every file under dir whose extension (case
// insensitive) is in exts; exts defaults to .fits/.fit/.fts. Paths are
// sorted, so downstream combination is deterministic. Subdirectories
// are walked.
func New(dir string, exts ...string) (*Group, error) {
	if len(exts) == 0 {
		exts = []string{".fits", ".fit", ".fts"}
	}
	wanted := map[string]bool{}
	for _, e := range exts {
		wanted[strings.ToLower(e)] = true
	}

	paths := []string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if wanted[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	g := &Group{paths: paths, headers: map[string]*framedata.Header{}}
	for _, p := range paths {
		hdr, err := framedata.ReadHeaderFile(p)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", p, err)
		}
		g.headers[p] = hdr
	}
	return g, nil
}

// FromPaths builds a Group from explicit paths, reading each header.
func FromPaths(paths []string) (*Group, error) {
	g := &Group{paths: append([]string(nil), paths...), headers: map[string]*framedata.Header{}}
	for _, p := range g.paths {
		hdr, err := framedata.ReadHeaderFile(p)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", p, err)
		}
		g.headers[p] = hdr
	}
	return g, nil
}

func (g *Group) Len() int { return len(g.paths) }

// Paths returns the ordered file list.
func (g *Group) Paths() []string {
	return append([]string(nil), g.paths...)
}

// Header returns the cached header for one of the group's paths.
func (g *Group) Header(path string) (*framedata.Header, bool) {
	h, ok := g.headers[path]
	return h, ok
}

// Filtered returns the subset whose headers match every key/value in
// want. A file lacking one of the keys fails the whole operation with
// the missing-keyword error; use FilteredSkipMissing for the lenient
// policy.
func (g *Group) Filtered(want map[string]interface{}) (*Group, error) {
	return g.filtered(want, true)
}

// FilteredSkipMissing is Filtered, except files lacking a filter key
// are silently dropped from the result.
func (g *Group) FilteredSkipMissing(want map[string]interface{}) *Group {
	sub, _ := g.filtered(want, false)
	return sub
}

func (g *Group) filtered(want map[string]interface{}, strict bool) (*Group, error) {
	// Deterministic key order, so strict-mode errors are stable.
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sub := &Group{headers: map[string]*framedata.Header{}}
	for _, p := range g.paths {
		hdr := g.headers[p]
		match := true
		for _, k := range keys {
			have, exists := hdr.Get(k)
			if !exists {
				if strict {
					return nil, fmt.Errorf("%s: filter key %q: %w", p, k, framedata.ErrMissingKeyword)
				}
				match = false
				break
			}
			if !framedata.ValueEqual(have, want[k]) {
				match = false
				break
			}
		}
		if match {
			sub.paths = append(sub.paths, p)
			sub.headers[p] = hdr
		}
	}
	return sub, nil
}

// Frames loads each file in turn and hands it to fn, one frame
// resident at a time. fn returning an error stops the iteration.
func (g *Group) Frames(fn func(path string, frame *framedata.FrameData) error) error {
	for _, p := range g.paths {
		frame, err := framedata.ReadFile(p)
		if err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
		if err := fn(p, frame); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll reads every frame into memory. Convenient for small groups;
// big stacks should use Frames plus a framedata.Cache.
func (g *Group) LoadAll() ([]*framedata.FrameData, error) {
	frames := make([]*framedata.FrameData, 0, len(g.paths))
	err := g.Frames(func(_ string, f *framedata.FrameData) error {
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frames, nil
}

// Values collects the given keyword across the group, one entry per
// file, nil where absent.
func (g *Group) Values(key string) []interface{} {
	vals := make([]interface{}, len(g.paths))
	for i, p := range g.paths {
		if v, ok := g.headers[p].Get(key); ok {
			vals[i] = v
		}
	}
	return vals
}

// Summary formats a small table of the given keywords, one row per
// file, for logging.
func (g *Group) Summary(keys ...string) string {
	var b strings.Builder
	for _, p := range g.paths {
		fmt.Fprintf(&b, "%-30s", filepath.Base(p))
		for _, k := range keys {
			if v, ok := g.headers[p].Get(k); ok {
				fmt.Fprintf(&b, " %s=%v", k, v)
			} else {
				fmt.Fprintf(&b, " %s=-", k)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
