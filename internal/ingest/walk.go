package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WalkError is an entry below the walk root that could not be read.
type WalkError struct {
	Path string
	Err  error
}

// Discover walks root and returns every supported document, skipping hidden
// files and directories. Paths are sorted for a stable processing order.
// Unreadable entries below root are reported in problems and skipped; only
// a failure to read root itself is returned as an error.
func (d *Documents) Discover(ctx context.Context, root string) (files []string, problems []WalkError, err error) {
	rel, problems, err := d.DiscoverFS(ctx, os.DirFS(root))
	if err != nil {
		return nil, nil, err
	}
	files = make([]string, len(rel))
	for i, p := range rel {
		files[i] = filepath.Join(root, filepath.FromSlash(p))
	}
	sort.Strings(files)
	for i := range problems {
		problems[i].Path = filepath.Join(root, filepath.FromSlash(problems[i].Path))
	}
	return files, problems, nil
}

// DiscoverFS is Discover over an fs.FS; returned paths are slash-separated
// and relative to the FS root.
func (d *Documents) DiscoverFS(ctx context.Context, fsys fs.FS) ([]string, []WalkError, error) {
	var (
		out      []string
		problems []WalkError
	)
	err := fs.WalkDir(fsys, ".", func(path string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == "." {
				return err
			}
			problems = append(problems, WalkError{Path: path, Err: err})
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path != "." && strings.HasPrefix(entry.Name(), ".") {
			if entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		if d.Supported(entry.Name()) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(out)
	return out, problems, nil
}
