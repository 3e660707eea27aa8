// Package scanner walks backup source paths to discover the files a backup
// will include: no symlink following, no socket/FIFO/device entries, max
// depth 100.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	skerrors "github.com/nullmedev/skylock/internal/errors"
)

// MaxDepth bounds recursion below each source path.
const MaxDepth = 100

// Entry describes one regular file discovered during a scan.
type Entry struct {
	Path    string // absolute path on disk
	Size    int64
	ModTime int64 // unix seconds, avoids importing time into hot loop callers
}

// ExcludeFunc reports whether path should be skipped (e.g. a glob-pattern
// ignore list from backup configuration). A nil ExcludeFunc excludes nothing.
type ExcludeFunc func(path string) bool

// Walk streams every eligible regular file under each of sourcePaths to out,
// in scanner order, keeping the manifest deterministic across concurrency
// levels. It does not
// follow symlinks, skips special files, and stops descending past MaxDepth.
// Walk closes out when finished or when ctx is cancelled.
func Walk(ctx context.Context, sourcePaths []string, exclude ExcludeFunc, out chan<- Entry) error {
	defer close(out)

	for _, root := range sourcePaths {
		root = filepath.Clean(root)
		if err := walkOne(ctx, root, exclude, out); err != nil {
			return err
		}
	}
	return nil
}

func walkOne(ctx context.Context, root string, exclude ExcludeFunc, out chan<- Entry) error {
	info, err := os.Lstat(root)
	if err != nil {
		return skerrors.NewFileError("stat", root, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return skerrors.NewFileError("walk", path, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if exclude != nil && exclude(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if depth(root, path) > MaxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			// Sockets, FIFOs, devices, and other special files.
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return skerrors.NewFileError("stat", path, err)
		}

		select {
		case out <- Entry{Path: path, Size: fi.Size(), ModTime: fi.ModTime().Unix()}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

// depth counts path separators between root and path.
func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
