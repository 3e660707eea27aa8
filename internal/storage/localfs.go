package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	skerrors "github.com/nullmedev/skylock/internal/errors"
)

// LocalFS is a reference Backend implementation rooted at a local directory.
// It exists for tests and single-machine use; production backends wrap
// provider SDKs behind the same interface.
type LocalFS struct {
	root string
}

// NewLocalFS creates a LocalFS backend rooted at root, creating it if needed.
func NewLocalFS(root string) (*LocalFS, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, skerrors.NewFileError("mkdir", root, err)
	}
	return &LocalFS{root: root}, nil
}

// resolve maps a remote_path to a local filesystem path, rejecting any
// attempt to escape root: a remote_path must never escape the backup's
// remote directory.
func (l *LocalFS) resolve(remotePath string) (string, error) {
	if strings.Contains(remotePath, "..") || filepath.IsAbs(remotePath) {
		return "", skerrors.NewPathError(remotePath, skerrors.ErrPathTraversal)
	}
	full := filepath.Join(l.root, remotePath)
	rel, err := filepath.Rel(l.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", skerrors.NewPathError(remotePath, skerrors.ErrPathTraversal)
	}
	return full, nil
}

func (l *LocalFS) Upload(ctx context.Context, remotePath string, r io.Reader, sizeHint int64, opts Options) (string, error) {
	full, err := l.resolve(remotePath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return "", skerrors.NewFileError("mkdir", filepath.Dir(full), err)
	}

	tmp := full + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", skerrors.NewFileError("create", tmp, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", skerrors.NewFileError("write", tmp, err)
	}
	if err := f.Close(); err != nil {
		return "", skerrors.NewFileError("close", tmp, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return "", skerrors.NewFileError("rename", full, err)
	}
	return "", nil
}

func (l *LocalFS) Download(ctx context.Context, remotePath string, w io.Writer, opts Options) error {
	full, err := l.resolve(remotePath)
	if err != nil {
		return err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return skerrors.NewFileError("open", full, skerrors.ErrFileNotFound)
		}
		return skerrors.NewFileError("open", full, err)
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}

func (l *LocalFS) Exists(ctx context.Context, remotePath string) (bool, error) {
	full, err := l.resolve(remotePath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (l *LocalFS) Delete(ctx context.Context, remotePath string) error {
	full, err := l.resolve(remotePath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return skerrors.NewFileError("remove", full, err)
	}
	return nil
}

func (l *LocalFS) List(ctx context.Context, prefix string, recursive bool) ([]ObjectMeta, error) {
	base, err := l.resolve(prefix)
	if err != nil {
		return nil, err
	}

	var out []ObjectMeta
	walkErr := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if !recursive && path != base {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		out = append(out, ObjectMeta{
			RemotePath:   filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return nil, skerrors.NewFileError("walk", base, walkErr)
	}
	return out, nil
}

func (l *LocalFS) Metadata(ctx context.Context, remotePath string) (ObjectMeta, error) {
	full, err := l.resolve(remotePath)
	if err != nil {
		return ObjectMeta{}, err
	}
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return ObjectMeta{}, skerrors.NewFileError("stat", full, skerrors.ErrFileNotFound)
	}
	if err != nil {
		return ObjectMeta{}, skerrors.NewFileError("stat", full, err)
	}
	return ObjectMeta{RemotePath: remotePath, Size: info.Size(), LastModified: info.ModTime()}, nil
}

var _ Backend = (*LocalFS)(nil)
