package restore

import (
	"path/filepath"
	"strings"

	skerrors "github.com/nullmedev/skylock/internal/errors"
)

// validateRemotePath rejects any remote_path that escapes the backup's own
// directory under backupRoot/backupID. It mirrors the
// traversal checks storage.LocalFS applies on the write side, applied here
// independently of which backend is in play.
func validateRemotePath(backupRoot, backupID, remotePath string) error {
	if remotePath == "" {
		return skerrors.NewPathError(remotePath, skerrors.ErrPathTraversal)
	}
	clean := filepath.ToSlash(filepath.Clean(remotePath))
	if filepath.IsAbs(clean) || strings.Contains(clean, "..") {
		return skerrors.NewPathError(remotePath, skerrors.ErrPathTraversal)
	}

	prefix := filepath.ToSlash(filepath.Clean(filepath.Join(backupRoot, backupID)))
	if clean != prefix && !strings.HasPrefix(clean, prefix+"/") {
		return skerrors.NewPathError(remotePath, skerrors.ErrPathTraversal)
	}
	return nil
}

// renderLocalPath maps a FileEntry's original absolute local_path onto a
// path under targetDir, validating that the result cannot escape targetDir
// (no "..", no absolute escape; the result is canonicalized and rejected
// if outside the target). The original absolute structure is preserved under
// targetDir (e.g. local_path "/home/user/a.txt" restores to
// "{targetDir}/home/user/a.txt") so that restoring multiple source roots
// never collides.
func renderLocalPath(targetDir, localPath string) (string, error) {
	if localPath == "" {
		return "", skerrors.NewPathError(localPath, skerrors.ErrPathTraversal)
	}

	clean := filepath.Clean(localPath)
	if strings.Contains(localPath, "..") {
		return "", skerrors.NewPathError(localPath, skerrors.ErrPathTraversal)
	}

	rel := clean
	if vol := filepath.VolumeName(clean); vol != "" {
		// Drive letters (e.g. "C:") are rejected outright: a manifest's
		// local_path must be a portable absolute path, never a Windows
		// drive-rooted one smuggled through an otherwise-relative check.
		return "", skerrors.NewPathError(localPath, skerrors.ErrPathTraversal)
	} else if !filepath.IsAbs(clean) {
		return "", skerrors.NewPathError(localPath, skerrors.ErrPathTraversal)
	} else {
		rel = strings.TrimPrefix(clean, string(filepath.Separator))
	}

	targetAbs, err := filepath.Abs(targetDir)
	if err != nil {
		return "", skerrors.NewFileError("abs", targetDir, err)
	}
	candidate := filepath.Join(targetAbs, rel)

	relToTarget, err := filepath.Rel(targetAbs, candidate)
	if err != nil || relToTarget == ".." || strings.HasPrefix(relToTarget, ".."+string(filepath.Separator)) {
		return "", skerrors.NewPathError(localPath, skerrors.ErrPathTraversal)
	}

	return candidate, nil
}
