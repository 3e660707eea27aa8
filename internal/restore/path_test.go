package restore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	skerrors "github.com/nullmedev/skylock/internal/errors"
)

func TestValidateRemotePath(t *testing.T) {
	root, id := "backups", "backup_20250112_020000"

	require.NoError(t, validateRemotePath(root, id, "backups/backup_20250112_020000/ab.enc"))

	bad := []string{
		"",
		"/etc/passwd",
		"backups/backup_20250112_020000/../../../etc/passwd",
		"backups/backup_20250111_020000/ab.enc", // another backup's prefix
		"elsewhere/ab.enc",
		"../backups/backup_20250112_020000/ab.enc",
	}
	for _, p := range bad {
		err := validateRemotePath(root, id, p)
		require.ErrorIs(t, err, skerrors.ErrPathTraversal, "remote_path %q must be rejected", p)
	}
}

func TestRenderLocalPath(t *testing.T) {
	target := t.TempDir()

	got, err := renderLocalPath(target, "/home/user/a.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(target, "home", "user", "a.txt"), got)

	bad := []string{
		"",
		"../../etc/passwd",
		"/home/user/../../etc/passwd",
		"relative/path.txt",
	}
	for _, p := range bad {
		_, err := renderLocalPath(target, p)
		require.ErrorIs(t, err, skerrors.ErrPathTraversal, "local_path %q must be rejected", p)
	}
}
