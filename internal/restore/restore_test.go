package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullmedev/skylock/internal/engine"
	"github.com/nullmedev/skylock/internal/sign"
	"github.com/nullmedev/skylock/internal/storage"
)

func makeBackup(t *testing.T, srcDir, dataDir, storeDir string, keys *sign.KeyPair) (*engine.Result, storage.Backend) {
	t.Helper()

	backend, err := storage.NewLocalFS(storeDir)
	require.NoError(t, err)

	result, err := engine.Backup(context.Background(), &engine.Options{
		SourcePaths: []string{srcDir},
		DataDir:     dataDir,
		BackupRoot:  "backups",
		Backend:     backend,
		Password:    []byte("correct horse battery staple"),
		SigningKey:  keys.Private,
		PublicKey:   keys.Public,
		KeyID:       "test-key",
	})
	require.NoError(t, err)
	return result, backend
}

func TestRestoreRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	dataDir := t.TempDir()
	storeDir := t.TempDir()
	targetDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "sub", "b.txt"), []byte("nested"), 0o644))

	keys, err := sign.GenerateKeyPair()
	require.NoError(t, err)

	backupResult, backend := makeBackup(t, srcDir, dataDir, storeDir, keys)
	require.Equal(t, 2, backupResult.FilesUploaded)

	result, err := Restore(context.Background(), &Options{
		BackupID:       backupResult.BackupID,
		TargetDir:      targetDir,
		BackupRoot:     "backups",
		Backend:        backend,
		Password:       []byte("correct horse battery staple"),
		PublicKey:      keys.Public,
		ConflictPolicy: ConflictOverwrite,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Restored)
	require.Empty(t, result.Errors)

	restoredA, err := os.ReadFile(filepath.Join(targetDir, filepath.Join(srcDir, "a.txt")))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(restoredA))

	restoredB, err := os.ReadFile(filepath.Join(targetDir, filepath.Join(srcDir, "sub", "b.txt")))
	require.NoError(t, err)
	require.Equal(t, "nested", string(restoredB))
}

func TestRestoreRejectsWrongPassword(t *testing.T) {
	srcDir := t.TempDir()
	dataDir := t.TempDir()
	storeDir := t.TempDir()
	targetDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello world"), 0o644))

	keys, err := sign.GenerateKeyPair()
	require.NoError(t, err)

	backupResult, backend := makeBackup(t, srcDir, dataDir, storeDir, keys)

	result, err := Restore(context.Background(), &Options{
		BackupID:   backupResult.BackupID,
		TargetDir:  targetDir,
		BackupRoot: "backups",
		Backend:    backend,
		Password:   []byte("wrong password entirely"),
		PublicKey:  keys.Public,
		StrictMode: false,
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Restored)
	require.Equal(t, 1, result.Corrupted, "wrong password should surface as a hash/tag mismatch, not a crash")
}

func TestRestoreRejectsTamperedSignature(t *testing.T) {
	srcDir := t.TempDir()
	dataDir := t.TempDir()
	storeDir := t.TempDir()
	targetDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello world"), 0o644))

	keys, err := sign.GenerateKeyPair()
	require.NoError(t, err)
	otherKeys, err := sign.GenerateKeyPair()
	require.NoError(t, err)

	backupResult, backend := makeBackup(t, srcDir, dataDir, storeDir, keys)

	_, err = Restore(context.Background(), &Options{
		BackupID:   backupResult.BackupID,
		TargetDir:  targetDir,
		BackupRoot: "backups",
		Backend:    backend,
		Password:   []byte("correct horse battery staple"),
		PublicKey:  otherKeys.Public,
	})
	require.Error(t, err)
}

func TestVerifyQuickAndFull(t *testing.T) {
	srcDir := t.TempDir()
	dataDir := t.TempDir()
	storeDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello world"), 0o644))

	keys, err := sign.GenerateKeyPair()
	require.NoError(t, err)

	backupResult, backend := makeBackup(t, srcDir, dataDir, storeDir, keys)

	quick, err := Verify(context.Background(), &Options{
		BackupID:   backupResult.BackupID,
		BackupRoot: "backups",
		Backend:    backend,
		Password:   []byte("correct horse battery staple"),
		PublicKey:  keys.Public,
	}, VerifyQuick)
	require.NoError(t, err)
	require.Equal(t, 1, quick.Checked)
	require.Zero(t, quick.Missing)

	full, err := Verify(context.Background(), &Options{
		BackupID:   backupResult.BackupID,
		BackupRoot: "backups",
		Backend:    backend,
		Password:   []byte("correct horse battery staple"),
		PublicKey:  keys.Public,
	}, VerifyFull)
	require.NoError(t, err)
	require.Equal(t, 1, full.Checked)
	require.Zero(t, full.Corrupted)
}

func TestRestoreConflictSkip(t *testing.T) {
	srcDir := t.TempDir()
	dataDir := t.TempDir()
	storeDir := t.TempDir()
	targetDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello world"), 0o644))

	keys, err := sign.GenerateKeyPair()
	require.NoError(t, err)

	backupResult, backend := makeBackup(t, srcDir, dataDir, storeDir, keys)

	existing := filepath.Join(targetDir, srcDir, "a.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("do not touch"), 0o644))

	result, err := Restore(context.Background(), &Options{
		BackupID:       backupResult.BackupID,
		TargetDir:      targetDir,
		BackupRoot:     "backups",
		Backend:        backend,
		Password:       []byte("correct horse battery staple"),
		PublicKey:      keys.Public,
		ConflictPolicy: ConflictSkip,
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Restored)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 1, result.Conflicts)

	untouched, err := os.ReadFile(existing)
	require.NoError(t, err)
	require.Equal(t, "do not touch", string(untouched))
}
