package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sort"

	"github.com/nullmedev/skylock/internal/chain"
	skerrors "github.com/nullmedev/skylock/internal/errors"
	"github.com/nullmedev/skylock/internal/index"
	"github.com/nullmedev/skylock/internal/log"
	"github.com/nullmedev/skylock/internal/manifest"
	"github.com/nullmedev/skylock/internal/sign"
	"github.com/nullmedev/skylock/internal/state"
	"github.com/nullmedev/skylock/internal/storage"
)

// hashFile streams a plaintext SHA-256 digest of path for change-tracker
// comparisons, independent of the manifest's hash_algorithm.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", skerrors.NewFileError("open", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", skerrors.NewFileError("read", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// downloadManifest fetches and parses the manifest of a prior backup, used
// by incremental runs to recover FileEntry fields (remote_path, hash,
// compressed) for files the change tracker classified Unchanged or
// MetadataChanged, so their ciphertext can be copied forward rather than
// silently dropped from the new manifest.
func downloadManifest(ctx context.Context, backend storage.Backend, backupRoot, backupID string) (*manifest.BackupManifest, error) {
	manifestPath := backupRoot + "/" + backupID + "/manifest.json"
	var buf bytes.Buffer
	if err := backend.Download(ctx, manifestPath, &buf, storage.Options{}); err != nil {
		return nil, skerrors.NewFileError("download", manifestPath, err)
	}
	return manifest.Unmarshal(buf.Bytes())
}

// backupFinalize builds the manifest from collected entries, ordered by
// local path so the manifest is identical across concurrency levels and
// worker completion order, signs it if a signing key was supplied, uploads it last,
// and persists the chain state, file index, and resume cleanup.
func backupFinalize(ctx context.Context, rc *runContext, entries []manifest.FileEntry) (*Result, error) {
	if entries == nil {
		// An empty tree still serializes "files": [], not null.
		entries = []manifest.FileEntry{}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LocalPath < entries[j].LocalPath })

	var totalSize int64
	for i := range entries {
		totalSize += entries[i].Size
	}

	chainVersion := rc.chainState.LatestVersion + 1
	m := &manifest.BackupManifest{
		BackupID:           rc.backupID,
		Timestamp:          rc.now,
		SourcePaths:        rc.opts.SourcePaths,
		Files:              entries,
		TotalFiles:         len(entries),
		TotalSize:          totalSize,
		EncryptionVersion:  manifest.V2,
		KDFParams:          &rc.kdfParams,
		HashAlgorithm:      "hmac-sha256",
		BackupChainVersion: chainVersion,
	}
	if rc.opts.Incremental && rc.prevIndex != nil {
		m.BaseBackupID = rc.prevIndex.BackupID
	}

	var fingerprint string
	if rc.opts.SigningKey != nil {
		fingerprint = sign.Fingerprint(rc.opts.PublicKey)
		keyID := rc.opts.KeyID
		if keyID == "" {
			keyID = sign.GenerateKeyID()
		}
		if err := m.Sign(rc.opts.SigningKey, rc.opts.PublicKey, keyID, rc.now); err != nil {
			return nil, err
		}
	}

	if err := rc.chainState.Verify(chainVersion, fingerprint, rc.opts.AllowKeyRotation); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	body, err := m.Marshal()
	if err != nil {
		return nil, err
	}

	manifestPath := rc.opts.BackupRoot + "/" + rc.backupID + "/manifest.json"
	if _, err := rc.backend.Upload(ctx, manifestPath, bytes.NewReader(body), int64(len(body)), storage.Options{}); err != nil {
		return nil, skerrors.NewFileError("upload", manifestPath, err)
	}

	rc.chainState.Advance(rc.backupID, chainVersion, fingerprint, rc.now)
	if err := chain.Save(rc.opts.DataDir, rc.chainState); err != nil {
		return nil, err
	}

	if err := index.Save(index.BackupPath(rc.opts.DataDir, rc.backupID), rc.newIndex); err != nil {
		return nil, err
	}
	if err := index.Save(index.LatestPath(rc.opts.DataDir), rc.newIndex); err != nil {
		return nil, err
	}

	if err := state.Delete(rc.opts.DataDir, rc.backupID); err != nil {
		return nil, err
	}

	rc.opts.logger().Info("backup complete",
		log.String("backup_id", rc.backupID),
		log.Int("files", len(entries)),
		log.Int64("total_size", totalSize),
	)

	return &Result{
		BackupID:      rc.backupID,
		FilesTotal:    len(entries) + len(rc.errList),
		FilesUploaded: int(rc.uploaded),
		FilesCopied:   int(rc.copied),
		FilesSkipped:  int(rc.resumed),
		Errors:        rc.errList,
		ManifestPath:  manifestPath,
	}, nil
}
