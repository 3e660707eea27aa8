package restore

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nullmedev/skylock/internal/chain"
	"github.com/nullmedev/skylock/internal/crypto"
	skerrors "github.com/nullmedev/skylock/internal/errors"
	"github.com/nullmedev/skylock/internal/log"
	"github.com/nullmedev/skylock/internal/manifest"
	"github.com/nullmedev/skylock/internal/progress"
	"github.com/nullmedev/skylock/internal/storage"
)

// Restore reconstructs files from a backup manifest into opts.TargetDir.
// It downloads and validates the manifest, verifies its signature
// and anti-rollback state when the caller asked for either, then runs every
// included file through decrypt/decompress/hash-verify and writes the
// result to disk through a bounded worker pool.
func Restore(ctx context.Context, opts *Options) (*Result, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	backend := storage.NewRetrying(opts.Backend, opts.workers(), storage.DefaultRetryOptions())

	m, err := loadManifest(ctx, opts, backend)
	if err != nil {
		return nil, err
	}

	keys, err := deriveRestoreKey(opts, m)
	if err != nil {
		return nil, err
	}

	rc := &restoreContext{
		opts:     opts,
		manifest: m,
		keys:     keys,
		backend:  backend,
		reporter: progress.Throttle(opts.reporter(), progress.DefaultInterval),
	}
	defer rc.Close()
	defer func() { recordKDFOutcome(opts, rc.restored, rc.corrupted) }()

	pathFilter := pathSet(opts.Paths)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backend.Concurrency())

	for i := range m.Files {
		entry := m.Files[i]
		if len(pathFilter) > 0 {
			if _, ok := pathFilter[entry.LocalPath]; !ok {
				continue
			}
		}

		g.Go(func() error {
			if err := restoreOne(gctx, rc, entry); err != nil {
				if skerrors.IsCorrupt(err) {
					rc.recordCorrupt(entry.LocalPath, err)
				} else {
					rc.recordError(entry.LocalPath, err)
				}
				if opts.StrictMode {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	opts.logger().Info("restore complete",
		log.String("backup_id", m.BackupID),
		log.Int64("restored", rc.restored),
		log.Int64("failed", rc.failed),
	)

	return &Result{
		BackupID:  m.BackupID,
		Restored:  int(rc.restored),
		Skipped:   int(rc.skipped),
		Failed:    int(rc.failed),
		Corrupted: int(rc.corrupted),
		Conflicts: int(rc.conflicts),
		Errors:    rc.errList,
	}, nil
}

func validateOptions(opts *Options) error {
	if opts.BackupID == "" {
		return skerrors.NewValidationError("backup_id", "a backup id is required")
	}
	if opts.Backend == nil {
		return skerrors.NewValidationError("backend", "a storage backend is required")
	}
	if len(opts.Password) == 0 {
		return skerrors.NewValidationError("password", "a password is required")
	}
	return nil
}

// manifestPath returns the fixed object key a backup's manifest is stored
// under, matching the engine's write-side layout.
func manifestPath(backupRoot, backupID string) string {
	return path.Join(backupRoot, backupID, "manifest.json")
}

// loadManifest downloads the manifest, verifies its signature envelope
// before any full deserialization when a public key is supplied, then
// parses and structurally validates the rest.
func loadManifest(ctx context.Context, opts *Options, backend storage.Backend) (*manifest.BackupManifest, error) {
	path := manifestPath(opts.BackupRoot, opts.BackupID)

	var buf bytes.Buffer
	if err := backend.Download(ctx, path, &buf, storage.Options{}); err != nil {
		return nil, skerrors.NewFileError("download", path, err)
	}
	raw := buf.Bytes()

	if opts.PublicKey != nil {
		if err := manifest.VerifyEnvelope(raw, opts.PublicKey); err != nil {
			return nil, err
		}
	}

	m, err := manifest.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if opts.ChainDataDir != "" {
		if err := verifyChain(opts, m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// verifyChain rejects restoring a manifest whose chain version or signing
// key regresses the anti-rollback state recorded in ChainDataDir. Restore
// only ever reads this state; advancing it remains Backup's
// exclusive responsibility, so restoring an intentionally old backup_id for
// inspection does not corrupt the chain a later incremental run depends on.
func verifyChain(opts *Options, m *manifest.BackupManifest) error {
	state, err := chain.Load(opts.ChainDataDir)
	if err != nil {
		return err
	}

	var fingerprint string
	if m.Signature != nil {
		fingerprint = m.Signature.Fingerprint
	}

	return state.Verify(m.BackupChainVersion, fingerprint, opts.AllowKeyRotation)
}

// deriveRestoreKey runs Argon2id over the caller's password using the
// manifest's own recorded kdf_params, returning the operation's key
// material with ownership transferred to the caller (who must Close it). A
// v1 manifest written without kdf_params cannot be restored by password
// alone; that is a property of the legacy format, not a gap in this
// restore path.
func deriveRestoreKey(opts *Options, m *manifest.BackupManifest) (*crypto.MasterKeyContext, error) {
	if m.KDFParams == nil {
		return nil, skerrors.NewManifestError("kdf_params", skerrors.ErrInvalidFormat)
	}
	if opts.KDFLimiter != nil {
		if err := opts.KDFLimiter.Check(opts.identifier(), opts.now()); err != nil {
			return nil, err
		}
	}
	key, err := crypto.DeriveKey(opts.Password, *m.KDFParams)
	if err != nil {
		return nil, err
	}
	return crypto.NewMasterKeyContext(key)
}

// recordKDFOutcome feeds the outcome of one restore or verify attempt back
// into opts.KDFLimiter. A wrong password derives a key mechanically
// (Argon2id never fails on bad input), so it can only be detected once
// decryption is attempted: every file failing with a crypto error (an
// AEAD tag or HMAC mismatch) is treated as a failed attempt; at least one
// file succeeding clears the identifier's failure history.
func recordKDFOutcome(opts *Options, succeeded, corrupted int64) {
	if opts.KDFLimiter == nil {
		return
	}
	identifier := opts.identifier()
	if succeeded > 0 {
		opts.KDFLimiter.RecordSuccess(identifier)
		return
	}
	if corrupted > 0 {
		opts.KDFLimiter.RecordFailure(identifier, opts.now())
	}
}

func pathSet(paths []string) map[string]struct{} {
	if len(paths) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

// restoreOne decrypts a single manifest entry and writes it to its target
// path under opts.TargetDir, applying the caller's conflict policy.
func restoreOne(ctx context.Context, rc *restoreContext, entry manifest.FileEntry) error {
	if err := validateRemotePath(rc.opts.BackupRoot, rc.opts.BackupID, entry.RemotePath); err != nil {
		return err
	}

	targetPath, err := renderLocalPath(rc.opts.TargetDir, entry.LocalPath)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(targetPath); statErr == nil {
		switch rc.opts.ConflictPolicy {
		case ConflictSkip:
			rc.addSkipped()
			rc.addConflict()
			return nil
		case ConflictRename:
			targetPath = targetPath + ".restored"
			rc.addConflict()
		case ConflictOverwrite:
			rc.addConflict()
		}
	}

	plaintext, err := decryptFile(ctx, rc, entry)
	if err != nil {
		return err
	}

	if err := writeFileAtomic(targetPath, plaintext, entry.Modified); err != nil {
		return err
	}

	rc.reporter.Report(progress.PhaseDownload, entry.Size, entry.Size)
	rc.addRestored()
	return nil
}

// writeFileAtomic writes data to a temp file alongside path, restores the
// original modification time, and renames it into place, matching the
// atomic-write convention chain and index state use elsewhere in this
// module.
func writeFileAtomic(path string, data []byte, modified time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return skerrors.NewFileError("mkdir", filepath.Dir(path), err)
	}

	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return skerrors.NewFileError("write", tmp, err)
	}
	if !modified.IsZero() {
		if err := os.Chtimes(tmp, modified, modified); err != nil {
			return skerrors.NewFileError("chtimes", tmp, err)
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		return skerrors.NewFileError("rename", path, err)
	}
	return nil
}
