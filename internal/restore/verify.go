package restore

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	skerrors "github.com/nullmedev/skylock/internal/errors"
	"github.com/nullmedev/skylock/internal/log"
	"github.com/nullmedev/skylock/internal/manifest"
	"github.com/nullmedev/skylock/internal/progress"
	"github.com/nullmedev/skylock/internal/storage"
)

// Verify exercises the same checks Restore would without writing anything
// to disk. VerifyQuick only confirms every
// manifest entry's object still exists in the backend; VerifyFull downloads,
// decrypts, decompresses, and hash-verifies every file, discarding the
// plaintext once its digest has been checked.
func Verify(ctx context.Context, opts *Options, mode VerifyMode) (*VerifyResult, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	backend := storage.NewRetrying(opts.Backend, opts.workers(), storage.DefaultRetryOptions())

	m, err := loadManifest(ctx, opts, backend)
	if err != nil {
		return nil, err
	}

	vr := &VerifyResult{BackupID: m.BackupID}

	if mode == VerifyQuick {
		return verifyQuick(ctx, opts, backend, m, vr)
	}
	return verifyFull(ctx, opts, backend, m, vr)
}

func verifyQuick(ctx context.Context, opts *Options, backend *storage.Retrying, m *manifest.BackupManifest, vr *VerifyResult) (*VerifyResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backend.Concurrency())

	var mu sync.Mutex

	for i := range m.Files {
		entry := m.Files[i]
		g.Go(func() error {
			exists, err := backend.Exists(gctx, entry.RemotePath)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				vr.Errors = append(vr.Errors, FileError{LocalPath: entry.LocalPath, Err: err})
				return nil
			}
			if !exists {
				vr.Missing++
				vr.Errors = append(vr.Errors, FileError{LocalPath: entry.LocalPath, Err: skerrors.ErrFileNotFound})
				return nil
			}
			vr.Checked++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vr, nil
}

func verifyFull(ctx context.Context, opts *Options, backend *storage.Retrying, m *manifest.BackupManifest, vr *VerifyResult) (*VerifyResult, error) {
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
	defer func() { recordKDFOutcome(opts, int64(vr.Checked), int64(vr.Corrupted)) }()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backend.Concurrency())

	var mu sync.Mutex

	for i := range m.Files {
		entry := m.Files[i]
		g.Go(func() error {
			_, err := decryptFile(gctx, rc, entry)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if skerrors.IsCorrupt(err) {
					vr.Corrupted++
				}
				vr.Errors = append(vr.Errors, FileError{LocalPath: entry.LocalPath, Err: err})
				if opts.StrictMode {
					return err
				}
				return nil
			}
			vr.Checked++
			rc.reporter.Report(progress.PhaseVerify, entry.Size, entry.Size)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	opts.logger().Info("verify complete",
		log.String("backup_id", m.BackupID),
		log.Int("checked", vr.Checked),
		log.Int("corrupted", vr.Corrupted),
	)
	return vr, nil
}
