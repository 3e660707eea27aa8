package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nullmedev/skylock/internal/chain"
	"github.com/nullmedev/skylock/internal/crypto"
	skerrors "github.com/nullmedev/skylock/internal/errors"
	"github.com/nullmedev/skylock/internal/index"
	"github.com/nullmedev/skylock/internal/log"
	"github.com/nullmedev/skylock/internal/manifest"
	"github.com/nullmedev/skylock/internal/progress"
	"github.com/nullmedev/skylock/internal/ratelimit"
	"github.com/nullmedev/skylock/internal/scanner"
	"github.com/nullmedev/skylock/internal/state"
	"github.com/nullmedev/skylock/internal/storage"
)

// Backup runs a complete backup of opts.SourcePaths: scan, filter against
// the previous index, and for every included file hash/compress/encrypt/
// upload it, finishing with the manifest upload (signed when a signing key
// is supplied). This is the
// single entry point callers use; there is no CLI layer in this module.
func Backup(ctx context.Context, opts *Options) (*Result, error) {
	rc, err := newRunContext(opts)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	// State loads first: an incremental run must know the previous
	// manifest's kdf_params before deriving its own key, so that copied-
	// forward ciphertext (still sealed under the prior master key) stays
	// decryptable under the single kdf_params this manifest records.
	if err := backupLoadState(ctx, rc); err != nil {
		return nil, err
	}
	if err := backupDeriveKeys(rc); err != nil {
		return nil, err
	}

	entries, err := backupProcessFiles(ctx, rc)
	if err != nil {
		return nil, err
	}

	return backupFinalize(ctx, rc, entries)
}

func newRunContext(opts *Options) (*runContext, error) {
	if len(opts.SourcePaths) == 0 {
		return nil, skerrors.NewValidationError("source_paths", "at least one source path is required")
	}
	if opts.Backend == nil {
		return nil, skerrors.NewValidationError("backend", "a storage backend is required")
	}
	if len(opts.Password) == 0 {
		return nil, skerrors.NewValidationError("password", "a password is required")
	}

	now := opts.now()
	backupID := fmt.Sprintf("backup_%s", now.UTC().Format("20060102_150405"))

	var throttle *ratelimit.Throttle
	if opts.MaxUploadBPS > 0 {
		throttle = ratelimit.NewThrottle(opts.MaxUploadBPS)
	} else {
		throttle = ratelimit.Unlimited()
	}

	backend := storage.NewRetrying(opts.Backend, opts.workers(), storage.DefaultRetryOptions())

	return &runContext{
		opts:     opts,
		backupID: backupID,
		now:      now,
		throttle: throttle,
		backend:  backend,
		reporter: progress.Throttle(opts.reporter(), progress.DefaultInterval),
	}, nil
}

// backupDeriveKeys runs Argon2id over the caller's password, choosing the
// balanced or paranoid profile. An incremental run that found a previous
// manifest reuses its kdf_params verbatim (same salt) so the derived master
// key is identical to the one ciphertext copied forward from that manifest
// was sealed under; a fresh profile (new salt) is picked whenever there is
// no previous v2 manifest to reuse: every non-incremental run, and an
// incremental run that found no previous index.
func backupDeriveKeys(rc *runContext) error {
	rc.opts.logger().Info("deriving key", log.Bool("paranoid", rc.opts.Paranoid))

	identifier := rc.opts.identifier()
	if rc.opts.KDFLimiter != nil {
		if err := rc.opts.KDFLimiter.Check(identifier, rc.now); err != nil {
			return err
		}
	}

	var params crypto.KDFParams
	var err error
	switch {
	case rc.prevKDFParams != nil:
		params = *rc.prevKDFParams
	case rc.opts.Paranoid:
		params, err = crypto.NewParanoidParams()
	default:
		params, err = crypto.NewBalancedParams()
	}
	if err != nil {
		return err
	}

	key, err := crypto.DeriveKey(rc.opts.Password, params)
	if err != nil {
		if rc.opts.KDFLimiter != nil {
			rc.opts.KDFLimiter.RecordFailure(identifier, rc.now)
		}
		return err
	}
	if rc.opts.KDFLimiter != nil {
		rc.opts.KDFLimiter.RecordSuccess(identifier)
	}

	keys, err := crypto.NewMasterKeyContext(key)
	if err != nil {
		return err
	}
	rc.keys = keys
	rc.kdfParams = params
	return nil
}

// backupLoadState loads the anti-rollback chain state, the previous file
// index and manifest (if any), and resume state for this backup id.
func backupLoadState(ctx context.Context, rc *runContext) error {
	if purged, err := state.PurgeStale(rc.opts.DataDir, rc.now); err != nil {
		rc.opts.logger().Warn("stale resume-state purge failed", log.Err(err))
	} else if len(purged) > 0 {
		rc.opts.logger().Info("purged abandoned resume state", log.Int("count", len(purged)))
	}

	chainState, err := chain.Load(rc.opts.DataDir)
	if err != nil {
		return err
	}
	rc.chainState = chainState

	var prevIndex *index.Index
	if rc.opts.Incremental {
		prevIndex, err = index.Load(index.LatestPath(rc.opts.DataDir))
		if err != nil {
			return err
		}
		if prevIndex == nil {
			rc.opts.logger().Warn("no previous index found, falling back to full backup")
		}
	}
	rc.prevIndex = prevIndex

	if prevIndex != nil && prevIndex.BackupID != "" {
		prevManifest, err := downloadManifest(ctx, rc.backend, rc.opts.BackupRoot, prevIndex.BackupID)
		if err != nil {
			return err
		}
		rc.prevEntries = make(map[string]manifest.FileEntry, len(prevManifest.Files))
		for _, entry := range prevManifest.Files {
			rc.prevEntries[entry.LocalPath] = entry
		}
		if prevManifest.EncryptionVersion == manifest.V2 && prevManifest.KDFParams != nil {
			rc.prevKDFParams = prevManifest.KDFParams
		}
	}
	rc.newIndex = index.New(rc.opts.SourcePaths, rc.now)
	rc.newIndex.BackupID = rc.backupID

	resume, err := state.Load(rc.opts.DataDir, rc.backupID)
	if err != nil {
		return err
	}
	if resume == nil {
		resume = state.New(rc.backupID, rc.opts.SourcePaths, 0, rc.now)
	}
	rc.resume = resume
	return state.Save(rc.opts.DataDir, rc.resume)
}

// backupProcessFiles walks the source paths, classifies each file against
// the previous index, and processes every included file through a bounded
// worker pool.
func backupProcessFiles(ctx context.Context, rc *runContext) ([]manifest.FileEntry, error) {
	entriesCh := make(chan scanner.Entry, 256)
	scanErrCh := make(chan error, 1)

	go func() {
		scanErrCh <- scanner.Walk(ctx, rc.opts.SourcePaths, excludeFunc(rc.opts.ExcludePatterns), entriesCh)
	}()

	seen := make(map[string]struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.backend.Concurrency())

	var mu sync.Mutex
	var entries []manifest.FileEntry

	for scanned := range entriesCh {
		scanned := scanned
		seen[scanned.Path] = struct{}{}
		modified := time.Unix(scanned.ModTime, 0).UTC()

		classification, plainHash, err := index.Classify(rc.prevIndex, scanned.Path, index.CurrentFile{
			Size:     scanned.Size,
			Modified: modified,
		}, func() (string, error) {
			return hashFile(scanned.Path)
		})
		if err != nil {
			rc.recordError(scanned.Path, err)
			continue
		}

		rc.newIndex.Files[scanned.Path] = index.Entry{
			Size:     scanned.Size,
			Modified: modified,
			Hash:     plainHash,
		}

		if rc.resume.Uploaded(scanned.Path) {
			// A prior interrupted run already uploaded this file. Its entry
			// still belongs in the manifest, so rebuild it from the local
			// plaintext without re-encrypting; a stale resume record whose
			// ciphertext object is gone falls back to a fresh upload.
			item := workItem{localPath: scanned.Path, size: scanned.Size, modified: modified}
			g.Go(func() error {
				entry, reused, err := resumeFile(gctx, rc, item)
				if err != nil {
					rc.recordError(item.localPath, err)
					if rc.opts.StrictMode {
						return err
					}
					return nil
				}

				mu.Lock()
				entries = append(entries, entry)
				mu.Unlock()

				if reused {
					rc.addResumed()
					return nil
				}
				rc.addUploaded(entry.Size)
				return rc.resume.MarkUploaded(rc.opts.DataDir, item.localPath, rc.now)
			})
			continue
		}

		if !classification.Included() {
			// Unchanged and MetadataChanged files still belong in the new
			// manifest (every backup is independently restorable), but
			// their ciphertext is copied forward from the prior backup's
			// object prefix instead of re-encrypted, never referenced by
			// pointer into a backup that may later be pruned.
			prevEntry, ok := rc.prevEntries[scanned.Path]
			if !ok {
				continue
			}
			modified := modified
			g.Go(func() error {
				entry, err := copyUnchangedFile(gctx, rc, prevEntry)
				if err != nil {
					rc.recordError(scanned.Path, err)
					if rc.opts.StrictMode {
						return err
					}
					return nil
				}
				entry.Modified = modified

				mu.Lock()
				entries = append(entries, entry)
				mu.Unlock()
				rc.addCopied()

				return rc.resume.MarkUploaded(rc.opts.DataDir, scanned.Path, rc.now)
			})
			continue
		}

		item := workItem{localPath: scanned.Path, size: scanned.Size, modified: modified}
		g.Go(func() error {
			entry, err := processFile(gctx, rc, item)
			if err != nil {
				rc.recordError(item.localPath, err)
				if rc.opts.StrictMode {
					return err
				}
				return nil
			}

			mu.Lock()
			entries = append(entries, entry)
			mu.Unlock()

			rc.addUploaded(entry.Size)
			return rc.resume.MarkUploaded(rc.opts.DataDir, item.localPath, rc.now)
		})
	}

	if err := <-scanErrCh; err != nil {
		return nil, err
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, removed := range index.RemovedPaths(rc.prevIndex, seen) {
		rc.opts.logger().Debug("file removed since last backup", log.String("path", removed))
	}

	return entries, nil
}

func excludeFunc(patterns []string) scanner.ExcludeFunc {
	if len(patterns) == 0 {
		return nil
	}
	return func(path string) bool {
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, filepath.Base(path)); ok {
				return true
			}
		}
		return false
	}
}
