// Package restore implements the version-aware decrypt/decompress/verify
// pipeline that reconstructs files from a backup manifest, plus the
// Verify operation that exercises the same checks without writing to disk.
package restore

import (
	"time"

	"github.com/nullmedev/skylock/internal/crypto"
	"github.com/nullmedev/skylock/internal/log"
	"github.com/nullmedev/skylock/internal/progress"
	"github.com/nullmedev/skylock/internal/ratelimit"
	"github.com/nullmedev/skylock/internal/storage"
)

// ConflictPolicy governs what happens when a restore target path already
// exists on disk.
type ConflictPolicy int

const (
	ConflictSkip ConflictPolicy = iota
	ConflictOverwrite
	ConflictRename
)

// Options holds every parameter a Restore or Verify run needs.
type Options struct {
	BackupID   string
	TargetDir  string // ignored by Verify
	BackupRoot string

	Backend storage.Backend

	Password []byte

	// KDFLimiter enforces the password brute-force rate limit
	// across repeated Restore/Verify calls sharing the same identifier. A
	// nil limiter disables rate limiting.
	KDFLimiter *crypto.KDFLimiter
	// Identifier scopes KDFLimiter's failure counting; defaults to
	// BackupID when empty.
	Identifier string

	// PublicKey enables signature verification; nil skips it (unsigned
	// backups have nothing to verify).
	PublicKey []byte
	// ChainDataDir enables anti-rollback verification against the on-disk
	// ChainState; empty skips it. Restore never advances chain state itself
	// -- only a successful Backup does that.
	ChainDataDir     string
	AllowKeyRotation bool

	// Paranoid must match the value the backup was created with, selecting
	// the HMAC-SHA3-512 + Serpent cascade profile for v2 volumes.
	Paranoid bool

	ConflictPolicy ConflictPolicy
	// Paths restricts the operation to this subset of FileEntry.LocalPath
	// values; empty means every file in the manifest (single-file restore
	// is the Paths-with-one-element case).
	Paths []string

	StrictMode bool // abort on first per-file failure instead of continuing
	Workers    int

	Logger   log.Logger
	Reporter progress.Reporter

	Now func() time.Time
}

func (o *Options) logger() log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.GetLogger()
}

func (o *Options) reporter() progress.Reporter {
	if o.Reporter != nil {
		return o.Reporter
	}
	return progress.Null{}
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Options) identifier() string {
	if o.Identifier != "" {
		return o.Identifier
	}
	return o.BackupID
}

func (o *Options) workers() int {
	base := o.Workers
	if base <= 0 {
		base = 4
	}
	return ratelimit.NewConcurrency(base).Workers()
}

// FileError records a per-file failure that did not abort the whole run.
type FileError struct {
	LocalPath string
	Err       error
}

// Result summarizes a completed (or partially completed) restore run.
type Result struct {
	BackupID  string
	Restored  int
	Skipped   int
	Failed    int
	Corrupted int // hash or tag mismatch, or corrupted ciphertext framing; a subset of Failed
	Conflicts int // target paths that already existed
	Errors    []FileError
}

// VerifyMode selects how thoroughly Verify checks a backup.
type VerifyMode int

const (
	// VerifyQuick only checks that each remote_path exists in the backend.
	VerifyQuick VerifyMode = iota
	// VerifyFull downloads, decrypts, decompresses, and hash-verifies every file.
	VerifyFull
)

// VerifyResult summarizes a Verify run.
type VerifyResult struct {
	BackupID  string
	Checked   int
	Missing   int
	Corrupted int
	Errors    []FileError
}
