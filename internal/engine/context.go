// Package engine implements the direct-upload backup pipeline: scan, filter
// against the previous file index, hash, compress, encrypt, throttle,
// upload, and finally build and sign the manifest.
//
// This is the core of the backup engine: changes here affect every byte
// that leaves the machine.
package engine

import (
	"sync"
	"time"

	"github.com/nullmedev/skylock/internal/chain"
	"github.com/nullmedev/skylock/internal/compress"
	"github.com/nullmedev/skylock/internal/crypto"
	"github.com/nullmedev/skylock/internal/index"
	"github.com/nullmedev/skylock/internal/log"
	"github.com/nullmedev/skylock/internal/manifest"
	"github.com/nullmedev/skylock/internal/progress"
	"github.com/nullmedev/skylock/internal/ratelimit"
	"github.com/nullmedev/skylock/internal/state"
	"github.com/nullmedev/skylock/internal/storage"
)

// Options holds every parameter a Backup run needs. There is no
// interactive password prompt here: the caller resolves credentials before
// calling Backup.
type Options struct {
	SourcePaths []string
	DataDir     string // local root for chain state, file index, resume state
	BackupRoot  string // remote prefix backups are stored under

	Backend storage.Backend

	Password []byte
	Paranoid bool

	// KDFLimiter enforces the password brute-force rate limit
	// across repeated Backup calls sharing the same identifier; callers
	// that derive keys for more than one identifier (e.g. a multi-tenant
	// host) should construct one limiter and reuse it across calls. A nil
	// limiter disables rate limiting, matching a single-attempt CLI
	// invocation where brute-forcing isn't a concern.
	KDFLimiter *crypto.KDFLimiter
	// Identifier scopes KDFLimiter's failure counting; defaults to
	// BackupRoot when empty.
	Identifier string

	Incremental     bool
	ExcludePatterns []string

	Compression  int // compress.Level; 0 selects the balanced default, compress.None disables
	MaxUploadBPS int
	Workers      int
	StrictMode   bool // abort the whole backup on any per-file failure

	SigningKey       []byte // Ed25519 private key; nil disables signing
	PublicKey        []byte
	KeyID            string
	AllowKeyRotation bool

	Logger   log.Logger
	Reporter progress.Reporter

	Now func() time.Time // injected clock, defaults to time.Now
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
	return o.BackupRoot
}

func (o *Options) workers() int {
	return ratelimit.NewConcurrency(orDefault(o.Workers, 4)).Workers()
}

// compression resolves the configured level: the zero value selects the
// balanced default, compress.None (or any negative value) disables
// compression entirely.
func (o *Options) compression() compress.Level {
	if o.Compression == 0 {
		return compress.DefaultLevel
	}
	if o.Compression < 0 {
		return compress.None
	}
	return compress.Level(o.Compression)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runContext holds the mutable state threaded through every pipeline
// phase: created once per Backup call, closed on every exit path to zero
// key material.
type runContext struct {
	opts *Options

	backupID string
	now      time.Time

	keys          *crypto.MasterKeyContext
	kdfParams     crypto.KDFParams
	chainState    *chain.State
	prevIndex     *index.Index
	prevEntries   map[string]manifest.FileEntry // local_path -> prior FileEntry, for incremental copy-forward
	prevKDFParams *crypto.KDFParams             // non-nil when an incremental run must reuse the prior master key
	newIndex      *index.Index
	resume        *state.Resume

	throttle *ratelimit.Throttle
	backend  *storage.Retrying
	reporter progress.Reporter

	mu        sync.Mutex
	errList   []FileError
	uploaded  int64
	copied    int64
	resumed   int64
	totalSize int64
}

func (c *runContext) recordError(localPath string, err error) {
	c.mu.Lock()
	c.errList = append(c.errList, FileError{LocalPath: localPath, Err: err})
	c.mu.Unlock()
}

func (c *runContext) addUploaded(n int64) {
	c.mu.Lock()
	c.uploaded++
	c.totalSize += n
	c.mu.Unlock()
}

func (c *runContext) addCopied() {
	c.mu.Lock()
	c.copied++
	c.mu.Unlock()
}

func (c *runContext) addResumed() {
	c.mu.Lock()
	c.resumed++
	c.mu.Unlock()
}

// Close zeros every piece of key material the context holds.
func (c *runContext) Close() {
	if c == nil {
		return
	}
	c.keys.Close()
}

// FileError records a per-file failure that did not abort the whole backup.
type FileError struct {
	LocalPath string
	Err       error
}

// Result summarizes a completed (or partially completed) backup run.
type Result struct {
	BackupID      string
	FilesTotal    int // manifest entries (uploaded, copied forward, or resumed) plus files listed in Errors
	FilesUploaded int // files newly hashed/compressed/encrypted/uploaded this run
	FilesCopied   int // unchanged/metadata-changed files whose ciphertext was copied forward
	FilesSkipped  int // files a prior interrupted run already uploaded, not re-sent
	Errors        []FileError
	ManifestPath  string
}
