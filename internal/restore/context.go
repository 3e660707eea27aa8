package restore

import (
	"sync"

	"github.com/nullmedev/skylock/internal/crypto"
	"github.com/nullmedev/skylock/internal/manifest"
	"github.com/nullmedev/skylock/internal/progress"
	"github.com/nullmedev/skylock/internal/storage"
)

// restoreContext carries the state one Restore or Verify run threads through
// its worker pool, mirroring engine.runContext's shape for the symmetric
// pipeline on the read side.
type restoreContext struct {
	opts     *Options
	manifest *manifest.BackupManifest
	keys     *crypto.MasterKeyContext
	backend  *storage.Retrying
	reporter progress.Reporter

	mu        sync.Mutex
	restored  int64
	skipped   int64
	failed    int64
	corrupted int64
	conflicts int64
	errList   []FileError
}

func (c *restoreContext) recordError(localPath string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errList = append(c.errList, FileError{LocalPath: localPath, Err: err})
	c.failed++
}

func (c *restoreContext) recordCorrupt(localPath string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errList = append(c.errList, FileError{LocalPath: localPath, Err: err})
	c.failed++
	c.corrupted++
}

func (c *restoreContext) addRestored() {
	c.mu.Lock()
	c.restored++
	c.mu.Unlock()
}

func (c *restoreContext) addSkipped() {
	c.mu.Lock()
	c.skipped++
	c.mu.Unlock()
}

func (c *restoreContext) addConflict() {
	c.mu.Lock()
	c.conflicts++
	c.mu.Unlock()
}

// Close zeros the derived key material.
func (c *restoreContext) Close() {
	if c == nil {
		return
	}
	c.keys.Close()
}
