// Package index tracks per-file size/mtime/hash state between backups so
// incremental runs can classify what changed without re-hashing everything.
package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	skerrors "github.com/nullmedev/skylock/internal/errors"
)

// Entry is the recorded state of one tracked file.
type Entry struct {
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Hash     string    `json:"hash"` // SHA-256 of plaintext, independent of manifest hash_algorithm
}

// Index is the persistent change-tracker state for a set of directories.
type Index struct {
	TrackedDirs []string         `json:"tracked_dirs"`
	Files       map[string]Entry `json:"files"`
	CreatedAt   time.Time        `json:"created_at"`
	BackupID    string           `json:"backup_id,omitempty"`
}

// New creates an empty index over the given directories.
func New(trackedDirs []string, now time.Time) *Index {
	return &Index{
		TrackedDirs: trackedDirs,
		Files:       make(map[string]Entry),
		CreatedAt:   now,
	}
}

// LatestPath returns the path of the "most recent snapshot" index.
func LatestPath(dataDir string) string {
	return filepath.Join(dataDir, "indexes", "latest.index.json")
}

// BackupPath returns the per-backup index path.
func BackupPath(dataDir, backupID string) string {
	return filepath.Join(dataDir, "indexes", backupID+".index.json")
}

// Load reads an index file. A missing file yields (nil, nil): "no previous
// index", which the engine must treat as "fall back to a full backup".
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, skerrors.NewFileError("read", path, err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, skerrors.NewManifestError("index", err)
	}
	return &idx, nil
}

// Save atomically persists the index (write-to-temp + rename).
func Save(path string, idx *Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return skerrors.NewFileError("mkdir", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return skerrors.NewManifestError("index", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return skerrors.NewFileError("write", tmp, err)
	}
	return os.Rename(tmp, path)
}

// Classification is the change-tracker verdict for one file.
type Classification int

const (
	Added Classification = iota
	Modified
	MetadataChanged
	Removed
	Unchanged
)

func (c Classification) String() string {
	switch c {
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case MetadataChanged:
		return "MetadataChanged"
	case Removed:
		return "Removed"
	case Unchanged:
		return "Unchanged"
	default:
		return "Unknown"
	}
}

// Included reports whether a classification should be included in a backup.
func (c Classification) Included() bool {
	return c == Added || c == Modified
}

// CurrentFile is what the scanner observed for one path during the current
// pass, before (lazy) hashing.
type CurrentFile struct {
	Size     int64
	Modified time.Time
}

// Classify compares a scanned file against the previous index entry. For a
// path the previous index tracks, hash is invoked lazily: only when size or
// mtime disagree. A path the previous index does not track, and every path
// when prev is nil, is hashed and classified Added.
func Classify(prev *Index, path string, current CurrentFile, hash func() (string, error)) (Classification, string, error) {
	if prev == nil {
		h, err := hash()
		if err != nil {
			return Added, "", err
		}
		return Added, h, nil
	}

	old, existed := prev.Files[path]
	if !existed {
		h, err := hash()
		if err != nil {
			return Added, "", err
		}
		return Added, h, nil
	}

	if old.Size == current.Size && old.Modified.Equal(current.Modified) {
		return Unchanged, old.Hash, nil
	}

	h, err := hash()
	if err != nil {
		return Modified, "", err
	}
	if h == old.Hash {
		return MetadataChanged, h, nil
	}
	return Modified, h, nil
}

// RemovedPaths reports which paths from prev no longer appear in seen.
func RemovedPaths(prev *Index, seen map[string]struct{}) []string {
	if prev == nil {
		return nil
	}
	var removed []string
	for path := range prev.Files {
		if _, ok := seen[path]; !ok {
			removed = append(removed, path)
		}
	}
	return removed
}
