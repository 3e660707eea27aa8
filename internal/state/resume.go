// Package state persists per-backup ResumeState so an interrupted backup can
// continue without re-uploading already-completed files.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	skerrors "github.com/nullmedev/skylock/internal/errors"
)

// PurgeAfter is how long an untouched resume-state file is kept before it is
// considered abandoned.
const PurgeAfter = 7 * 24 * time.Hour

// Resume is the persistent state of one in-progress or interrupted backup.
type Resume struct {
	BackupID      string    `json:"backup_id"`
	StartedAt     time.Time `json:"started_at"`
	LastUpdated   time.Time `json:"last_updated"`
	SourcePaths   []string  `json:"source_paths"`
	UploadedFiles []string  `json:"uploaded_files"`
	TotalFiles    int       `json:"total_files"`

	mu sync.Mutex
}

// New creates fresh resume state for a backup about to start.
func New(backupID string, sourcePaths []string, totalFiles int, now time.Time) *Resume {
	return &Resume{
		BackupID:    backupID,
		StartedAt:   now,
		LastUpdated: now,
		SourcePaths: sourcePaths,
		TotalFiles:  totalFiles,
	}
}

// Path returns the fixed resume-state path for backupID.
func Path(dataDir, backupID string) string {
	return filepath.Join(dataDir, "resume_state", backupID+".json")
}

// Load reads resume state for backupID. A missing file yields (nil, nil).
func Load(dataDir, backupID string) (*Resume, error) {
	data, err := os.ReadFile(Path(dataDir, backupID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, skerrors.NewFileError("read", Path(dataDir, backupID), err)
	}

	var r Resume
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, skerrors.NewManifestError("resume_state", err)
	}
	return &r, nil
}

// Uploaded reports whether localPath has already been uploaded successfully.
func (r *Resume) Uploaded(localPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.UploadedFiles {
		if p == localPath {
			return true
		}
	}
	return false
}

// MarkUploaded records localPath as uploaded and persists the new state
// atomically (temp file + rename).
func (r *Resume) MarkUploaded(dataDir, localPath string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UploadedFiles = append(r.UploadedFiles, localPath)
	r.LastUpdated = now

	return r.save(dataDir)
}

// Save atomically persists resume state (write-to-temp + rename).
func Save(dataDir string, r *Resume) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(dataDir)
}

// save serializes, writes, and renames while holding r.mu, so concurrent
// workers' updates are totally ordered: the shared temp path is never
// written by two saves at once, and each rename publishes one complete
// snapshot.
func (r *Resume) save(dataDir string) error {
	dir := filepath.Join(dataDir, "resume_state")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return skerrors.NewFileError("mkdir", dir, err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return skerrors.NewManifestError("resume_state", err)
	}

	target := Path(dataDir, r.BackupID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return skerrors.NewFileError("write", tmp, err)
	}
	return os.Rename(tmp, target)
}

// Delete removes resume state after a backup completes successfully.
func Delete(dataDir, backupID string) error {
	err := os.Remove(Path(dataDir, backupID))
	if err != nil && !os.IsNotExist(err) {
		return skerrors.NewFileError("remove", Path(dataDir, backupID), err)
	}
	return nil
}

// PurgeStale deletes resume-state files whose last update is older than
// PurgeAfter, returning the backup IDs removed.
func PurgeStale(dataDir string, now time.Time) ([]string, error) {
	dir := filepath.Join(dataDir, "resume_state")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, skerrors.NewFileError("readdir", dir, err)
	}

	var purged []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		var r Resume
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		if now.Sub(r.LastUpdated) > PurgeAfter {
			if err := os.Remove(full); err == nil {
				purged = append(purged, r.BackupID)
			}
		}
	}
	return purged, nil
}
