// Package chain persists ChainState and enforces anti-rollback checks
// against incoming manifests.
package chain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	skerrors "github.com/nullmedev/skylock/internal/errors"
)

// State is the on-disk anti-rollback record.
type State struct {
	LatestVersion  int64     `json:"latest_version"`
	LatestBackupID string    `json:"latest_backup_id"`
	KeyFingerprint string    `json:"key_fingerprint"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Path returns the fixed chain-state path under dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "chain_state.json")
}

// Load reads the chain state from dataDir. A missing file is not an error:
// it reports the zero State, representing "no prior backup observed".
func Load(dataDir string) (*State, error) {
	data, err := os.ReadFile(Path(dataDir))
	if os.IsNotExist(err) {
		return &State{}, nil
	}
	if err != nil {
		return nil, skerrors.NewFileError("read", Path(dataDir), err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, skerrors.NewManifestError("chain_state", err)
	}
	return &s, nil
}

// Save atomically persists the chain state (write-to-temp + rename).
func Save(dataDir string, s *State) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return skerrors.NewFileError("mkdir", dataDir, err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return skerrors.NewManifestError("chain_state", err)
	}

	target := Path(dataDir)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return skerrors.NewFileError("write", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return skerrors.NewFileError("rename", target, err)
	}
	return nil
}

// Verify checks a newly observed manifest's chain version and signing key
// against the current state. allowKeyRotation bypasses the fingerprint
// check when the caller holds explicit rotation authorization.
func (s *State) Verify(chainVersion int64, keyFingerprint string, allowKeyRotation bool) error {
	if chainVersion <= s.LatestVersion {
		return skerrors.NewCryptoError("chain", skerrors.ErrChainRollback)
	}
	if s.KeyFingerprint != "" && s.KeyFingerprint != keyFingerprint && !allowKeyRotation {
		return skerrors.NewCryptoError("chain", skerrors.ErrKeyRotation)
	}
	return nil
}

// Advance records a newly verified manifest as the latest chain state.
func (s *State) Advance(backupID string, chainVersion int64, keyFingerprint string, now time.Time) {
	s.LatestVersion = chainVersion
	s.LatestBackupID = backupID
	s.KeyFingerprint = keyFingerprint
	s.LastUpdated = now
}
