// Package manifest defines the self-describing root descriptor of a backup
// and its on-disk JSON encoding, signing, and validation.
package manifest

import (
	"encoding/json"
	"time"

	"github.com/nullmedev/skylock/internal/crypto"
	skerrors "github.com/nullmedev/skylock/internal/errors"
	"github.com/nullmedev/skylock/internal/sign"
)

// EncryptionVersion identifies the cipher/hash profile a backup was written
// with.
type EncryptionVersion string

const (
	V1 EncryptionVersion = "v1" // legacy, restore-only
	V2 EncryptionVersion = "v2"
)

// FileEntry describes one file captured by a backup.
type FileEntry struct {
	LocalPath  string    `json:"local_path"`
	RemotePath string    `json:"remote_path"`
	Size       int64     `json:"size"`
	Modified   time.Time `json:"modified"`
	Hash       string    `json:"hash"` // hex-encoded digest: 32 bytes, or 64 bytes (HMAC-SHA3-512) for paranoid v2 backups
	Compressed bool      `json:"compressed"`
	Encrypted  bool      `json:"encrypted"`
}

// Signature is the Ed25519 signature block attached to a signed manifest.
type Signature struct {
	Algorithm    string    `json:"algorithm"` // always "Ed25519"
	Fingerprint  string    `json:"fingerprint"`
	SignatureHex string    `json:"signature_hex"`
	SignedAt     time.Time `json:"signed_at"`
	KeyID        string    `json:"key_id"`
}

// BackupManifest is the self-describing root of every backup.
type BackupManifest struct {
	BackupID           string            `json:"backup_id"`
	Timestamp          time.Time         `json:"timestamp"`
	SourcePaths        []string          `json:"source_paths"`
	Files              []FileEntry       `json:"files"`
	TotalFiles         int               `json:"total_files"`
	TotalSize          int64             `json:"total_size"`
	EncryptionVersion  EncryptionVersion `json:"encryption_version"`
	KDFParams          *crypto.KDFParams `json:"kdf_params,omitempty"`
	BaseBackupID       string            `json:"base_backup_id,omitempty"`
	HashAlgorithm      string            `json:"hash_algorithm"`
	BackupChainVersion int64             `json:"backup_chain_version"`
	Signature          *Signature        `json:"signature,omitempty"`
}

// Validate checks the structural invariants of the data model: size
// accounting, hash-algorithm pairing with encryption_version, and the
// presence of kdf_params for v2. It does not check the signature or chain
// state; callers verify those separately, before full deserialization.
func (m *BackupManifest) Validate() error {
	if m.BackupID == "" {
		return skerrors.NewManifestError("backup_id", skerrors.ErrInvalidFormat)
	}
	if m.TotalFiles != len(m.Files) {
		return skerrors.NewManifestError("total_files", skerrors.ErrInvalidFormat)
	}

	var sum int64
	for i := range m.Files {
		sum += m.Files[i].Size
	}
	if sum != m.TotalSize {
		return skerrors.NewManifestError("total_size", skerrors.ErrInvalidFormat)
	}

	switch m.EncryptionVersion {
	case V1:
		if m.HashAlgorithm != "sha256" {
			return skerrors.NewManifestError("hash_algorithm", skerrors.ErrInvalidFormat)
		}
	case V2:
		if m.HashAlgorithm != "hmac-sha256" {
			return skerrors.NewManifestError("hash_algorithm", skerrors.ErrInvalidFormat)
		}
		if m.KDFParams == nil {
			return skerrors.NewManifestError("kdf_params", skerrors.ErrInvalidFormat)
		}
		if err := crypto.ValidateParams(*m.KDFParams); err != nil {
			return err
		}
	default:
		return skerrors.NewManifestError("encryption_version", skerrors.ErrVersionMismatch)
	}

	return nil
}

// Marshal encodes the manifest as indented JSON for upload.
func (m *BackupManifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Unmarshal decodes a manifest from JSON bytes.
func Unmarshal(data []byte) (*BackupManifest, error) {
	var m BackupManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, skerrors.NewManifestError("body", err)
	}
	return &m, nil
}

// envelope is the minimal shape needed to verify a signature before the full
// manifest is trusted enough to deserialize and traverse: verification
// must precede full deserialization.
type envelope struct {
	Signature *Signature `json:"signature"`
}

// VerifyEnvelope parses only the signature field from raw manifest bytes and
// verifies it against pub. The caller must not unmarshal the rest of the
// document (and must not call BackupManifest.Validate's traversal-dependent
// checks) until this returns nil.
func VerifyEnvelope(raw []byte, pub []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return skerrors.NewManifestError("signature", skerrors.ErrInvalidFormat)
	}
	if env.Signature == nil {
		return skerrors.NewManifestError("signature", skerrors.ErrSigningFailed)
	}

	canonical, err := sign.Canonicalize(raw)
	if err != nil {
		return err
	}

	return sign.Verify(pub, canonical, env.Signature.SignatureHex)
}

// Sign computes the canonical form of the manifest (signature field
// excluded) and attaches a fresh Signature populated with pub's fingerprint
// and keyID, signed at signedAt.
func (m *BackupManifest) Sign(priv, pub []byte, keyID string, signedAt time.Time) error {
	m.Signature = nil
	body, err := m.Marshal()
	if err != nil {
		return err
	}
	canonical, err := sign.Canonicalize(body)
	if err != nil {
		return err
	}

	m.Signature = &Signature{
		Algorithm:    "Ed25519",
		Fingerprint:  sign.Fingerprint(pub),
		SignatureHex: sign.Sign(priv, canonical),
		SignedAt:     signedAt,
		KeyID:        keyID,
	}
	return nil
}
