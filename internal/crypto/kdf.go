// Package crypto provides the cryptographic core for skylock backups.
// This is AUDIT-CRITICAL code - changes here directly affect encryption/decryption
// of every backup produced by this module.
package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"io"

	skerrors "github.com/nullmedev/skylock/internal/errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// RandomBytes generates n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, skerrors.NewCryptoError("rand", err)
	}

	allZero := true
	for _, v := range b {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, skerrors.NewCryptoError("rand", skerrors.ErrRandFailure)
	}

	return b, nil
}

// Argon2id parameter floors. Manifests whose kdf_params fall below these are
// rejected on load regardless of which profile produced them.
const (
	MemoryCostFloorKiB = 65536 // 64 MiB
	TimeCostFloor      = 3

	SaltSize = 16
	KeySize  = 32
)

// KDFParams is the persisted Argon2id configuration bound into a manifest.
// Field names mirror the manifest's kdf_params JSON object.
type KDFParams struct {
	Algorithm   string `json:"algorithm"`
	MemoryCost  uint32 `json:"memory_cost"` // KiB
	TimeCost    uint32 `json:"time_cost"`
	Parallelism uint8  `json:"parallelism"`
	Salt        []byte `json:"salt"`
	OutputLen   uint32 `json:"output_len"`
}

// NewBalancedParams returns the default profile: 64 MiB, t=4, p=4.
func NewBalancedParams() (KDFParams, error) {
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return KDFParams{}, err
	}
	return KDFParams{
		Algorithm:   "Argon2id",
		MemoryCost:  MemoryCostFloorKiB,
		TimeCost:    4,
		Parallelism: 4,
		Salt:        salt,
		OutputLen:   KeySize,
	}, nil
}

// NewParanoidParams returns the paranoid profile: 512 MiB, t=8, p=8.
func NewParanoidParams() (KDFParams, error) {
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return KDFParams{}, err
	}
	return KDFParams{
		Algorithm:   "Argon2id",
		MemoryCost:  8 * MemoryCostFloorKiB,
		TimeCost:    8,
		Parallelism: 8,
		Salt:        salt,
		OutputLen:   KeySize,
	}, nil
}

// ValidateParams enforces the KDF downgrade policy: any manifest whose
// parameters fall below the floor is rejected before a key is ever derived.
func ValidateParams(p KDFParams) error {
	if p.Algorithm != "Argon2id" {
		return skerrors.NewCryptoError("kdf", skerrors.ErrVersionMismatch)
	}
	if p.MemoryCost < MemoryCostFloorKiB || p.TimeCost < TimeCostFloor {
		return skerrors.NewCryptoError("kdf", skerrors.ErrKDFDowngrade)
	}
	if len(p.Salt) < SaltSize {
		return skerrors.NewCryptoError("kdf", skerrors.ErrKDFDowngrade)
	}
	if p.Parallelism == 0 || p.OutputLen == 0 {
		return skerrors.NewCryptoError("kdf", skerrors.ErrKDFDowngrade)
	}
	return nil
}

// DeriveKey runs Argon2id over password and params, producing the master key.
//
// CRITICAL: params MUST NOT be altered for an existing manifest or its
// ciphertext becomes permanently undecryptable.
func DeriveKey(password []byte, params KDFParams) ([]byte, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}

	key := argon2.IDKey(password, params.Salt, params.TimeCost, params.MemoryCost, params.Parallelism, params.OutputLen)

	if bytes.Equal(key, make([]byte, len(key))) {
		return nil, skerrors.NewCryptoError("argon2", skerrors.ErrKeyDerivation)
	}

	return key, nil
}

// deriveSubkey expands masterKey into a purpose-bound subkey via HKDF-SHA256.
// Each call site uses a distinct info string for domain separation; unlike a
// single sequential HKDF stream, subkeys derived this way have no read-order
// dependency on each other.
func deriveSubkey(masterKey []byte, info string, size int) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	out := make([]byte, size)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, skerrors.NewCryptoError("hkdf", skerrors.ErrHKDFFailure)
	}
	return out, nil
}

// HMAC subkey info string for file-integrity key derivation.
const hmacSubkeyInfo = "skylock-hmac-v1"

// DeriveHMACSubkey derives the file-integrity HMAC key from the master key.
func DeriveHMACSubkey(masterKey []byte) ([]byte, error) {
	return deriveSubkey(masterKey, hmacSubkeyInfo, KeySize)
}

const serpentSubkeyInfo = "skylock-serpent-v1"

// DeriveSerpentSubkey derives the paranoid-mode Serpent cascade key.
func DeriveSerpentSubkey(masterKey []byte) ([]byte, error) {
	return deriveSubkey(masterKey, serpentSubkeyInfo, KeySize)
}
