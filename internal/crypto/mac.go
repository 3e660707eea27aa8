package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"hash"

	skerrors "github.com/nullmedev/skylock/internal/errors"

	"golang.org/x/crypto/sha3"
)

// NewFileHash returns the streaming hash used for a FileEntry's integrity
// digest: plain SHA-256 for v1 (legacy restore only), HMAC-SHA256 keyed by
// keys.HMACSubkey for v2. Paranoid v2 volumes use HMAC-SHA3-512 instead,
// a wider, slower digest for the paranoid profile. keys may be nil for v1,
// which needs no key material.
func NewFileHash(encryptionVersion string, keys *MasterKeyContext, paranoid bool) (hash.Hash, error) {
	switch encryptionVersion {
	case "v1":
		return sha256.New(), nil
	case "v2":
		if keys == nil || keys.HMACSubkey == nil {
			return nil, skerrors.NewCryptoError("mac", skerrors.ErrKeyDerivation)
		}
		if paranoid {
			return hmac.New(sha3.New512, keys.HMACSubkey), nil
		}
		return hmac.New(sha256.New, keys.HMACSubkey), nil
	default:
		return nil, skerrors.NewCryptoError("mac", skerrors.ErrVersionMismatch)
	}
}

// VerifyHash performs a constant-time comparison of two digests, as required
// for tag, HMAC, and fingerprint comparisons throughout this package.
func VerifyHash(expected, actual []byte) bool {
	if len(expected) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare(expected, actual) == 1
}
