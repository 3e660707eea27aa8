// Package crypto provides cryptographic primitives for skylock backups.
// This file contains memory zeroing utilities for secure cleanup of sensitive data.

package crypto

import (
	"crypto/subtle"
	"hash"
)

// SecureZero overwrites a byte slice with zeros to prevent sensitive data
// from persisting in memory. This helps mitigate memory dump attacks and
// reduces the window during which keys are recoverable from RAM.
//
// Due to Go's garbage collector and potential compiler optimizations, this
// function cannot guarantee complete erasure, but it meaningfully reduces
// the attack surface compared to no cleanup. subtle.ConstantTimeCopy is used
// so the compiler cannot optimize the write away.
func SecureZero(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// SecureZeroMultiple zeros multiple byte slices in a single call.
func SecureZeroMultiple(slices ...[]byte) {
	for _, s := range slices {
		SecureZero(s)
	}
}

// SecureZeroHash resets a hash.Hash state to prevent partial hash data from
// remaining in memory. Not all Hash implementations fully clear internal
// state on Reset().
func SecureZeroHash(h hash.Hash) {
	if h != nil {
		h.Reset()
	}
}

// MasterKeyContext owns every secret derived from one password for the
// duration of a backup or restore operation: the Argon2id master key and
// the file-integrity HMAC subkey. Close() zeros both; callers defer it
// immediately after construction so the material is released on every exit
// path. The per-file Serpent cascade key is not held here: it is derived
// from each file's block key inside ChunkCipher, which zeros it itself.
type MasterKeyContext struct {
	MasterKey  []byte
	HMACSubkey []byte
	closed     bool
}

// NewMasterKeyContext takes ownership of masterKey and derives the HMAC
// subkey up front, so concurrent workers share one derived copy with a
// single owner instead of each deriving (and leaking) their own.
func NewMasterKeyContext(masterKey []byte) (*MasterKeyContext, error) {
	subkey, err := DeriveHMACSubkey(masterKey)
	if err != nil {
		SecureZero(masterKey)
		return nil, err
	}
	return &MasterKeyContext{MasterKey: masterKey, HMACSubkey: subkey}, nil
}

// Close securely zeros all cryptographic materials. Idempotent.
func (mc *MasterKeyContext) Close() {
	if mc == nil || mc.closed {
		return
	}
	SecureZeroMultiple(mc.MasterKey, mc.HMACSubkey)
	mc.MasterKey = nil
	mc.HMACSubkey = nil
	mc.closed = true
}

// String never exposes key bytes.
func (mc *MasterKeyContext) String() string {
	return "[REDACTED]"
}
