package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	skerrors "github.com/nullmedev/skylock/internal/errors"

	"golang.org/x/crypto/hkdf"
)

// NonceSize is the XChaCha20-Poly1305 nonce length used for every v2 chunk.
const NonceSize = 24

// DeriveChunkNonce derives the per-chunk nonce for the v2 AEAD scheme:
// the nonce is HKDF output
// seeded by the block key, the plaintext chunk's content hash, and the chunk
// index, and is prefixed to the chunk's ciphertext on the wire rather than
// stored separately. Two chunks with the same block key never reuse a nonce
// unless both content and index are identical.
func DeriveChunkNonce(blockKey, plaintextChunk []byte, chunkIndex uint64) ([]byte, error) {
	chunkHash := sha256.Sum256(plaintextChunk)
	info := fmt.Sprintf("skylock-nonce-v2-%d", chunkIndex)

	reader := hkdf.New(sha256.New, blockKey, chunkHash[:], []byte(info))
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(reader, nonce); err != nil {
		return nil, skerrors.NewCryptoError("hkdf", skerrors.ErrHKDFFailure)
	}
	return nonce, nil
}
