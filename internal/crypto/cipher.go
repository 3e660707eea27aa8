package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	skerrors "github.com/nullmedev/skylock/internal/errors"
	"github.com/nullmedev/skylock/internal/util"

	"github.com/Picocrypt/serpent"
	"golang.org/x/crypto/chacha20poly1305"
)

// MaxChunkSize is the plaintext size of every chunk except possibly the
// last.
const MaxChunkSize = 1 << 20

// MaxPlaintextSize is the hard ceiling the restore path rejects before
// allocating or downloading anything.
const MaxPlaintextSize = 10 * util.GiB

// AADString builds the AAD bound to every v2 ciphertext chunk. The literal
// "AES-256-GCM" token is part of the fixed wire format even though the
// chunk AEAD is XChaCha20-Poly1305; changing the
// token would make every existing manifest's AAD unverifiable.
func AADString(backupID, encryptionVersion, filePath string) []byte {
	return []byte(backupID + "|AES-256-GCM|" + encryptionVersion + "|" + filePath)
}

// ChunkCipher seals and opens a single file's chunk stream under the v2 AEAD
// scheme. One ChunkCipher is created per file; chunk_index must increase by
// exactly one between calls in either direction.
type ChunkCipher struct {
	aead     cipher.AEAD
	blockKey []byte

	counter    *Counter
	generation uint32

	paranoid      bool
	serpentBlock  cipher.Block
	serpentSubkey []byte
}

// NewChunkCipher builds the v2 chunk cipher for a file's block key. If
// paranoid is true, every sealed chunk is additionally cascaded through a
// Serpent-CTR layer keyed by a dedicated HKDF subkey, applied over the
// already-authenticated chunk rather than underneath a separately
// accumulated MAC.
func NewChunkCipher(blockKey []byte, paranoid bool) (*ChunkCipher, error) {
	aead, err := chacha20poly1305.NewX(blockKey)
	if err != nil {
		return nil, skerrors.NewCryptoError("cipher", err)
	}

	cc := &ChunkCipher{aead: aead, blockKey: blockKey, counter: NewCounter(), paranoid: paranoid}

	if paranoid {
		subkey, err := DeriveSerpentSubkey(blockKey)
		if err != nil {
			return nil, err
		}
		block, err := serpent.NewCipher(subkey)
		if err != nil {
			return nil, skerrors.NewCryptoError("cipher", err)
		}
		cc.serpentBlock = block
		cc.serpentSubkey = subkey
	}

	return cc, nil
}

// cascade applies a Serpent-CTR keystream for the paranoid cascade, with the
// IV taken from the chunk's own nonce so distinct chunks never share a stream.
func (c *ChunkCipher) cascade(dst, src []byte, nonce []byte) {
	iv := nonce[:16]
	stream := cipher.NewCTR(c.serpentBlock, iv)
	stream.XORKeyStream(dst, src)
}

// EncryptChunk seals plaintext and returns the wire chunk: a 24-byte nonce
// prefix followed by AEAD ciphertext+tag (and, in paranoid mode, cascaded
// through Serpent-CTR).
func (c *ChunkCipher) EncryptChunk(plaintext []byte, chunkIndex uint64, aad []byte) ([]byte, error) {
	nonce, err := DeriveChunkNonce(c.blockKey, plaintext, chunkIndex)
	if err != nil {
		return nil, err
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, aad)

	if c.paranoid {
		c.cascade(sealed, sealed, nonce)
	}

	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)

	if err := c.maybeRekey(len(plaintext)); err != nil {
		return nil, err
	}
	return out, nil
}

// maybeRekey retires the AEAD key once the byte counter crosses the rekey
// threshold, deriving the next generation's key from the block key. Seal and
// open both count plaintext bytes, so encryptor and decryptor rotate in
// lockstep with nothing extra on the wire.
func (c *ChunkCipher) maybeRekey(plaintextLen int) error {
	if !c.counter.Add(plaintextLen) {
		return nil
	}
	c.generation++
	next, err := deriveSubkey(c.blockKey, fmt.Sprintf("skylock-rekey-%d", c.generation), KeySize)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(next)
	SecureZero(next)
	if err != nil {
		return skerrors.NewCryptoError("cipher", err)
	}
	c.aead = aead
	c.counter.Reset()
	return nil
}

// DecryptChunk reverses EncryptChunk. chunkIndex must match the index used
// at encryption time: after the AEAD opens, the nonce prefix is compared
// against the nonce re-derived from the opened plaintext and chunkIndex, and
// a mismatch is rejected like a tag failure.
func (c *ChunkCipher) DecryptChunk(wireChunk []byte, chunkIndex uint64, aad []byte) ([]byte, error) {
	if len(wireChunk) < NonceSize {
		return nil, skerrors.NewCryptoError("cipher", skerrors.ErrCorruptData)
	}

	nonce := wireChunk[:NonceSize]
	sealed := make([]byte, len(wireChunk)-NonceSize)
	copy(sealed, wireChunk[NonceSize:])

	if c.paranoid {
		c.cascade(sealed, sealed, nonce)
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, skerrors.NewCryptoError("cipher", skerrors.ErrTagMismatch)
	}

	expected, err := DeriveChunkNonce(c.blockKey, plaintext, chunkIndex)
	if err != nil {
		return nil, err
	}
	if !VerifyHash(expected, nonce) {
		SecureZero(plaintext)
		return nil, skerrors.NewCryptoError("cipher", skerrors.ErrTagMismatch)
	}

	if err := c.maybeRekey(len(plaintext)); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Overhead returns the number of bytes EncryptChunk adds beyond the nonce
// prefix (i.e. the AEAD tag length), so callers can size read buffers for a
// known plaintext chunk length without probing the stream.
func (c *ChunkCipher) Overhead() int {
	return c.aead.Overhead()
}

// NonceSize returns the v2 XChaCha20-Poly1305 nonce length (always NonceSize).
func (c *ChunkCipher) NonceSize() int {
	return NonceSize
}

// Close zeros the cipher's key material.
func (c *ChunkCipher) Close() {
	if c == nil {
		return
	}
	SecureZero(c.blockKey)
	SecureZero(c.serpentSubkey)
	c.aead = nil
	c.serpentBlock = nil
}

// LegacyChunkCipher decrypts v1 volumes: AES-256-GCM with the nonce stored
// explicitly (not HKDF-derived). v1 is restore-only; skylock never writes new
// v1 ciphertext.
type LegacyChunkCipher struct {
	aead cipher.AEAD
	key  []byte
}

// NewLegacyChunkCipher builds a v1 AES-256-GCM cipher from the master key.
func NewLegacyChunkCipher(masterKey []byte) (*LegacyChunkCipher, error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, skerrors.NewCryptoError("cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, skerrors.NewCryptoError("cipher", err)
	}
	return &LegacyChunkCipher{aead: aead, key: masterKey}, nil
}

// DecryptChunk opens a v1 wire chunk: a stored 12-byte nonce prefix followed
// by AES-256-GCM ciphertext+tag. There is no AAD in the legacy format.
func (l *LegacyChunkCipher) DecryptChunk(wireChunk []byte) ([]byte, error) {
	nonceSize := l.aead.NonceSize()
	if len(wireChunk) < nonceSize {
		return nil, skerrors.NewCryptoError("cipher", skerrors.ErrCorruptData)
	}
	nonce := wireChunk[:nonceSize]
	sealed := wireChunk[nonceSize:]

	plaintext, err := l.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, skerrors.NewCryptoError("cipher", skerrors.ErrTagMismatch)
	}
	return plaintext, nil
}

// EncryptChunk is provided only to synthesize v1 fixtures in tests (the
// crypto package's legacy round-trip test); the backup engine never calls it.
func (l *LegacyChunkCipher) EncryptChunk(plaintext, nonce []byte) ([]byte, error) {
	if len(nonce) != l.aead.NonceSize() {
		return nil, skerrors.NewValidationError("nonce", "must be 12 bytes for AES-256-GCM")
	}
	sealed := l.aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// NonceSize returns the legacy (v1) AES-256-GCM nonce length.
func (l *LegacyChunkCipher) NonceSize() int {
	return l.aead.NonceSize()
}

// Overhead returns the legacy (v1) AEAD tag length.
func (l *LegacyChunkCipher) Overhead() int {
	return l.aead.Overhead()
}

// Close zeros the legacy cipher's key material.
func (l *LegacyChunkCipher) Close() {
	if l == nil {
		return
	}
	SecureZero(l.key)
	l.aead = nil
}
