package restore

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"

	"github.com/nullmedev/skylock/internal/compress"
	"github.com/nullmedev/skylock/internal/crypto"
	skerrors "github.com/nullmedev/skylock/internal/errors"
	"github.com/nullmedev/skylock/internal/manifest"
	"github.com/nullmedev/skylock/internal/storage"
)

// contentHashFromRemotePath recovers the 32-byte content hash a FileEntry's
// block key is derived from, parsing it back out of the "{hex}.enc" object
// key the backup engine wrote it under. This is the same trick
// copyUnchangedFile uses on the write side.
func contentHashFromRemotePath(remotePath string) ([32]byte, error) {
	var hash [32]byte
	base := strings.TrimSuffix(filepath.Base(remotePath), ".enc")
	raw, err := hex.DecodeString(base)
	if err != nil || len(raw) != len(hash) {
		return hash, skerrors.NewManifestError("remote_path", skerrors.ErrInvalidFormat)
	}
	copy(hash[:], raw)
	return hash, nil
}

// chunkDecryptFunc opens one wire chunk at chunkIndex. v1 ciphers ignore the
// index (the legacy format stores its nonce inline and never derived it from
// position); v2 ciphers require it to match the nonce HKDF derivation.
type chunkDecryptFunc func(wireChunk []byte, chunkIndex uint64) ([]byte, error)

// decryptStream reads fixed-size windows from r and feeds each to decrypt,
// reassembling the plaintext chunk stream. The wire format carries no
// explicit length or chunk count, so EOF is detected the same way a
// fixed-window reader always must: io.ReadFull's partial-read-then-EOF
// signals the final (possibly short) chunk, and a subsequent zero-byte EOF
// signals the stream is exhausted. This works uniformly for empty files
// (a single short chunk), exact-multiple-sized files (a string of full
// windows followed by a clean EOF), and compressed files, whose on-wire
// length has no fixed relationship to FileEntry.Size (the pre-compression
// plaintext size).
func decryptStream(r io.Reader, nonceSize, overhead int, decrypt chunkDecryptFunc) ([]byte, error) {
	windowSize := nonceSize + crypto.MaxChunkSize + overhead
	buf := make([]byte, windowSize)

	var out bytes.Buffer
	var chunkIndex uint64

	for {
		n, err := io.ReadFull(r, buf)
		switch err {
		case nil:
			plaintext, derr := decrypt(buf[:n], chunkIndex)
			if derr != nil {
				return nil, derr
			}
			out.Write(plaintext)
			chunkIndex++

		case io.ErrUnexpectedEOF:
			plaintext, derr := decrypt(buf[:n], chunkIndex)
			if derr != nil {
				return nil, derr
			}
			out.Write(plaintext)
			return out.Bytes(), nil

		case io.EOF:
			if chunkIndex == 0 {
				// Every file, including empty ones, produces at least one wire
				// chunk; zero chunks means the object is missing its ciphertext.
				return nil, skerrors.NewCryptoError("cipher", skerrors.ErrCorruptData)
			}
			return out.Bytes(), nil

		default:
			return nil, skerrors.NewFileError("read", "download-stream", err)
		}
	}
}

// decryptFile downloads, decrypts, decompresses, and hash-verifies one file
// from a backup manifest, returning its reconstructed plaintext. It never
// writes to disk; callers decide where the bytes land.
func decryptFile(ctx context.Context, rc *restoreContext, entry manifest.FileEntry) ([]byte, error) {
	if entry.Size > crypto.MaxPlaintextSize {
		return nil, skerrors.NewFileError("size", entry.LocalPath, skerrors.ErrSizeLimit)
	}

	contentHash, err := contentHashFromRemotePath(entry.RemotePath)
	if err != nil {
		return nil, err
	}

	var nonceSize, overhead int
	var decrypt chunkDecryptFunc

	switch rc.manifest.EncryptionVersion {
	case manifest.V1:
		// The legacy cipher zeros its key on Close; hand it a copy so the
		// shared master key survives for the other workers' files.
		legacyKey := append([]byte(nil), rc.keys.MasterKey...)
		legacy, err := crypto.NewLegacyChunkCipher(legacyKey)
		if err != nil {
			return nil, err
		}
		defer legacy.Close()
		nonceSize, overhead = legacy.NonceSize(), legacy.Overhead()
		decrypt = func(wireChunk []byte, _ uint64) ([]byte, error) {
			return legacy.DecryptChunk(wireChunk)
		}

	case manifest.V2:
		blockKey, err := crypto.DeriveBlockKey(rc.keys.MasterKey, contentHash, rc.opts.now())
		if err != nil {
			return nil, err
		}
		defer blockKey.Close()

		cc, err := crypto.NewChunkCipher(blockKey.Key, rc.opts.Paranoid)
		if err != nil {
			return nil, err
		}
		defer cc.Close()

		nonceSize, overhead = cc.NonceSize(), cc.Overhead()
		aad := crypto.AADString(rc.manifest.BackupID, string(manifest.V2), entry.LocalPath)
		decrypt = func(wireChunk []byte, chunkIndex uint64) ([]byte, error) {
			return cc.DecryptChunk(wireChunk, chunkIndex, aad)
		}

	default:
		return nil, skerrors.NewManifestError("encryption_version", skerrors.ErrVersionMismatch)
	}

	pr, pw := io.Pipe()
	downloadErr := make(chan error, 1)
	go func() {
		err := rc.backend.Download(ctx, entry.RemotePath, pw, storage.Options{})
		pw.CloseWithError(err)
		downloadErr <- err
	}()

	ciphertext, decErr := decryptStream(pr, nonceSize, overhead, decrypt)
	if decErr != nil {
		// Unblock a download goroutine that may still be mid-Write: decryptStream
		// bailed out without draining the rest of the pipe.
		pr.CloseWithError(decErr)
	}
	if err := <-downloadErr; err != nil && decErr == nil {
		return nil, skerrors.NewFileError("download", entry.RemotePath, err)
	}
	if decErr != nil {
		return nil, decErr
	}

	plaintext := ciphertext
	if entry.Compressed {
		plaintext, err = compress.Decompress(ciphertext)
		if err != nil {
			return nil, err
		}
	}

	if err := verifyFileHash(rc, entry, plaintext); err != nil {
		return nil, err
	}

	return plaintext, nil
}

// verifyFileHash recomputes a file's integrity digest the same way the
// backup engine did and compares it constant-time against the manifest's
// recorded value, after decompression.
func verifyFileHash(rc *restoreContext, entry manifest.FileEntry, plaintext []byte) error {
	fileHash, err := crypto.NewFileHash(string(rc.manifest.EncryptionVersion), rc.keys, rc.opts.Paranoid)
	if err != nil {
		return err
	}
	if _, err := fileHash.Write(plaintext); err != nil {
		return skerrors.NewCryptoError("mac", err)
	}

	expected, err := hex.DecodeString(entry.Hash)
	if err != nil {
		return skerrors.NewManifestError("hash", err)
	}
	if !crypto.VerifyHash(expected, fileHash.Sum(nil)) {
		return skerrors.NewCryptoError("mac", skerrors.ErrHashMismatch)
	}
	return nil
}
