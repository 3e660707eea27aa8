package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/nullmedev/skylock/internal/compress"
	"github.com/nullmedev/skylock/internal/crypto"
	skerrors "github.com/nullmedev/skylock/internal/errors"
	"github.com/nullmedev/skylock/internal/log"
	"github.com/nullmedev/skylock/internal/manifest"
	"github.com/nullmedev/skylock/internal/progress"
	"github.com/nullmedev/skylock/internal/ratelimit"
	"github.com/nullmedev/skylock/internal/storage"
	"github.com/nullmedev/skylock/internal/util"
)

// workItem is one file the scanner discovered that the change tracker has
// not excluded.
type workItem struct {
	localPath string
	size      int64
	modified  time.Time
}

// processFile runs the per-file pipeline: hash, compress,
// encrypt, throttle, upload, record. crypto.DeriveBlockKey needs a file's
// complete content hash before it can produce the key the first chunk is
// sealed under, so processFile reads the file twice, both times through
// pooled buffers rather than a single full-file allocation, so hashing
// stays streamed instead of accumulated: probeFile establishes the
// content hash and compression decision, then streamEncryptFile performs
// the actual seal-and-upload pass.
func processFile(ctx context.Context, rc *runContext, item workItem) (manifest.FileEntry, error) {
	logger := rc.opts.logger()

	contentHash, shouldCompress, err := probeFile(item.localPath, item.size, rc.opts.compression())
	if err != nil {
		return manifest.FileEntry{}, err
	}

	blockKey, err := crypto.DeriveBlockKey(rc.keys.MasterKey, contentHash, rc.now)
	if err != nil {
		return manifest.FileEntry{}, err
	}
	defer blockKey.Close()

	cipher, err := crypto.NewChunkCipher(blockKey.Key, rc.opts.Paranoid)
	if err != nil {
		return manifest.FileEntry{}, err
	}
	defer cipher.Close()

	fileHash, err := crypto.NewFileHash("v2", rc.keys, rc.opts.Paranoid)
	if err != nil {
		return manifest.FileEntry{}, err
	}

	remotePath := remotePathFor(rc.opts.BackupRoot, rc.backupID, contentHash)
	aad := crypto.AADString(rc.backupID, "v2", item.localPath)

	pr, pw := io.Pipe()
	uploadErr := make(chan error, 1)
	go func() {
		_, err := rc.backend.Upload(ctx, remotePath, pr, -1, storage.Options{})
		uploadErr <- err
	}()

	writeErr := streamEncryptFile(ctx, item.localPath, shouldCompress, rc.opts.compression(), cipher, fileHash, aad, pw, rc.throttle)
	pw.CloseWithError(writeErr)
	upErr := <-uploadErr
	if writeErr != nil {
		// The encrypt side failed first; the upload error it provoked by
		// closing the pipe is just noise.
		return manifest.FileEntry{}, writeErr
	}
	if upErr != nil {
		return manifest.FileEntry{}, skerrors.NewFileError("upload", remotePath, upErr)
	}

	rc.reporter.Report(progress.PhaseUpload, item.size, item.size)
	logger.Debug("file uploaded", log.String("path", item.localPath), log.Int64("size", item.size))

	return manifest.FileEntry{
		LocalPath:  item.localPath,
		RemotePath: remotePath,
		Size:       item.size,
		Modified:   item.modified,
		Hash:       hex.EncodeToString(fileHash.Sum(nil)),
		Compressed: shouldCompress,
		Encrypted:  true,
	}, nil
}

// probeFile makes one streamed pass over path to compute its whole-file
// SHA-256 content hash (the input to crypto.DeriveBlockKey) and, for files
// above compress.MinCompressSize, whether zstd would actually shrink it
// (the compress transparency fallback). Both passes read through a
// single pooled 1 MiB buffer rather than a full-file copy.
func probeFile(path string, size int64, level compress.Level) (contentHash [32]byte, shouldCompress bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return contentHash, false, skerrors.NewFileError("open", path, err)
	}
	defer f.Close()

	hasher := sha256.New()
	buf := util.MiBPool.Get()
	defer util.MiBPool.Put(buf)

	if level == compress.None || size <= compress.MinCompressSize {
		if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
			return contentHash, false, skerrors.NewFileError("read", path, err)
		}
		copy(contentHash[:], hasher.Sum(nil))
		return contentHash, false, nil
	}

	type probeResult struct {
		size int64
		err  error
	}
	pr, pw := io.Pipe()
	resultCh := make(chan probeResult, 1)
	go func() {
		n, err := compress.ProbeSize(pr, level)
		resultCh <- probeResult{n, err}
	}()

	tee := io.TeeReader(f, hasher)
	_, copyErr := io.CopyBuffer(pw, tee, buf)
	pw.CloseWithError(copyErr)
	res := <-resultCh
	if copyErr != nil {
		return contentHash, false, skerrors.NewFileError("read", path, copyErr)
	}
	if res.err != nil {
		return contentHash, false, res.err
	}

	copy(contentHash[:], hasher.Sum(nil))
	return contentHash, res.size < size, nil
}

// streamEncryptFile re-reads path, optionally compressing it, and writes the
// sealed chunk stream to w in MaxChunkSize pieces (post-compression,
// matching the scan->hash->compress->encrypt pipeline ordering). fileHash
// accumulates the plaintext HMAC as bytes are read off disk, so the
// manifest's integrity digest never needs a second full read. Compression,
// when used, runs in a goroutine feeding an io.Pipe, so the chunk loop below
// only ever sees pooled-buffer-sized windows of whichever stream it reads.
func streamEncryptFile(ctx context.Context, path string, compressed bool, level compress.Level, cipher *crypto.ChunkCipher, fileHash hash.Hash, aad []byte, w io.Writer, throttle *ratelimit.Throttle) error {
	f, err := os.Open(path)
	if err != nil {
		return skerrors.NewFileError("open", path, err)
	}
	defer f.Close()

	tee := io.TeeReader(f, fileHash)

	var src io.Reader = tee
	var pr *io.PipeReader
	var wg sync.WaitGroup
	if compressed {
		var pw *io.PipeWriter
		pr, pw = io.Pipe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			enc, encErr := compress.NewStreamWriter(pw, level)
			if encErr != nil {
				pw.CloseWithError(encErr)
				return
			}
			if _, copyErr := io.Copy(enc, tee); copyErr != nil {
				enc.Close()
				pw.CloseWithError(copyErr)
				return
			}
			if closeErr := enc.Close(); closeErr != nil {
				pw.CloseWithError(closeErr)
				return
			}
			pw.Close()
		}()
		src = pr
	}
	defer func() {
		if pr != nil {
			pr.Close()
		}
		wg.Wait()
	}()

	buf := util.MiBPool.Get()
	defer util.MiBPool.Put(buf)

	var chunkIndex uint64
	var wroteAny bool
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if err := sealAndWrite(ctx, cipher, buf[:n], chunkIndex, aad, w, throttle); err != nil {
				return err
			}
			chunkIndex++
			wroteAny = true
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return skerrors.NewFileError("read", path, readErr)
		}
	}

	if !wroteAny {
		// Every file, including empty ones, produces at least one wire
		// chunk; decryptStream's EOF handling depends on it.
		if err := sealAndWrite(ctx, cipher, nil, 0, aad, w, throttle); err != nil {
			return err
		}
	}
	return nil
}

// sealAndWrite encrypts one chunk, waits on the bandwidth throttle for its
// wire size, and writes it to w.
func sealAndWrite(ctx context.Context, cipher *crypto.ChunkCipher, plaintext []byte, chunkIndex uint64, aad []byte, w io.Writer, throttle *ratelimit.Throttle) error {
	wire, err := cipher.EncryptChunk(plaintext, chunkIndex, aad)
	if err != nil {
		return err
	}
	if err := throttle.Wait(ctx, len(wire)); err != nil {
		return skerrors.NewCryptoError("throttle", err)
	}
	if _, err := w.Write(wire); err != nil {
		return skerrors.NewFileError("write", "upload-stream", err)
	}
	return nil
}

// copyUnchangedFile re-uploads a file that the change tracker excluded,
// preserving its previously recorded manifest fields but re-pointing
// remote_path at the new backup's own object prefix: unchanged-file
// ciphertext is always copied forward, never referenced by pointer into a
// prior backup.
func copyUnchangedFile(ctx context.Context, rc *runContext, prevEntry manifest.FileEntry) (manifest.FileEntry, error) {
	contentHashHex := path.Base(prevEntry.RemotePath)
	newRemotePath := path.Join(rc.opts.BackupRoot, rc.backupID, contentHashHex)

	if err := storage.CopyFallback(ctx, rc.backend, prevEntry.RemotePath, newRemotePath); err != nil {
		return manifest.FileEntry{}, skerrors.NewFileError("copy", prevEntry.RemotePath, err)
	}

	entry := prevEntry
	entry.RemotePath = newRemotePath
	return entry, nil
}

// remotePathFor builds the object key a content hash is stored under:
// "{backup_root}/{backup_id}/{content-hash}.enc".
func remotePathFor(backupRoot, backupID string, contentHash [32]byte) string {
	return path.Join(backupRoot, backupID, hex.EncodeToString(contentHash[:])+".enc")
}

// resumeFile rebuilds the manifest entry for a file a prior interrupted run
// already uploaded, without re-encrypting or re-sending its ciphertext. The
// resume record is trusted only while the object it points at still exists;
// a stale record falls back to a fresh upload.
func resumeFile(ctx context.Context, rc *runContext, item workItem) (entry manifest.FileEntry, reused bool, err error) {
	contentHash, shouldCompress, err := probeFile(item.localPath, item.size, rc.opts.compression())
	if err != nil {
		return manifest.FileEntry{}, false, err
	}
	remotePath := remotePathFor(rc.opts.BackupRoot, rc.backupID, contentHash)

	exists, err := rc.backend.Exists(ctx, remotePath)
	if err != nil {
		return manifest.FileEntry{}, false, err
	}
	if !exists {
		entry, err := processFile(ctx, rc, item)
		return entry, false, err
	}

	fileHash, err := crypto.NewFileHash("v2", rc.keys, rc.opts.Paranoid)
	if err != nil {
		return manifest.FileEntry{}, false, err
	}
	if err := hashInto(item.localPath, fileHash); err != nil {
		return manifest.FileEntry{}, false, err
	}

	return manifest.FileEntry{
		LocalPath:  item.localPath,
		RemotePath: remotePath,
		Size:       item.size,
		Modified:   item.modified,
		Hash:       hex.EncodeToString(fileHash.Sum(nil)),
		Compressed: shouldCompress,
		Encrypted:  true,
	}, true, nil
}

// hashInto streams path's plaintext through h using a pooled buffer.
func hashInto(filePath string, h hash.Hash) error {
	f, err := os.Open(filePath)
	if err != nil {
		return skerrors.NewFileError("open", filePath, err)
	}
	defer f.Close()

	buf := util.MiBPool.Get()
	defer util.MiBPool.Put(buf)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return skerrors.NewFileError("read", filePath, err)
	}
	return nil
}
