// Package compress wraps zstd compression with the level mapping and
// transparency fallback the backup engine applies before encryption.
package compress

import (
	"bytes"
	"io"

	skerrors "github.com/nullmedev/skylock/internal/errors"

	"github.com/klauspost/compress/zstd"
)

// Level names the configurable compression levels. None disables
// compression entirely; other values in 0-22 are accepted as custom levels
// and mapped onto one of zstd's four encoder presets by toEncoderLevel.
type Level int

const (
	None     Level = -1
	Fast     Level = 1
	Balanced Level = 3
	Good     Level = 6
	Best     Level = 9
)

// DefaultLevel is what callers get when they don't pick a level.
const DefaultLevel = Balanced

// MinCompressSize is the plaintext size threshold above which compression is
// attempted at all.
const MinCompressSize = 10 << 20

// toEncoderLevel maps our level scale (Fast..Best, or a custom 0-22 value)
// onto zstd's own EncoderLevel enum. None never reaches here; callers skip
// compression outright for it.
func toEncoderLevel(level Level) zstd.EncoderLevel {
	switch {
	case int(level) <= 1:
		return zstd.SpeedFastest
	case int(level) <= 3:
		return zstd.SpeedDefault
	case int(level) <= 6:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Compress zstd-frames plaintext at level. If size > MinCompressSize and the
// compressed output is not smaller than the input, the plaintext is returned
// unmodified with compressed=false (transparency fallback). Inputs at
// or below MinCompressSize, and any input at level None, are never
// compressed.
func Compress(plaintext []byte, level Level) (output []byte, compressed bool, err error) {
	if level == None || len(plaintext) <= MinCompressSize {
		return plaintext, false, nil
	}

	var out bytes.Buffer
	enc, err := zstd.NewWriter(&out, zstd.WithEncoderLevel(toEncoderLevel(level)))
	if err != nil {
		return nil, false, skerrors.NewValidationError("compress", err.Error())
	}
	if _, err := enc.Write(plaintext); err != nil {
		enc.Close()
		return nil, false, skerrors.NewValidationError("compress", err.Error())
	}
	if err := enc.Close(); err != nil {
		return nil, false, skerrors.NewValidationError("compress", err.Error())
	}

	if out.Len() >= len(plaintext) {
		return plaintext, false, nil
	}
	return out.Bytes(), true, nil
}

// NewStreamWriter returns a zstd encoder writing compressed frames to w, for
// callers streaming a file too large to hold as a single buffer (the backup
// engine's per-chunk encrypt pipeline).
func NewStreamWriter(w io.Writer, level Level) (*zstd.Encoder, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(toEncoderLevel(level)))
	if err != nil {
		return nil, skerrors.NewValidationError("compress", err.Error())
	}
	return enc, nil
}

// countingWriter discards written bytes but tracks how many passed through,
// used to size a prospective zstd stream without retaining any of it.
type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// ProbeSize streams r through a zstd encoder at level, discarding the
// compressed output and returning only its size. This lets the transparency
// fallback decision (skip compression if it would not shrink the file)
// be made for files too large to buffer in either plaintext or compressed
// form.
func ProbeSize(r io.Reader, level Level) (int64, error) {
	counter := &countingWriter{}
	enc, err := NewStreamWriter(counter, level)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return 0, skerrors.NewValidationError("compress", err.Error())
	}
	if err := enc.Close(); err != nil {
		return 0, skerrors.NewValidationError("compress", err.Error())
	}
	return counter.n, nil
}

// Decompress reverses Compress's zstd framing.
func Decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, skerrors.NewValidationError("decompress", err.Error())
	}
	defer dec.Close()

	out, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, skerrors.NewValidationError("decompress", err.Error())
	}
	return out, nil
}
