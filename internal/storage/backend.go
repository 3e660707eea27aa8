// Package storage defines the narrow capability interface transport
// implementations must satisfy, plus a retrying, circuit-breaking
// wrapper and a local-filesystem reference backend.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectMeta describes one stored object.
type ObjectMeta struct {
	RemotePath   string
	Size         int64
	LastModified time.Time
	ETag         string
}

// Options carries the provider-agnostic knobs the core recognizes.
type Options struct {
	MultipartThreshold   int64
	MultipartPartSize    int64
	ServerSideEncryption string
	ContentType          string
}

// Backend is the capability trait every storage transport must implement.
type Backend interface {
	Upload(ctx context.Context, remotePath string, r io.Reader, sizeHint int64, opts Options) (etag string, err error)
	Download(ctx context.Context, remotePath string, w io.Writer, opts Options) error
	Exists(ctx context.Context, remotePath string) (bool, error)
	Delete(ctx context.Context, remotePath string) error
	List(ctx context.Context, prefix string, recursive bool) ([]ObjectMeta, error)
	Metadata(ctx context.Context, remotePath string) (ObjectMeta, error)
}

// Copier is an optional capability; backends without a native copy
// operation fall back to Download-then-Upload through CopyFallback.
type Copier interface {
	Copy(ctx context.Context, src, dst string) error
}

// CopyFallback emulates Copy for backends that don't implement Copier.
func CopyFallback(ctx context.Context, b Backend, src, dst string) error {
	if c, ok := b.(Copier); ok {
		return c.Copy(ctx, src, dst)
	}

	pr, pw := io.Pipe()
	downloadErr := make(chan error, 1)
	go func() {
		downloadErr <- b.Download(ctx, src, pw, Options{})
		pw.Close()
	}()
	_, uploadErr := b.Upload(ctx, dst, pr, -1, Options{})
	if err := <-downloadErr; err != nil {
		return err
	}
	return uploadErr
}
