package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultPartSize    = 5 * 1024 * 1024
	DefaultConcurrency = 4
)

type CompletedPart struct {
	Number int32
	ETag   string
}

// PartUploader is the backend side of a multipart upload.
type PartUploader interface {
	PutObject(ctx context.Context, key string, data []byte, opts UploadOptions) error
	CreateMultipart(ctx context.Context, key string, opts UploadOptions) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, number int32, data []byte) (etag string, err error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipart(ctx context.Context, key, uploadID string) error
}

// Multipart splits a stream into PartSize parts and keeps at most
// Concurrency of them in flight. Peak memory is about
// PartSize*(Concurrency+1).
type Multipart struct {
	PartSize    int
	Concurrency int
}

func (m Multipart) withDefaults() Multipart {
	if m.PartSize <= 0 {
		m.PartSize = DefaultPartSize
	}
	if m.Concurrency <= 0 {
		m.Concurrency = DefaultConcurrency
	}
	return m
}

// Upload streams r to key. A payload that fits in one part is written with a
// single PutObject.
func (m Multipart) Upload(ctx context.Context, b PartUploader, key string, r io.Reader, opts UploadOptions) error {
	m = m.withDefaults()

	first, last, err := readPart(r, m.PartSize)
	if err != nil {
		return fmt.Errorf("read part 1: %w", err)
	}
	if last {
		return b.PutObject(ctx, key, first, opts)
	}

	uploadID, err := b.CreateMultipart(ctx, key, opts)
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}

	var (
		mu    sync.Mutex
		parts []CompletedPart
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.Concurrency)

	var readErr error
	data := first
	for number := int32(1); ; number++ {
		part, n := data, number
		g.Go(func() error {
			etag, err := b.UploadPart(gctx, key, uploadID, n, part)
			if err != nil {
				return fmt.Errorf("upload part %d: %w", n, err)
			}
			mu.Lock()
			parts = append(parts, CompletedPart{Number: n, ETag: etag})
			mu.Unlock()
			return nil
		})
		if last || gctx.Err() != nil {
			break
		}
		data, last, readErr = readPart(r, m.PartSize)
		if readErr != nil {
			readErr = fmt.Errorf("read part %d: %w", number+1, readErr)
			break
		}
		if len(data) == 0 {
			break
		}
	}

	if err := errors.Join(g.Wait(), readErr); err != nil {
		if aerr := b.AbortMultipart(context.WithoutCancel(ctx), key, uploadID); aerr != nil {
			slog.Warn("abort multipart upload failed", "key", key, "upload_id", uploadID, "error", aerr)
		}
		return err
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	if err := b.CompleteMultipart(ctx, key, uploadID, parts); err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}

// readPart fills one part. last reports that the stream ended inside it.
func readPart(r io.Reader, size int) (data []byte, last bool, err error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(r, buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], true, nil
	case err != nil:
		return nil, false, err
	}
	return buf[:n], false, nil
}
