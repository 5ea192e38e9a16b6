package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const contentTypeHeader = "Content-Type"

// NATSStore keeps audio in a JetStream object store bucket. NATS splits
// objects into chunks itself, so streamed uploads never hold the full
// payload. Objects are served back through Open.
type NATSStore struct {
	store   nats.ObjectStore
	bucket  string
	baseURL string
}

var (
	_ Store  = (*NATSStore)(nil)
	_ Reader = (*NATSStore)(nil)
)

// NewNATSStore creates the bucket, or binds to it when it already exists.
func NewNATSStore(js nats.JetStreamContext, bucket, publicBaseURL string) (*NATSStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("Synthesized audio for the %s bucket.", bucket),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) && !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("create object store bucket %q: %w", bucket, err)
		}
		store, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("bind object store bucket %q: %w", bucket, err)
		}
	}

	return &NATSStore{store: store, bucket: bucket, baseURL: publicBaseURL}, nil
}

func (n *NATSStore) UploadBuffer(ctx context.Context, key string, data []byte, opts UploadOptions) (string, error) {
	return n.UploadStream(ctx, key, bytes.NewReader(data), opts)
}

func (n *NATSStore) UploadStream(ctx context.Context, key string, r io.Reader, opts UploadOptions) (string, error) {
	meta := &nats.ObjectMeta{
		Name:     key,
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		meta.Headers = nats.Header{contentTypeHeader: []string{opts.ContentType}}
	}

	if _, err := n.store.Put(meta, r, nats.Context(ctx)); err != nil {
		return "", &Error{Op: "put", Key: key, Err: err}
	}
	return n.PublicURL(key), nil
}

func (n *NATSStore) Delete(_ context.Context, key string) {
	if err := n.store.Delete(key); err != nil {
		slog.Warn("storage delete failed", "bucket", n.bucket, "key", key, "error", err)
	}
}

func (n *NATSStore) PublicURL(key string) string {
	return joinURL(n.baseURL, key)
}

func (n *NATSStore) Open(ctx context.Context, key string) (*Object, error) {
	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, &Error{Op: "get", Key: key, Err: err}
	}

	info, err := obj.Info()
	if err != nil {
		obj.Close()
		return nil, &Error{Op: "info", Key: key, Err: err}
	}

	o := &Object{Body: obj, Size: int64(info.Size)}
	if info.Headers != nil {
		o.ContentType = info.Headers.Get(contentTypeHeader)
	}
	return o, nil
}
