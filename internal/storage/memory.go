package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"sync"

	"github.com/google/uuid"
)

type memoryObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

type memoryUpload struct {
	key   string
	opts  UploadOptions
	parts map[int32][]byte
}

// MemoryStore keeps objects in process. It backs local runs and tests and
// serves its objects through Open.
type MemoryStore struct {
	mu        sync.Mutex
	objects   map[string]memoryObject
	uploads   map[string]*memoryUpload
	baseURL   string
	multipart Multipart
}

var (
	_ Store        = (*MemoryStore)(nil)
	_ Reader       = (*MemoryStore)(nil)
	_ PartUploader = (*MemoryStore)(nil)
)

func NewMemoryStore(publicBaseURL string, mp Multipart) *MemoryStore {
	return &MemoryStore{
		objects:   make(map[string]memoryObject),
		uploads:   make(map[string]*memoryUpload),
		baseURL:   publicBaseURL,
		multipart: mp,
	}
}

func (m *MemoryStore) UploadBuffer(ctx context.Context, key string, data []byte, opts UploadOptions) (string, error) {
	if err := m.PutObject(ctx, key, data, opts); err != nil {
		return "", err
	}
	return m.PublicURL(key), nil
}

func (m *MemoryStore) UploadStream(ctx context.Context, key string, r io.Reader, opts UploadOptions) (string, error) {
	if err := m.multipart.Upload(ctx, m, key, r, opts); err != nil {
		return "", &Error{Op: "upload", Key: key, Err: err}
	}
	return m.PublicURL(key), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
}

func (m *MemoryStore) PublicURL(key string) string {
	return joinURL(m.baseURL, key)
}

func (m *MemoryStore) Open(_ context.Context, key string) (*Object, error) {
	m.mu.Lock()
	obj, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: obj.contentType,
		Size:        int64(len(obj.data)),
	}, nil
}

// Len reports the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func (m *MemoryStore) PutObject(ctx context.Context, key string, data []byte, opts UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	m.mu.Lock()
	m.objects[key] = memoryObject{
		data:        bytes.Clone(data),
		contentType: opts.ContentType,
		metadata:    maps.Clone(opts.Metadata),
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CreateMultipart(_ context.Context, key string, opts UploadOptions) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	m.uploads[id] = &memoryUpload{key: key, opts: opts, parts: make(map[int32][]byte)}
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryStore) UploadPart(ctx context.Context, key, uploadID string, number int32, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return "", fmt.Errorf("%w: upload %s", ErrNotFound, uploadID)
	}
	up.parts[number] = bytes.Clone(data)
	return fmt.Sprintf("%s-%d", uploadID, number), nil
}

func (m *MemoryStore) CompleteMultipart(_ context.Context, key, uploadID string, parts []CompletedPart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return fmt.Errorf("%w: upload %s", ErrNotFound, uploadID)
	}
	var buf bytes.Buffer
	for _, p := range parts {
		data, ok := up.parts[p.Number]
		if !ok {
			return fmt.Errorf("missing part %d", p.Number)
		}
		buf.Write(data)
	}
	m.objects[key] = memoryObject{
		data:        buf.Bytes(),
		contentType: up.opts.ContentType,
		metadata:    maps.Clone(up.opts.Metadata),
	}
	delete(m.uploads, uploadID)
	return nil
}

func (m *MemoryStore) AbortMultipart(_ context.Context, _, uploadID string) error {
	m.mu.Lock()
	delete(m.uploads, uploadID)
	m.mu.Unlock()
	return nil
}
