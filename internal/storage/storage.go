// Package storage persists synthesized audio and hands back publicly
// fetchable URLs.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/nikhilbhutani/voicecast/internal/models"
)

const hashPrefixLen = 16

var ErrNotFound = errors.New("object not found")

type UploadOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Store is an object store for immutable audio objects.
type Store interface {
	UploadBuffer(ctx context.Context, key string, data []byte, opts UploadOptions) (string, error)
	// UploadStream uploads r in fixed-size parts with bounded parallelism, so
	// memory use does not grow with the payload.
	UploadStream(ctx context.Context, key string, r io.Reader, opts UploadOptions) (string, error)
	// Delete is best-effort: failures are logged, never returned.
	Delete(ctx context.Context, key string)
	PublicURL(key string) string
}

// Object is an open stored object.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Reader is implemented by stores that can serve their objects back, for
// deployments where the service itself hosts the public URLs.
type Reader interface {
	Open(ctx context.Context, key string) (*Object, error)
}

// Error reports a failed storage operation.
type Error struct {
	Op         string
	Key        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	var sc interface{ HTTPStatusCode() int }
	if errors.As(e.Err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}

// ObjectKey builds tts/{voiceID}/{unixMillis}-{textHashPrefix}.{ext}. The
// timestamp keeps keys unique across concurrent requests for the same text.
func ObjectKey(voiceID, text string, format models.Format, now time.Time) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("tts/%s/%d-%s.%s",
		voiceID,
		now.UnixMilli(),
		hex.EncodeToString(sum[:])[:hashPrefixLen],
		format.Extension(),
	)
}

func joinURL(base, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}
