package synthesis

import (
	"bytes"
	"context"
	"io"
)

// Audio is either Buffered or Chunked.
type Audio interface {
	isAudio()
}

// Buffered is a complete audio payload.
type Buffered struct {
	Data []byte
}

// Chunked is a live sequence of audio chunks. The producer closes the
// channel after the last chunk; a chunk carrying Err is the final one.
type Chunked struct {
	Chunks <-chan Chunk
}

func (Buffered) isAudio() {}
func (Chunked) isAudio()  {}

type Chunk struct {
	Data []byte
	Err  error
}

// AsStream presents any Audio as a chunk sequence. Buffered audio becomes a
// single-chunk stream.
func AsStream(a Audio) <-chan Chunk {
	switch v := a.(type) {
	case Chunked:
		return v.Chunks
	case Buffered:
		ch := make(chan Chunk, 1)
		ch <- Chunk{Data: v.Data}
		close(ch)
		return ch
	default:
		ch := make(chan Chunk)
		close(ch)
		return ch
	}
}

// Drain collects any Audio into a single buffer.
func Drain(ctx context.Context, a Audio) ([]byte, error) {
	if b, ok := a.(Buffered); ok {
		return b.Data, nil
	}
	var buf bytes.Buffer
	chunks := AsStream(a)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				return buf.Bytes(), nil
			}
			if c.Err != nil {
				return nil, c.Err
			}
			buf.Write(c.Data)
		}
	}
}

// Reader adapts any Audio into an io.Reader. A chunk error surfaces as the
// reader's error.
func Reader(a Audio) io.Reader {
	if b, ok := a.(Buffered); ok {
		return bytes.NewReader(b.Data)
	}
	return &chunkReader{chunks: AsStream(a)}
}

type chunkReader struct {
	chunks <-chan Chunk
	cur    []byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		c, ok := <-r.chunks
		if !ok {
			r.err = io.EOF
			continue
		}
		if c.Err != nil {
			r.err = c.Err
			continue
		}
		r.cur = c.Data
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}
