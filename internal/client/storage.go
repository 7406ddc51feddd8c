package client

import (
	"context"
	"io"
	"sync"
)

// ProgressFunc receives cumulative bytes transferred and the total size
type ProgressFunc func(transferred, total int64)

// PutInput describes one object upload
type PutInput struct {
	Key         string
	Body        io.ReadSeeker
	Size        int64
	ContentType string
	OnProgress  ProgressFunc
}

// ObjectStorage defines the interface for remote object storage operations
type ObjectStorage interface {
	// Put uploads the body under key, overwriting any existing object, and
	// returns a publicly fetchable URL.
	Put(ctx context.Context, in PutInput) (string, error)
	Delete(ctx context.Context, key string) error
	GetPublicURL(key string) string
}

// progressReader reports cumulative reads. Seeking back to the start resets
// the count so SDK retries and checksum passes do not overshoot.
type progressReader struct {
	r          io.ReadSeeker
	total      int64
	onProgress ProgressFunc

	mu      sync.Mutex
	read    int64
	highest int64
}

func newProgressReader(r io.ReadSeeker, total int64, fn ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, onProgress: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		report := p.read > p.highest
		if report {
			p.highest = p.read
		}
		cur := p.read
		p.mu.Unlock()
		if report && p.onProgress != nil {
			p.onProgress(cur, p.total)
		}
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.r.Seek(offset, whence)
	if err == nil {
		p.mu.Lock()
		p.read = pos
		p.mu.Unlock()
	}
	return pos, err
}
