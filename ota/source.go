package ota

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/juju/errors"
)

// MemorySource serves Data in ChunkSize steps and injects up to
// TransientFailures drops once delivery reaches DropAfter.
type MemorySource struct {
	Data              []byte
	ChunkSize         int
	DropAfter         int // <=0 disables drops
	TransientFailures int

	mu       sync.Mutex
	injected int
}

func (self *MemorySource) Fetch(ctx context.Context, start int) ([]byte, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if start < 0 || start > len(self.Data) {
		return nil, errors.NotValidf("start=%d size=%d", start, len(self.Data))
	}
	chunk := self.ChunkSize
	if chunk <= 0 {
		chunk = 1024
	}
	out := make([]byte, 0, len(self.Data)-start)
	for offset := start; offset < len(self.Data); {
		end := offset + chunk
		if end > len(self.Data) {
			end = len(self.Data)
		}
		out = append(out, self.Data[offset:end]...)
		offset = end
		if self.DropAfter > 0 && offset >= self.DropAfter && self.injected < self.TransientFailures {
			self.injected++
			return nil, &DroppedError{Offset: offset, Partial: out}
		}
	}
	return out, nil
}

// Injected returns number of drops produced so far.
func (self *MemorySource) Injected() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.injected
}

// HTTPSource fetches image with HTTP Range requests.
// Body read failure after response headers is reported as a drop with bytes read so far.
type HTTPSource struct {
	URL    string
	Client *http.Client
	Header http.Header
}

func (self *HTTPSource) Fetch(ctx context.Context, start int) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, self.URL, nil)
	if err != nil {
		return nil, errors.Annotate(err, "ota http")
	}
	req = req.WithContext(ctx)
	for k, vs := range self.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if start > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}
	client := self.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// no bytes received, still transient
		return nil, &DroppedError{Offset: start, Partial: nil}
	}
	defer resp.Body.Close()

	skip := 0
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// server ignored Range
		skip = start
	case http.StatusRequestedRangeNotSatisfiable:
		return []byte{}, nil
	default:
		return nil, errors.Errorf("ota http status=%s", resp.Status)
	}
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, int64(skip)); err != nil {
			return nil, &DroppedError{Offset: start, Partial: nil}
		}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &DroppedError{Offset: start + len(b), Partial: b}
	}
	return b, nil
}
