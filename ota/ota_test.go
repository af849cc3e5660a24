package ota

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/sensorlink/log2"
)

func testImage(size, mod int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i % mod)
	}
	return b
}

func TestDownloadResume(t *testing.T) {
	t.Parallel()
	image := testImage(2048, 251)
	src := &MemorySource{Data: image, ChunkSize: 256, DropAfter: 768, TransientFailures: 1}
	r, err := Download(context.Background(), src, Options{MaxAttempts: 3, Log: log2.NewTest(t, log2.LDebug)})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, 1, r.Drops)
	assert.True(t, bytes.Equal(image, r.Image))
	assert.Equal(t, 1, src.Injected())
}

func TestDownloadExhausted(t *testing.T) {
	t.Parallel()
	src := &MemorySource{Data: testImage(1024, 199), ChunkSize: 128, DropAfter: 256, TransientFailures: 5}
	r, err := Download(context.Background(), src, Options{MaxAttempts: 3, Log: log2.NewTest(t, log2.LDebug)})
	require.Error(t, err)
	assert.Nil(t, r)
	require.True(t, IsExhausted(err))
	ex := errors.Cause(err).(*ExhaustedError)
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, 3, ex.Drops)
	// 256 on first attempt, one chunk on each resume
	assert.Equal(t, 256+128+128, ex.Bytes)
}

func TestDownloadNoDrops(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"small", []byte{1, 2, 3}},
		{"chunked", testImage(5000, 256)},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			src := &MemorySource{Data: c.data, ChunkSize: 1000}
			r, err := Download(context.Background(), src, Options{})
			require.NoError(t, err)
			assert.Equal(t, 1, r.Attempts)
			assert.Equal(t, 0, r.Drops)
			assert.Equal(t, c.data, r.Image)
		})
	}
}

func TestDownloadFatalError(t *testing.T) {
	t.Parallel()
	errBroken := errors.New("flash broken")
	calls := 0
	src := SourceFunc(func(ctx context.Context, start int) ([]byte, error) {
		calls++
		return nil, errBroken
	})
	_, err := Download(context.Background(), src, Options{MaxAttempts: 5})
	require.Error(t, err)
	assert.Equal(t, errBroken, errors.Cause(err))
	assert.Equal(t, 1, calls)
	assert.False(t, IsExhausted(err))
}

func TestDownloadOffsets(t *testing.T) {
	t.Parallel()
	starts := []int{}
	src := SourceFunc(func(ctx context.Context, start int) ([]byte, error) {
		starts = append(starts, start)
		if len(starts) < 3 {
			return nil, &DroppedError{Offset: start + 10, Partial: make([]byte, 10)}
		}
		return []byte{0xff}, nil
	})
	r, err := Download(context.Background(), src, Options{MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 10, 20}, starts)
	assert.Equal(t, 21, len(r.Image))
	assert.Equal(t, byte(0xff), r.Image[20])
}

func TestDownloadCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	src := SourceFunc(func(ctx context.Context, start int) ([]byte, error) {
		cancel()
		return nil, &DroppedError{Offset: start}
	})
	_, err := Download(ctx, src, Options{MaxAttempts: 10, RetryDelay: time.Hour})
	require.Error(t, err)
	assert.Equal(t, context.Canceled, errors.Cause(err))
}

func TestDownloadRetryDelay(t *testing.T) {
	t.Parallel()
	src := &MemorySource{Data: testImage(100, 7), ChunkSize: 10, DropAfter: 10, TransientFailures: 2}
	begin := time.Now()
	r, err := Download(context.Background(), src, Options{MaxAttempts: 3, RetryDelay: 5 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Attempts)
	// 5ms then 10ms, minus rounding
	assert.True(t, time.Since(begin) >= 10*time.Millisecond)
}

// serves data honoring Range, cuts body short on first `cuts` requests
func testHTTPServer(t testing.TB, data []byte, cutAt int, cuts int32) (*httptest.Server, *int32) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		start := 0
		if rh := r.Header.Get("Range"); rh != "" {
			if _, err := fmt.Sscanf(rh, "bytes=%d-", &start); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if start >= len(data) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
		}
		body := data[start:]
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if start > 0 {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		if n <= cuts && cutAt-start < len(body) {
			_, _ = w.Write(body[:cutAt-start])
			w.(http.Flusher).Flush()
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestHTTPSourceResume(t *testing.T) {
	t.Parallel()
	image := testImage(10000, 253)
	srv, requests := testHTTPServer(t, image, 4000, 1)
	src := &HTTPSource{URL: srv.URL, Client: srv.Client()}
	r, err := Download(context.Background(), src, Options{MaxAttempts: 3, Log: log2.NewTest(t, log2.LDebug)})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, 1, r.Drops)
	assert.True(t, bytes.Equal(image, r.Image))
	assert.Equal(t, int32(2), atomic.LoadInt32(requests))
}

func TestHTTPSourceStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	src := &HTTPSource{URL: srv.URL, Client: srv.Client()}
	_, err := src.Fetch(context.Background(), 0)
	require.Error(t, err)
	assert.False(t, IsDropped(err))
	assert.Contains(t, err.Error(), "404")
}

func TestHTTPSourceEnd(t *testing.T) {
	t.Parallel()
	srv, _ := testHTTPServer(t, []byte("abc"), 0, 0)
	src := &HTTPSource{URL: srv.URL, Client: srv.Client()}
	b, err := src.Fetch(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, b)
	b, err = src.Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("bc"), b)
}

func TestDownloadContextLogger(t *testing.T) {
	t.Parallel()
	lines := 0
	log := log2.NewFunc(func(format string, args ...interface{}) { lines++ }, log2.LDebug)
	ctx := context.WithValue(context.Background(), log2.ContextKey, log)
	src := &MemorySource{Data: testImage(64, 3), ChunkSize: 16, DropAfter: 16, TransientFailures: 1}
	_, err := Download(ctx, src, Options{})
	require.NoError(t, err)
	// drop info + completion debug
	assert.Equal(t, 2, lines)
}
