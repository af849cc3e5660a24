// Package ota downloads firmware images over unreliable links,
// resuming from the last received byte after each drop.
package ota

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/sensorlink/helpers"
	"github.com/temoto/sensorlink/log2"
)

const DefaultMaxAttempts = 3

// Source returns image bytes starting at offset start.
// Transient link loss must be reported as *DroppedError.
type Source interface {
	Fetch(ctx context.Context, start int) ([]byte, error)
}

type SourceFunc func(ctx context.Context, start int) ([]byte, error)

func (f SourceFunc) Fetch(ctx context.Context, start int) ([]byte, error) { return f(ctx, start) }

type DroppedError struct {
	Offset  int
	Partial []byte
}

func (e *DroppedError) Error() string {
	return fmt.Sprintf("ota link dropped at offset %d", e.Offset)
}

type ExhaustedError struct {
	Attempts int
	Drops    int
	Bytes    int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("ota failed after %d attempts (drops=%d received=%d)", e.Attempts, e.Drops, e.Bytes)
}

func IsDropped(err error) bool {
	_, ok := errors.Cause(err).(*DroppedError)
	return ok
}

func IsExhausted(err error) bool {
	_, ok := errors.Cause(err).(*ExhaustedError)
	return ok
}

type Options struct {
	MaxAttempts   int           // default DefaultMaxAttempts
	RetryDelay    time.Duration // zero disables delay between attempts
	MaxRetryDelay time.Duration // default 10*RetryDelay
	Log           *log2.Log
}

type Result struct {
	Image    []byte
	Attempts int
	Drops    int
}

// Download fetches whole image from src. Attempts run strictly one after another.
// After a drop, partial bytes are kept and next attempt starts at len(image).
func Download(ctx context.Context, src Source, opt Options) (*Result, error) {
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = DefaultMaxAttempts
	}
	if opt.Log == nil {
		opt.Log = log2.ContextValueLogger(ctx)
	}
	backoff := helpers.Backoff{
		Min: opt.RetryDelay,
		Max: opt.MaxRetryDelay,
		K:   2,
	}
	if backoff.Max == 0 {
		backoff.Max = 10 * opt.RetryDelay
	}

	r := &Result{}
	buf := make([]byte, 0)
	for r.Attempts < opt.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, errors.Annotatef(err, "ota offset=%d", len(buf))
		}
		r.Attempts++
		offset := len(buf)
		b, err := src.Fetch(ctx, offset)
		if err == nil {
			r.Image = append(buf, b...)
			opt.Log.Debugf("ota complete size=%d attempts=%d drops=%d", len(r.Image), r.Attempts, r.Drops)
			return r, nil
		}
		drop, ok := errors.Cause(err).(*DroppedError)
		if !ok {
			return nil, errors.Annotatef(err, "ota fetch offset=%d", offset)
		}
		buf = append(buf, drop.Partial...)
		r.Drops++
		opt.Log.Infof("ota attempt=%d dropped at=%d received=%d", r.Attempts, drop.Offset, len(buf))

		if opt.RetryDelay > 0 && r.Attempts < opt.MaxAttempts {
			backoff.Failure()
			if err := backoff.Wait(ctx); err != nil {
				return nil, errors.Annotatef(err, "ota retry offset=%d", len(buf))
			}
		}
	}
	return nil, &ExhaustedError{Attempts: r.Attempts, Drops: r.Drops, Bytes: len(buf)}
}
