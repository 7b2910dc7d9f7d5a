// Package probe measures round-trip latency to a network address.
package probe

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnsupportedOS   = errors.New("unsupported OS for ping")
	ErrMalformedOutput = errors.New("could not parse ping output")
	ErrNoReplies       = errors.New("no replies received")
	ErrEmptyAddress    = errors.New("empty probe address")
)

// Prober measures the average round-trip time to address in milliseconds.
// count is the number of echo requests; timeout bounds the whole measurement.
type Prober interface {
	Measure(ctx context.Context, address string, count int, timeout time.Duration) (float64, error)
}

// Func adapts a function to Prober.
type Func func(ctx context.Context, address string, count int, timeout time.Duration) (float64, error)

func (f Func) Measure(ctx context.Context, address string, count int, timeout time.Duration) (float64, error) {
	return f(ctx, address, count, timeout)
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
