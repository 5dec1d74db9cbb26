// Package source turns a camera row into a stream of decoded frames.
// It owns source selection and fallback, RTSP credential injection,
// reconnect backoff and the synthetic test pattern used when nothing
// else produces video.
package source

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrSourceExhausted is returned when every candidate in the fallback
	// chain failed to produce a frame.
	ErrSourceExhausted = errors.New("source: all candidates exhausted")

	// ErrClosed is returned from ReadFrame after Close.
	ErrClosed = errors.New("source: closed")
)

// Source yields decoded raster frames. ReadFrame blocks until the next
// frame is available or the context ends; implementations pace
// themselves (real-time decode, pattern tick), callers add their own
// rate cap on top.
type Source interface {
	// ReadFrame returns the next decoded frame.
	ReadFrame(ctx context.Context) (*image.RGBA, error)

	// Describe names the source for status rows and logs.
	Describe() string

	// Close releases the decoder. ReadFrame calls after Close fail.
	Close() error
}

// Kind of a candidate in the fallback chain.
const (
	KindPlaceholder = "placeholder"
	KindRTSP        = "rtsp"
	KindFile        = "file"
	KindDemo        = "demo"
	KindPattern     = "pattern"
)

// Candidate is one entry in a camera's ordered fallback chain.
type Candidate struct {
	Kind string
	URL  string
	// Loop replays file inputs forever instead of ending at EOF.
	Loop bool
	// Retries is how many connect attempts this candidate gets before the
	// chain moves on. Backoff between attempts is the caller's policy.
	Retries int
}
