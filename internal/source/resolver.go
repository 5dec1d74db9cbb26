package source

import (
	"context"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/technosupport/ts-siteguard/internal/crypto"
	"github.com/technosupport/ts-siteguard/internal/data"
)

// connectProbeTimeout caps one open-plus-first-frame attempt.
const connectProbeTimeout = 60 * time.Second

// Opener starts a decoder for one candidate. Swapped out in tests.
type Opener func(ctx context.Context, c Candidate, width, height int) (Source, error)

// Resolver builds and walks the fallback chain for a camera:
// placeholder video, the RTSP stream with injected credentials, the
// file input, the demo video, and finally the synthetic test pattern.
type Resolver struct {
	Cipher     *crypto.CredentialCipher
	DemoURL    string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// ProbeTimeout overrides connectProbeTimeout when positive.
	ProbeTimeout time.Duration

	// Open defaults to OpenFFmpeg.
	Open Opener
}

// Candidates returns the ordered fallback chain for a camera. Problems
// assembling a candidate (a credential blob that fails to open) drop it
// from the chain and come back as notes so the caller can surface them.
func (r *Resolver) Candidates(cam *data.Camera) ([]Candidate, []string) {
	var chain []Candidate
	var notes []string

	if cam.UsePlaceholder && cam.PlaceholderVideo != "" {
		chain = append(chain, Candidate{Kind: KindPlaceholder, URL: cam.PlaceholderVideo, Loop: true, Retries: 1})
	} else {
		if cam.SourceKind == data.SourceRTSP && cam.RTSPURL != "" {
			connectURL, err := r.rtspURL(cam)
			if err != nil {
				notes = append(notes, err.Error())
			} else {
				chain = append(chain, Candidate{Kind: KindRTSP, URL: connectURL, Retries: r.MaxRetries})
			}
		}
		if cam.SourceKind == data.SourceFile && cam.PlaceholderVideo != "" {
			chain = append(chain, Candidate{Kind: KindFile, URL: cam.PlaceholderVideo, Loop: true, Retries: 1})
		}
	}

	if r.DemoURL != "" {
		chain = append(chain, Candidate{Kind: KindDemo, URL: r.DemoURL, Loop: true, Retries: 1})
	}
	chain = append(chain, Candidate{Kind: KindPattern, Retries: 1})
	return chain, notes
}

func (r *Resolver) rtspURL(cam *data.Camera) (string, error) {
	var username, password string
	if cam.CredentialsEnc != "" {
		if r.Cipher == nil {
			return "", fmt.Errorf("source: camera %s has credentials but no cipher is configured", cam.ID)
		}
		plain, err := r.Cipher.Open(cam.CredentialsEnc, cam.ID.String())
		if err != nil {
			return "", fmt.Errorf("source: decrypt credentials for camera %s: %w", cam.ID, err)
		}
		username, password = SplitCredentials(plain)
	}
	return BuildRTSPURL(cam.RTSPURL, username, password)
}

// Connect walks the chain until a candidate yields its first frame.
// RTSP candidates get the full retry budget with exponential backoff;
// everything else gets one attempt. The pattern source terminates the
// chain, so the only error here is context cancellation. The returned
// notes describe every candidate that was skipped or failed on the way.
func (r *Resolver) Connect(ctx context.Context, cam *data.Camera, width, height int) (Source, *image.RGBA, []string, error) {
	open := r.Open
	if open == nil {
		open = func(ctx context.Context, c Candidate, w, h int) (Source, error) {
			if c.Kind == KindPattern {
				return NewTestPattern(w, h), nil
			}
			return OpenFFmpeg(ctx, c, w, h)
		}
	}

	chain, notes := r.Candidates(cam)
	for _, cand := range chain {
		retries := cand.Retries
		if retries < 1 {
			retries = 1
		}
		for attempt := 0; attempt < retries; attempt++ {
			if attempt > 0 {
				delay := backoffDelay(r.BaseDelay, r.MaxDelay, attempt)
				log.Printf("[Source] camera %s: %s attempt %d/%d in %s", cam.ID, cand.Kind, attempt+1, retries, delay)
				if err := sleepCtx(ctx, delay); err != nil {
					return nil, nil, notes, err
				}
			}

			src, frame, err := r.tryCandidate(ctx, open, cand, width, height)
			if err == nil {
				return src, frame, notes, nil
			}
			if ctx.Err() != nil {
				return nil, nil, notes, ctx.Err()
			}
			notes = append(notes, fmt.Sprintf("%s: %v", cand.Kind, err))
		}
	}
	return nil, nil, notes, ErrSourceExhausted
}

// tryCandidate opens a candidate and demands one frame inside the probe
// timeout. A connect only counts once video actually arrives. The read
// runs in its own goroutine: a decoder that stalls without honoring the
// context is killed via Close when the deadline passes, which unblocks
// the pending read.
func (r *Resolver) tryCandidate(ctx context.Context, open Opener, c Candidate, width, height int) (Source, *image.RGBA, error) {
	src, err := open(ctx, c, width, height)
	if err != nil {
		return nil, nil, err
	}

	timeout := r.ProbeTimeout
	if timeout <= 0 {
		timeout = connectProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type probeResult struct {
		frame *image.RGBA
		err   error
	}
	done := make(chan probeResult, 1)
	go func() {
		frame, err := src.ReadFrame(probeCtx)
		done <- probeResult{frame, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			src.Close()
			return nil, nil, fmt.Errorf("first frame: %w", res.err)
		}
		return src, res.frame, nil
	case <-probeCtx.Done():
		src.Close()
		<-done
		return nil, nil, fmt.Errorf("first frame: %w", probeCtx.Err())
	}
}

// backoffDelay is min(base * 2^(attempt-1), max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
