package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TestPatternSource synthesizes frames when no real input is available.
// It emits a moving gradient with a DEMO MODE banner and a frame
// counter at one frame per second, which is enough to light up every
// downstream stage without pretending to be real video.
type TestPatternSource struct {
	width  int
	height int

	mu      sync.Mutex
	counter uint64
	next    time.Time
	closed  bool
}

// NewTestPattern builds a pattern source at the given frame size.
func NewTestPattern(width, height int) *TestPatternSource {
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 240
	}
	return &TestPatternSource{width: width, height: height}
}

// ReadFrame paces itself to 1 Hz.
func (s *TestPatternSource) ReadFrame(ctx context.Context) (*image.RGBA, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	wait := time.Until(s.next)
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.counter++
	s.next = time.Now().Add(time.Second)
	return s.render(s.counter), nil
}

func (s *TestPatternSource) render(n uint64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	shift := int(n * 4)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			off := img.PixOffset(x, y)
			img.Pix[off] = uint8((x + shift) * 255 / s.width)
			img.Pix[off+1] = uint8(y * 255 / s.height)
			img.Pix[off+2] = 96
			img.Pix[off+3] = 0xff
		}
	}

	drawText(img, s.width/2-38, s.height/2, "DEMO MODE", color.White)
	drawText(img, 8, s.height-10, fmt.Sprintf("frame %d", n), color.White)
	return img
}

func (s *TestPatternSource) Describe() string {
	return "pattern:demo"
}

func (s *TestPatternSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func drawText(img *image.RGBA, x, y int, text string, c color.Color) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
