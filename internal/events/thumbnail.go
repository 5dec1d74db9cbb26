package events

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/technosupport/ts-siteguard/internal/annotate"
	"github.com/technosupport/ts-siteguard/internal/vision"
)

const (
	// thumbPadding widens the crop around the triggering box so the
	// thumbnail carries some scene context.
	thumbPadding = 50

	// thumbMaxSide bounds the longest thumbnail edge.
	thumbMaxSide = 640
)

// Thumbnailer writes event thumbnails as <event-id>.jpg under one
// directory. Paths are content-addressable by event ID, so rewriting a
// thumbnail for the same event is idempotent.
type Thumbnailer struct {
	Dir     string
	Quality int
}

// Save crops the frame around the box, scales it down and writes the
// JPEG. Returns the stored path.
func (t *Thumbnailer) Save(eventID uuid.UUID, frame *image.RGBA, box vision.Box) (string, error) {
	if frame == nil {
		return "", fmt.Errorf("events: nil frame for thumbnail")
	}
	crop := cropAround(frame, box)

	w := crop.Bounds().Dx()
	h := crop.Bounds().Dy()
	if w > thumbMaxSide || h > thumbMaxSide {
		if w >= h {
			h = h * thumbMaxSide / w
			w = thumbMaxSide
		} else {
			w = w * thumbMaxSide / h
			h = thumbMaxSide
		}
		crop = annotate.Resize(crop, w, h)
	}

	quality := t.Quality
	if quality < 1 || quality > 100 {
		quality = 70
	}
	jpegBytes, err := annotate.EncodeJPEG(crop, quality)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(t.Dir, 0o750); err != nil {
		return "", fmt.Errorf("events: thumbnail dir: %w", err)
	}
	path := filepath.Join(t.Dir, eventID.String()+".jpg")
	if err := os.WriteFile(path, jpegBytes, 0o640); err != nil {
		return "", fmt.Errorf("events: write thumbnail: %w", err)
	}
	return path, nil
}

// cropAround pads the box and clamps the crop window to the frame.
func cropAround(frame *image.RGBA, box vision.Box) *image.RGBA {
	b := frame.Bounds()
	r := image.Rect(
		int(box.X1)-thumbPadding, int(box.Y1)-thumbPadding,
		int(box.X2)+thumbPadding, int(box.Y2)+thumbPadding,
	).Intersect(b)
	if r.Empty() {
		r = b
	}

	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		srcOff := frame.PixOffset(r.Min.X, r.Min.Y+y)
		dstOff := out.PixOffset(0, y)
		copy(out.Pix[dstOff:dstOff+r.Dx()*4], frame.Pix[srcOff:srcOff+r.Dx()*4])
	}
	return out
}
