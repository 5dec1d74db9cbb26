// Package annotate renders detection results onto frames: PPE
// compliance boxes, restricted-zone overlays, and the informational
// banners shown when inference is off. It also carries the shared
// resize and JPEG helpers used across the pipeline.
package annotate

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-siteguard/internal/data"
	"github.com/technosupport/ts-siteguard/internal/vision"
)

// Options select what gets drawn for one camera.
type Options struct {
	Mode             string
	Zone             []vision.Point
	InferenceEnabled bool
}

// zone overlays are pure functions of (size, polygon); cache them so
// the fill is not recomputed every frame.
var overlayCache, _ = lru.New[string, *image.RGBA](64)

var zoneFill = color.RGBA{239, 68, 68, 60}

// Render draws detections onto the frame in place. With inference
// disabled it draws only the banner; detections are expected empty.
func (o Options) Render(img *image.RGBA, dets []vision.Detection) {
	if !o.InferenceEnabled {
		drawCenteredLabel(img, "AI Disabled", colorYellow)
		return
	}

	switch o.Mode {
	case data.ModeZoneOnly:
		o.renderZone(img, dets)
	case data.ModeBoth:
		o.renderZone(img, dets)
		renderPPE(img, dets)
	default:
		renderPPE(img, dets)
	}
}

// renderPPE draws each person red when violating, green when fully
// compliant and yellow when no PPE evidence paired at all.
func renderPPE(img *image.RGBA, dets []vision.Detection) {
	for _, p := range vision.AssessPPE(dets) {
		c := colorYellow
		label := "Person ?"
		switch {
		case p.NoHardhat || p.NoVest:
			c = colorRed
			label = "Person " + strings.Join(p.Violations(), ",")
		case p.HasHardhat && p.HasVest:
			c = colorGreen
			label = "Person OK"
		}
		r := boxRect(p.Person.Box)
		drawRect(img, r, c)
		drawLabel(img, r.Min.X, r.Min.Y, label, c)
	}
}

// renderZone fills the restricted polygon and flags persons whose
// centroid falls inside it.
func (o Options) renderZone(img *image.RGBA, dets []vision.Detection) {
	if len(o.Zone) >= 3 {
		drawZoneOverlay(img, o.Zone)
	}

	for _, d := range dets {
		if d.ClassID != vision.ClassPerson {
			continue
		}
		cx, cy := d.Box.Centroid()
		r := boxRect(d.Box)
		if vision.PointInPolygon(cx, cy, o.Zone) {
			drawRect(img, r, colorRed)
			drawLabel(img, r.Min.X, r.Min.Y, "VIOLATION", colorRed)
		} else {
			drawRect(img, r, colorGreen)
			drawLabel(img, r.Min.X, r.Min.Y, "OK", colorGreen)
		}
	}
}

func drawZoneOverlay(img *image.RGBA, zone []vision.Point) {
	b := img.Bounds()
	mask := zoneOverlay(b.Dx(), b.Dy(), zone)

	// Blend the cached translucent fill, then the outline on top.
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			off := mask.PixOffset(x-b.Min.X, y-b.Min.Y)
			if mask.Pix[off+3] != 0 {
				blendPixel(img, x, y, zoneFill)
			}
		}
	}
	for i := range zone {
		a := zone[i]
		bb := zone[(i+1)%len(zone)]
		drawLine(img, int(a.X), int(a.Y), int(bb.X), int(bb.Y), colorRed)
	}
}

// zoneOverlay returns the filled polygon mask for a frame size, cached
// by (size, polygon).
func zoneOverlay(w, h int, zone []vision.Point) *image.RGBA {
	key := overlayKey(w, h, zone)
	if cached, ok := overlayCache.Get(key); ok {
		return cached
	}

	mask := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if vision.PointInPolygon(float64(x), float64(y), zone) {
				mask.Pix[mask.PixOffset(x, y)+3] = 0xff
			}
		}
	}
	overlayCache.Add(key, mask)
	return mask
}

func overlayKey(w, h int, zone []vision.Point) string {
	hash := fnv.New64a()
	for _, p := range zone {
		fmt.Fprintf(hash, "%.1f,%.1f;", p.X, p.Y)
	}
	return fmt.Sprintf("%dx%d:%x", w, h, hash.Sum64())
}

func boxRect(b vision.Box) image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}
