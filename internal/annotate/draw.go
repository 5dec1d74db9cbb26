package annotate

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorRed    = color.RGBA{220, 38, 38, 255}
	colorGreen  = color.RGBA{22, 163, 74, 255}
	colorYellow = color.RGBA{234, 179, 8, 255}
	colorWhite  = color.RGBA{255, 255, 255, 255}
	colorDim    = color.RGBA{17, 24, 39, 200}
)

const boxThickness = 2

// drawRect draws a rectangle outline clipped to the image.
func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for t := 0; t < boxThickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setPixel(img, x, r.Min.Y+t, c)
			setPixel(img, x, r.Max.Y-1-t, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setPixel(img, r.Min.X+t, y, c)
			setPixel(img, r.Max.X-1-t, y, c)
		}
	}
}

// fillRect alpha-blends a solid color over the rectangle.
func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			blendPixel(img, x, y, c)
		}
	}
}

// drawLine draws a straight segment clipped to the image.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		for t := 0; t < boxThickness; t++ {
			setPixel(img, x0+t, y0, c)
			setPixel(img, x0, y0+t, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// drawLabel renders text on a dark backing strip anchored above the
// given point, nudged inside the frame when the box touches the edge.
func drawLabel(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 6
	h := face.Metrics().Height.Ceil() + 2

	top := y - h
	if top < 0 {
		top = y
	}
	if x+w > img.Bounds().Max.X {
		x = img.Bounds().Max.X - w
	}
	if x < 0 {
		x = 0
	}

	fillRect(img, image.Rect(x, top, x+w, top+h), colorDim)
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x+3, top+h-4),
	}
	d.DrawString(text)
}

// drawCenteredLabel renders text centered on the frame.
func drawCenteredLabel(img *image.RGBA, text string, c color.RGBA) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	b := img.Bounds()
	x := b.Min.X + (b.Dx()-w)/2
	y := b.Min.Y + b.Dy()/2
	drawLabel(img, x, y, text, c)
}

// Placeholder builds a flat frame with centered text, used where a
// camera has no recent frame to show.
func Placeholder(width, height int, text string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fillRect(img, img.Bounds(), color.RGBA{31, 41, 55, 255})
	drawCenteredLabel(img, text, colorWhite)
	return img
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if !(image.Point{x, y}).In(img.Bounds()) {
		return
	}
	img.SetRGBA(x, y, c)
}

func blendPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if !(image.Point{x, y}).In(img.Bounds()) {
		return
	}
	off := img.PixOffset(x, y)
	a := uint32(c.A)
	ia := 255 - a
	img.Pix[off] = uint8((uint32(c.R)*a + uint32(img.Pix[off])*ia) / 255)
	img.Pix[off+1] = uint8((uint32(c.G)*a + uint32(img.Pix[off+1])*ia) / 255)
	img.Pix[off+2] = uint8((uint32(c.B)*a + uint32(img.Pix[off+2])*ia) / 255)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
